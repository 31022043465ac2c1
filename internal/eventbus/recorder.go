package eventbus

import (
	"context"
	"sync"
)

// Recorder keeps the most recent events from a bus.
type Recorder struct {
	mu   sync.Mutex
	max  int
	ring []Event
}

func NewRecorder(max int) *Recorder {
	if max <= 0 {
		max = 200
	}
	return &Recorder{max: max}
}

// Run records events until ctx ends or the subscription closes.
func (r *Recorder) Run(ctx context.Context, bus Bus) {
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			r.add(e)
		}
	}
}

func (r *Recorder) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring = append(r.ring, e)
	if len(r.ring) > r.max {
		r.ring = r.ring[len(r.ring)-r.max:]
	}
}

// Recent returns up to n events, newest first. n <= 0 returns all.
func (r *Recorder) Recent(n int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.ring) {
		n = len(r.ring)
	}
	out := make([]Event, 0, n)
	for i := len(r.ring) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.ring[i])
	}
	return out
}
