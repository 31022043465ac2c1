package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestPublishDropsForFullSubscriber(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	unsub()

	got := []string{}
	for e := range ch {
		got = append(got, e.Type)
		if e.Time.IsZero() {
			t.Fatalf("Publish did not stamp time")
		}
	}
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("got %v", got)
	}
	unsub()
	b.Publish(Event{Type: "after"})
}

func TestRecorderKeepsNewest(t *testing.T) {
	t.Parallel()

	b := New()
	r := NewRecorder(2)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, b)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for _, typ := range []string{"one", "two", "three"} {
		b.Publish(Event{Type: typ})
	}
	for len(r.Recent(0)) < 2 || r.Recent(1)[0].Type != "three" {
		if time.Now().After(deadline) {
			t.Fatalf("recorder got %+v", r.Recent(0))
		}
		// Subscription may not be registered before the first publishes.
		b.Publish(Event{Type: "three"})
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	got := r.Recent(0)
	if len(got) != 2 || got[0].Type != "three" {
		t.Fatalf("Recent = %+v", got)
	}
}
