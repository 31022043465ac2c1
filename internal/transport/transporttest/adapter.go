// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"sync"
	"time"

	kit "giftbot/internal/transport"
)

// Sent is one message recorded by Adapter.
type Sent struct {
	To   kit.ChatTarget
	Text string
	Opt  kit.SendOptions
	Ref  kit.MessageRef
}

type Edit struct {
	Ref  kit.MessageRef
	Text string
	Opt  kit.SendOptions
}

// Adapter records outgoing calls. Fail, when set, makes SendText return
// its error for the matching chat.
type Adapter struct {
	mu       sync.Mutex
	sent     []Sent
	edits    []Edit
	answers  map[string]string
	menus    map[int64][]kit.BotCommand
	nextID   int
	changed  chan struct{}
	FailChat map[int64]error
}

func New() *Adapter {
	return &Adapter{
		answers:  map[string]string{},
		menus:    map[int64][]kit.BotCommand{},
		changed:  make(chan struct{}, 1),
		FailChat: map[int64]error{},
	}
}

func (a *Adapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *Adapter) Stop(context.Context) error                    { return nil }

func (a *Adapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.notify()
	defer a.mu.Unlock()
	if err := a.FailChat[to.ChatID]; err != nil {
		return kit.MessageRef{}, err
	}
	a.nextID++
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: a.nextID}
	s := Sent{To: to, Text: text, Ref: ref}
	if opt != nil {
		s.Opt = *opt
	}
	a.sent = append(a.sent, s)
	return ref, nil
}

func (a *Adapter) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	a.mu.Lock()
	defer a.notify()
	defer a.mu.Unlock()
	e := Edit{Ref: ref, Text: text}
	if opt != nil {
		e.Opt = *opt
	}
	a.edits = append(a.edits, e)
	return nil
}

func (a *Adapter) AnswerCallback(_ context.Context, id, text string) error {
	a.mu.Lock()
	a.answers[id] = text
	a.mu.Unlock()
	return nil
}

func (a *Adapter) UpdateMenuCommands(_ context.Context, chatID int64, cmds []kit.BotCommand) error {
	a.mu.Lock()
	a.menus[chatID] = append([]kit.BotCommand(nil), cmds...)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) notify() {
	select {
	case a.changed <- struct{}{}:
	default:
	}
}

// Sent returns a copy of every message sent so far.
func (a *Adapter) Sent() []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sent(nil), a.sent...)
}

// SentTo returns the texts sent to chatID, in order.
func (a *Adapter) SentTo(chatID int64) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, s := range a.sent {
		if s.To.ChatID == chatID {
			out = append(out, s.Text)
		}
	}
	return out
}

// Last returns the last message sent to chatID.
func (a *Adapter) Last(chatID int64) (Sent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.sent) - 1; i >= 0; i-- {
		if a.sent[i].To.ChatID == chatID {
			return a.sent[i], true
		}
	}
	return Sent{}, false
}

func (a *Adapter) Edits() []Edit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Edit(nil), a.edits...)
}

func (a *Adapter) Answer(id string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.answers[id]
	return s, ok
}

func (a *Adapter) Menu(chatID int64) ([]kit.BotCommand, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.menus[chatID]
	return m, ok
}

func (a *Adapter) Reset() {
	a.mu.Lock()
	a.sent, a.edits = nil, nil
	a.mu.Unlock()
}

// WaitSent blocks until at least n messages went to chatID or d elapses.
func (a *Adapter) WaitSent(chatID int64, n int, d time.Duration) []string {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	for {
		if got := a.SentTo(chatID); len(got) >= n {
			return got
		}
		select {
		case <-a.changed:
		case <-deadline.C:
			return a.SentTo(chatID)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
