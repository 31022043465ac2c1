package opsapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"giftbot/internal/eventbus"
	"giftbot/internal/notifier"
	"giftbot/internal/participant"
	"giftbot/internal/reminder"
	"giftbot/internal/storage"
	logx "giftbot/pkg/logx"
)

type fakeScheduler struct {
	jobs []reminder.Job
	snap reminder.Snapshot
}

func (f fakeScheduler) ListPending() []reminder.Job { return f.jobs }
func (f fakeScheduler) Snapshot() reminder.Snapshot { return f.snap }

type downStore struct{ *storage.Memory }

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

var at = time.Date(2026, 1, 3, 12, 0, 0, 0, time.UTC)

func seeded(t *testing.T) *storage.Memory {
	t.Helper()
	ctx := context.Background()
	st := storage.NewMemory()
	a, _ := st.Create(ctx, participant.Participant{ExternalID: 10, Name: "Anna", Birthday: participant.Date{Year: 1990, Month: 1, Day: 10}})
	b, _ := st.Create(ctx, participant.Participant{ExternalID: 11, Name: "Boris", Birthday: participant.Date{Year: 1991, Month: 5, Day: 2}})
	if _, err := st.Create(ctx, participant.Participant{ExternalID: 12, Name: "Vera"}); err != nil {
		t.Fatal(err)
	}
	if err := st.SetPairingEdge(ctx, a.ID, b.ID); err != nil {
		t.Fatal(err)
	}
	return st
}

func get(t *testing.T, h http.Handler, path, token string, out any) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v\n%s", path, err, rec.Body.String())
		}
	}
	return rec.Code
}

func TestReminders(t *testing.T) {
	t.Parallel()

	sched := fakeScheduler{jobs: []reminder.Job{{GiverID: 1, WardID: 2, Offset: 7, At: at}}}
	h := NewRouter(Deps{Store: storage.NewMemory(), Scheduler: sched}, Config{})

	var got struct {
		Count int            `json:"count"`
		Jobs  []reminder.Job `json:"jobs"`
	}
	if code := get(t, h, "/reminders", "", &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got.Count != 1 || got.Jobs[0].Offset != 7 || !got.Jobs[0].At.Equal(at) {
		t.Fatalf("got %+v", got)
	}
}

func TestPairs(t *testing.T) {
	t.Parallel()

	h := NewRouter(Deps{Store: seeded(t), Scheduler: fakeScheduler{}}, Config{})
	var rows []pairRow
	if code := get(t, h, "/pairs", "", &rows); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(rows) != 1 || rows[0].GiverName != "Anna" || rows[0].WardName != "Boris" || rows[0].WardBirthday != "02.05.1991" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	sched := fakeScheduler{snap: reminder.Snapshot{Running: true, Pending: 3, Timezone: "Europe/Moscow"}}
	d := Deps{
		Store:     storage.NewMemory(),
		Scheduler: sched,
		Notifier:  func() notifier.Stats { return notifier.Stats{Sent: 5} },
		Now:       func() time.Time { return at },
	}
	var got healthResponse
	if code := get(t, NewRouter(d, Config{Token: "secret"}), "/healthz", "", &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got.Status != "ok" || got.Scheduler.Pending != 3 || got.Notifier == nil || got.Notifier.Sent != 5 {
		t.Fatalf("got %+v", got)
	}

	d.Store = downStore{storage.NewMemory()}
	if code := get(t, NewRouter(d, Config{}), "/healthz", "", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("down store status = %d", code)
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	h := NewRouter(Deps{Store: storage.NewMemory(), Scheduler: fakeScheduler{}}, Config{Token: "secret"})
	tests := []struct {
		path, token string
		want        int
	}{
		{"/reminders", "", http.StatusUnauthorized},
		{"/reminders", "wrong", http.StatusUnauthorized},
		{"/reminders", "secret", http.StatusOK},
		{"/events", "secret", http.StatusOK},
		{"/deliveries", "", http.StatusUnauthorized},
		{"/deliveries", "secret", http.StatusOK},
		{"/debug/pprof/", "secret", http.StatusNotFound},
		{"/nope", "secret", http.StatusNotFound},
	}
	for _, tt := range tests {
		if got := get(t, h, tt.path, tt.token, nil); got != tt.want {
			t.Errorf("GET %s (token %q) = %d, want %d", tt.path, tt.token, got, tt.want)
		}
	}
}

func TestEvents(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	rec := eventbus.NewRecorder(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		rec.Run(ctx, bus)
		close(done)
	}()

	h := NewRouter(Deps{Store: storage.NewMemory(), Scheduler: fakeScheduler{}, Events: rec}, Config{})
	deadline := time.Now().Add(2 * time.Second)
	var got []eventbus.Event
	for len(got) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("events = %+v", got)
		}
		bus.Publish(eventbus.Event{Type: "admin.random"})
		time.Sleep(10 * time.Millisecond)
		get(t, h, "/events?limit=2", "", &got)
	}
	if got[0].Type != "admin.random" {
		t.Fatalf("events = %+v", got)
	}
	if code := get(t, h, "/events?limit=x", "", nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", code)
	}
	cancel()
	<-done
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()

	d := Deps{Store: storage.NewMemory(), Scheduler: fakeScheduler{snap: reminder.Snapshot{Running: true}}}
	s := NewServer(Config{Enabled: true, Addr: "127.0.0.1:0"}, d, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	t.Cleanup(func() { s.Stop(ctx) })

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for addr == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not bind")
		}
		time.Sleep(5 * time.Millisecond)
		addr = s.Addr()
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	s.Reconfigure(ctx, Config{Enabled: false})
	if s.Supervisor() != nil || s.Addr() != "" {
		t.Fatal("server still running after disable")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"127.0.0.1:8089": true,
		"localhost:80":   true,
		"[::1]:9000":     true,
		":8089":          false,
		"0.0.0.0:8089":   false,
		"10.0.0.5:80":    false,
		"nope":           false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestDeliveries(t *testing.T) {
	t.Parallel()

	history := []notifier.HistoryItem{
		{At: at, ChatID: 10, Text: "first"},
		{At: at.Add(time.Minute), ChatID: 11, Text: "second", Error: "blocked"},
		{At: at.Add(2 * time.Minute), ChatID: 12, Text: "third"},
	}
	h := NewRouter(Deps{
		Store:      storage.NewMemory(),
		Scheduler:  fakeScheduler{},
		Deliveries: func() []notifier.HistoryItem { return history },
	}, Config{})

	var got []notifier.HistoryItem
	if code := get(t, h, "/deliveries?limit=2", "", &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(got) != 2 || got[0].Text != "second" || got[0].Error != "blocked" || got[1].ChatID != 12 {
		t.Fatalf("deliveries = %+v", got)
	}

	empty := NewRouter(Deps{Store: storage.NewMemory(), Scheduler: fakeScheduler{}}, Config{})
	got = nil
	if code := get(t, empty, "/deliveries", "", &got); code != http.StatusOK || len(got) != 0 {
		t.Fatalf("without history: status %d, %+v", code, got)
	}
	if code := get(t, h, "/deliveries?limit=-1", "", nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", code)
	}
}
