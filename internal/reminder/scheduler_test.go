package reminder

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"giftbot/internal/participant"
	"giftbot/internal/storage"
	logx "giftbot/pkg/logx"
)

type sentMsg struct {
	to   int64
	text string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMsg
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, to int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{to: to, text: text})
	return f.err
}

func (f *fakeNotifier) messages() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.sent...)
}

type failingStore struct{ Store }

func (failingStore) ListWithGiver(context.Context) ([]participant.Participant, error) {
	return nil, errors.New("connection refused")
}

var asOf = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{Location: time.UTC, Hour: 12, Offsets: []int{7, 1}}
}

// pairedStore holds A -> B -> C -> A with birthdays in January.
func pairedStore(t *testing.T) (*storage.Memory, []participant.Participant) {
	t.Helper()
	ctx := context.Background()
	st := storage.NewMemory()
	var ps []participant.Participant
	for i, n := range []string{"Anna", "Boris", "Clara"} {
		p, err := st.Create(ctx, participant.Participant{
			ExternalID: int64(100 + i),
			Name:       n,
			Birthday:   participant.Date{Year: 1990, Month: time.January, Day: 10 + i},
			Wish:       "tea",
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ps = append(ps, p)
	}
	if err := st.ApplyPairing(ctx, map[int64]int64{ps[0].ID: ps[1].ID, ps[1].ID: ps[2].ID, ps[2].ID: ps[0].ID}); err != nil {
		t.Fatalf("ApplyPairing: %v", err)
	}
	return st, ps
}

func TestRebuildIsIdempotent(t *testing.T) {
	t.Parallel()

	st, _ := pairedStore(t)
	s := New(st, &fakeNotifier{}, testConfig(), logx.Nop())

	if err := s.Rebuild(context.Background(), asOf); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	first := s.ListPending()
	if err := s.Rebuild(context.Background(), asOf); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	second := s.ListPending()
	if len(first) != 6 {
		t.Fatalf("pending = %d, want 6", len(first))
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("rebuild changed the pending set:\n%v\n%v", first, second)
	}
	for i := 1; i < len(second); i++ {
		if second[i].At.Before(second[i-1].At) {
			t.Fatalf("ListPending not sorted: %v", second)
		}
	}
}

func TestRebuildStoreFailureKeepsPreviousJobs(t *testing.T) {
	t.Parallel()

	st, _ := pairedStore(t)
	s := New(st, &fakeNotifier{}, testConfig(), logx.Nop())
	if err := s.Rebuild(context.Background(), asOf); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	before := s.ListPending()

	s.store = failingStore{st}
	if err := s.Rebuild(context.Background(), asOf); err == nil {
		t.Fatalf("expected error from failing store")
	}
	if got := s.ListPending(); !reflect.DeepEqual(got, before) {
		t.Fatalf("pending after failed rebuild = %d jobs, want the previous %d", len(got), len(before))
	}
	if snap := s.Snapshot(); snap.LastError == "" {
		t.Fatalf("snapshot should record the error")
	}

	s.store = st
	if err := s.Rebuild(context.Background(), asOf); err != nil {
		t.Fatalf("Rebuild after recovery: %v", err)
	}
	if snap := s.Snapshot(); snap.LastError != "" || snap.Pending != len(before) {
		t.Fatalf("snapshot after recovery = %+v", snap)
	}
}

func TestFireSkipsChangedPairing(t *testing.T) {
	t.Parallel()

	st, ps := pairedStore(t)
	n := &fakeNotifier{}
	s := New(st, n, testConfig(), logx.Nop())
	if err := s.Rebuild(context.Background(), asOf); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	e := s.pendingEntries()[0]

	// Anna now gets her gift from Boris instead of Clara, without a rebuild.
	if err := st.SetPairingEdge(context.Background(), ps[1].ID, ps[0].ID); err != nil {
		t.Fatalf("SetPairingEdge: %v", err)
	}
	s.fire(e)
	if msgs := n.messages(); len(msgs) != 0 {
		t.Fatalf("reminder sent to a former giver: %+v", msgs)
	}
	if snap := s.Snapshot(); snap.Skipped != 1 {
		t.Fatalf("Skipped = %d, want 1", snap.Skipped)
	}
}

func TestFireReadsCurrentWardData(t *testing.T) {
	t.Parallel()

	st, ps := pairedStore(t)
	n := &fakeNotifier{}
	s := New(st, n, testConfig(), logx.Nop())
	if err := s.Rebuild(context.Background(), asOf); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	wish := "a red scarf"
	if _, err := st.Update(context.Background(), ps[0].ID, participant.Patch{Wish: &wish}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Anna's birthday comes first; Clara gives to her.
	e := s.pendingEntries()[0]
	if e.WardID != ps[0].ID || e.GiverID != ps[2].ID {
		t.Fatalf("first entry = %+v", e.Job)
	}
	s.fire(e)

	msgs := n.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	if msgs[0].to != ps[2].ExternalID {
		t.Fatalf("sent to %d, want giver %d", msgs[0].to, ps[2].ExternalID)
	}
	if !strings.Contains(msgs[0].text, "a red scarf") || !strings.Contains(msgs[0].text, "Anna") {
		t.Fatalf("message = %q", msgs[0].text)
	}
	if n := len(s.ListPending()); n != 5 {
		t.Fatalf("pending = %d after fire, want 5", n)
	}

	// Firing the same entry again is a no-op.
	s.fire(e)
	if len(n.messages()) != 1 {
		t.Fatalf("consumed job fired twice")
	}
}

func TestFireMissingWardIsSilent(t *testing.T) {
	t.Parallel()

	st, ps := pairedStore(t)
	n := &fakeNotifier{}
	s := New(st, n, testConfig(), logx.Nop())
	if err := s.Rebuild(context.Background(), asOf); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	entries := s.pendingEntries()

	// Delete behind the scheduler's back, without a rebuild.
	if err := st.Delete(context.Background(), ps[1].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	for _, e := range entries {
		if e.WardID == ps[1].ID {
			s.fire(e)
		}
	}
	for _, m := range n.messages() {
		if strings.Contains(m.text, "Boris") {
			t.Fatalf("reminder sent for deleted ward: %q", m.text)
		}
	}
	if snap := s.Snapshot(); snap.Skipped != 2 {
		t.Fatalf("Skipped = %d, want 2", snap.Skipped)
	}
}

func TestDeleteThenRebuildDropsJobs(t *testing.T) {
	t.Parallel()

	st, ps := pairedStore(t)
	s := New(st, &fakeNotifier{}, testConfig(), logx.Nop())
	if err := s.Rebuild(context.Background(), asOf); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if err := st.Delete(context.Background(), ps[1].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Rebuild(context.Background(), asOf); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	for _, j := range s.ListPending() {
		if j.WardID == ps[1].ID || j.GiverID == ps[1].ID || j.GiverID == ps[0].ID {
			t.Fatalf("stale job after delete: %+v", j)
		}
	}
	// Only C -> A remains.
	if n := len(s.ListPending()); n != 2 {
		t.Fatalf("pending = %d, want 2", n)
	}
}

func TestNotifyFailureConsumesJob(t *testing.T) {
	t.Parallel()

	st, _ := pairedStore(t)
	n := &fakeNotifier{err: errors.New("bot was blocked by the user")}
	s := New(st, n, testConfig(), logx.Nop())
	if err := s.Rebuild(context.Background(), asOf); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	s.fire(s.pendingEntries()[0])

	snap := s.Snapshot()
	if snap.Failed != 1 || snap.Pending != 5 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestClearCancelsInFlightJob(t *testing.T) {
	t.Parallel()

	st, _ := pairedStore(t)
	n := &fakeNotifier{}
	s := New(st, n, testConfig(), logx.Nop())
	if err := s.Rebuild(context.Background(), asOf); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	e := s.pendingEntries()[0]
	s.Clear()
	s.fire(e)
	if len(n.messages()) != 0 {
		t.Fatalf("cancelled job delivered")
	}
	if len(s.ListPending()) != 0 {
		t.Fatalf("Clear left jobs behind")
	}
}

func TestStartStopAndApply(t *testing.T) {
	t.Parallel()

	st, _ := pairedStore(t)
	s := New(st, &fakeNotifier{}, testConfig(), logx.Nop())
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Rebuild(ctx, time.Now()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	cfg := testConfig()
	cfg.RefreshSpec = "not a cron spec"
	if err := s.Apply(cfg); err == nil {
		t.Fatalf("Apply accepted an invalid refresh spec")
	}
	cfg.RefreshSpec = "@daily"
	cfg.Location = moscow(t)
	if err := s.Apply(cfg); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if tz := s.Snapshot().Timezone; tz != "Europe/Moscow" {
		t.Fatalf("Timezone = %q", tz)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(s.ListPending()) != 0 {
		t.Fatalf("Stop left jobs pending")
	}
}

func TestOnceAtSchedule(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, time.January, 3, 12, 0, 0, 0, time.UTC)
	o := onceAt(at)
	if got := o.Next(at.Add(-time.Minute)); !got.Equal(at) {
		t.Fatalf("Next before = %v", got)
	}
	if got := o.Next(at); !got.IsZero() {
		t.Fatalf("Next at = %v, want zero", got)
	}
}
