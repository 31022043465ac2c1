package admin

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"giftbot/internal/pairing"
	"giftbot/internal/participant"
	"giftbot/internal/storage"
	logx "giftbot/pkg/logx"
)

type fakeRebuilder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeRebuilder) Rebuild(context.Context, time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeRebuilder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

const adminTG = 900

func seed(t *testing.T, names ...string) (*storage.Memory, []participant.Participant) {
	t.Helper()
	st := storage.NewMemory()
	var out []participant.Participant
	for i, n := range names {
		p, err := st.Create(context.Background(), participant.Participant{
			ExternalID: int64(1000 + i),
			Name:       n,
			Birthday:   participant.Date{Year: 1990, Month: time.Month(i%12 + 1), Day: 5},
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		out = append(out, p)
	}
	return st, out
}

func newService(st storage.Store, rb Rebuilder) *Service {
	return New(st, rb, nil, logx.Nop(), WithRand(rand.New(rand.NewSource(7))))
}

func edges(t *testing.T, st storage.Store) map[int64][2]int64 {
	t.Helper()
	all, err := st.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	out := map[int64][2]int64{}
	for _, p := range all {
		out[p.ID] = [2]int64{p.WardID, p.GiverID}
	}
	return out
}

func TestSetPair(t *testing.T) {
	t.Parallel()

	st, ps := seed(t, "Anna", "Boris")
	rb := &fakeRebuilder{}
	s := newService(st, rb)

	pair, err := s.SetPair(context.Background(), adminTG, ps[0].ID, ps[1].ID)
	if err != nil {
		t.Fatalf("SetPair: %v", err)
	}
	if pair.Giver.WardID != ps[1].ID || pair.Ward.GiverID != ps[0].ID {
		t.Fatalf("pair = %+v", pair)
	}
	if rb.count() != 1 {
		t.Fatalf("rebuilds = %d, want 1", rb.count())
	}
	audit := st.Audit()
	if len(audit) != 1 || !audit[0].OK || audit[0].ActorID != adminTG || audit[0].Action != "set_pair" {
		t.Fatalf("audit = %+v", audit)
	}
}

func TestSetPairErrorsLeaveEdgesAlone(t *testing.T) {
	t.Parallel()

	st, ps := seed(t, "Anna", "Boris", "Clara")
	rb := &fakeRebuilder{}
	s := newService(st, rb)
	if _, err := s.SetPair(context.Background(), adminTG, ps[0].ID, ps[1].ID); err != nil {
		t.Fatalf("SetPair: %v", err)
	}
	before := edges(t, st)

	tests := []struct {
		name        string
		giver, ward int64
		want        error
	}{
		{name: "missing ward", giver: ps[0].ID, ward: 999, want: storage.ErrNotFound},
		{name: "missing giver", giver: 999, ward: ps[2].ID, want: storage.ErrNotFound},
		{name: "self", giver: ps[2].ID, ward: ps[2].ID, want: storage.ErrSelfPairing},
	}
	for _, tt := range tests {
		_, err := s.SetPair(context.Background(), adminTG, tt.giver, tt.ward)
		if !errors.Is(err, tt.want) {
			t.Fatalf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
	after := edges(t, st)
	for id, e := range before {
		if after[id] != e {
			t.Fatalf("edges changed for %d: %v -> %v", id, e, after[id])
		}
	}
	if rb.count() != 1 {
		t.Fatalf("failed actions rebuilt reminders")
	}
	audit := st.Audit()
	if len(audit) != 4 || audit[3].OK || audit[3].Error == "" {
		t.Fatalf("audit = %+v", audit)
	}
}

func TestSetPairMovesExistingEdges(t *testing.T) {
	t.Parallel()

	st, ps := seed(t, "Anna", "Boris", "Clara")
	s := newService(st, &fakeRebuilder{})
	ctx := context.Background()
	if _, err := s.SetPair(ctx, adminTG, ps[0].ID, ps[1].ID); err != nil {
		t.Fatalf("SetPair: %v", err)
	}
	// Clara now gives to Boris; Anna loses her ward.
	if _, err := s.SetPair(ctx, adminTG, ps[2].ID, ps[1].ID); err != nil {
		t.Fatalf("SetPair: %v", err)
	}
	e := edges(t, st)
	if e[ps[0].ID][0] != 0 || e[ps[1].ID][1] != ps[2].ID || e[ps[2].ID][0] != ps[1].ID {
		t.Fatalf("edges = %v", e)
	}
}

func TestSetPairByName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		pool      []string
		text      string
		wantGiver string
		wantWard  string
		wantErr   error
	}{
		{name: "quoted", pool: []string{"Anna Ivanova", "Boris Petrov"}, text: `"Boris Petrov" "Anna Ivanova"`, wantGiver: "Boris Petrov", wantWard: "Anna Ivanova"},
		{name: "guillemets", pool: []string{"Anna Ivanova", "Boris Petrov"}, text: `«Anna Ivanova» «Boris Petrov»`, wantGiver: "Anna Ivanova", wantWard: "Boris Petrov"},
		{name: "quoted unknown", pool: []string{"Anna Ivanova", "Boris Petrov"}, text: `"Anna Ivanova" "Nobody"`, wantErr: storage.ErrNotFound},
		{name: "quoted duplicate", pool: []string{"Anna", "Anna", "Boris"}, text: `"Anna" "Boris"`, wantErr: pairing.ErrAmbiguousName},
		{name: "one quoted", pool: []string{"Anna", "Boris"}, text: `"Anna" Boris`, wantErr: ErrNeedTwoNames},
		{name: "fuzzy", pool: []string{"Anna Ivanova", "Boris Petrov"}, text: "boris petrov gives to ANNA IVANOVA", wantGiver: "Boris Petrov", wantWard: "Anna Ivanova"},
		{name: "fuzzy three hits", pool: []string{"Anna", "Boris", "Clara"}, text: "Anna Boris Clara", wantErr: pairing.ErrAmbiguousName},
		{name: "fuzzy one hit", pool: []string{"Anna", "Boris"}, text: "Anna and someone", wantErr: pairing.ErrAmbiguousName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st, _ := seed(t, tt.pool...)
			rb := &fakeRebuilder{}
			s := newService(st, rb)

			pair, err := s.SetPairByName(context.Background(), adminTG, tt.text)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				for id, e := range edges(t, st) {
					if e != [2]int64{} {
						t.Fatalf("edge written for %d after failure", id)
					}
				}
				if rb.count() != 0 {
					t.Fatalf("rebuild after failure")
				}
				return
			}
			if err != nil {
				t.Fatalf("SetPairByName: %v", err)
			}
			if pair.Giver.Name != tt.wantGiver || pair.Ward.Name != tt.wantWard {
				t.Fatalf("pair = %s -> %s", pair.Giver.Name, pair.Ward.Name)
			}
			if pair.Giver.WardID != pair.Ward.ID || pair.Ward.GiverID != pair.Giver.ID {
				t.Fatalf("edge not symmetric: %+v", pair)
			}
		})
	}
}

func TestRandomPairing(t *testing.T) {
	t.Parallel()

	st, ps := seed(t, "A", "B", "C", "D", "E", "F")
	rb := &fakeRebuilder{}
	s := newService(st, rb)

	a, err := s.RandomPairing(context.Background(), adminTG)
	if err != nil {
		t.Fatalf("RandomPairing: %v", err)
	}
	if len(a.Ward) != len(ps) {
		t.Fatalf("pairs = %d", len(a.Ward))
	}
	e := edges(t, st)
	wards := map[int64]bool{}
	for id, pair := range e {
		ward, giver := pair[0], pair[1]
		if ward == 0 || giver == 0 || ward == id {
			t.Fatalf("bad edges for %d: %v", id, pair)
		}
		if e[ward][1] != id {
			t.Fatalf("asymmetric edge %d -> %d", id, ward)
		}
		if e[ward][0] == id {
			t.Fatalf("mutual pair %d <-> %d", id, ward)
		}
		wards[ward] = true
	}
	if len(wards) != len(ps) {
		t.Fatalf("not a bijection: %v", e)
	}
	if rb.count() != 1 {
		t.Fatalf("rebuilds = %d", rb.count())
	}
}

func TestRandomPairingTooFew(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		names []string
		want  error
	}{
		{names: nil, want: pairing.ErrInsufficientParticipants},
		{names: []string{"A"}, want: pairing.ErrInsufficientParticipants},
		{names: []string{"A", "B"}, want: pairing.ErrPairingInfeasible},
	} {
		st, _ := seed(t, tt.names...)
		rb := &fakeRebuilder{}
		s := New(st, rb, nil, logx.Nop(), WithMaxAttempts(20))
		if _, err := s.RandomPairing(context.Background(), adminTG); !errors.Is(err, tt.want) {
			t.Fatalf("%d names: err = %v, want %v", len(tt.names), err, tt.want)
		}
		for id, e := range edges(t, st) {
			if e != [2]int64{} {
				t.Fatalf("edges written for %d", id)
			}
		}
		if rb.count() != 0 {
			t.Fatalf("rebuild after failure")
		}
	}
}

func TestDeleteParticipant(t *testing.T) {
	t.Parallel()

	st, ps := seed(t, "Anna", "Boris", "Clara")
	rb := &fakeRebuilder{}
	s := newService(st, rb)
	ctx := context.Background()
	if _, err := s.SetPair(ctx, adminTG, ps[0].ID, ps[1].ID); err != nil {
		t.Fatalf("SetPair: %v", err)
	}
	if _, err := s.SetPair(ctx, adminTG, ps[1].ID, ps[2].ID); err != nil {
		t.Fatalf("SetPair: %v", err)
	}

	if _, err := s.DeleteParticipant(ctx, ps[0].ExternalID, ps[0].ExternalID); !errors.Is(err, ErrSelfAction) {
		t.Fatalf("self delete err = %v", err)
	}
	if _, err := s.DeleteParticipant(ctx, adminTG, 424242); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing delete err = %v", err)
	}

	gone, err := s.DeleteParticipant(ctx, adminTG, ps[1].ExternalID)
	if err != nil {
		t.Fatalf("DeleteParticipant: %v", err)
	}
	if gone.ID != ps[1].ID {
		t.Fatalf("deleted %+v", gone)
	}
	e := edges(t, st)
	if _, ok := e[ps[1].ID]; ok {
		t.Fatalf("participant still stored")
	}
	if e[ps[0].ID][0] != 0 || e[ps[2].ID][1] != 0 {
		t.Fatalf("dangling edges: %v", e)
	}
	if rb.count() != 3 {
		t.Fatalf("rebuilds = %d, want 3", rb.count())
	}
}

func TestResetEdges(t *testing.T) {
	t.Parallel()

	st, ps := seed(t, "A", "B", "C")
	s := newService(st, &fakeRebuilder{})
	ctx := context.Background()
	if _, err := s.RandomPairing(ctx, adminTG); err != nil {
		t.Fatalf("RandomPairing: %v", err)
	}

	p, err := s.ResetEdges(ctx, adminTG, ps[0].ID)
	if err != nil {
		t.Fatalf("ResetEdges: %v", err)
	}
	if p.HasWard() || p.HasGiver() {
		t.Fatalf("edges not cleared: %+v", p)
	}
	for id, e := range edges(t, st) {
		if e[0] == ps[0].ID || e[1] == ps[0].ID {
			t.Fatalf("%d still points at reset participant", id)
		}
	}

	if err := s.ResetAll(ctx, adminTG); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}
	for id, e := range edges(t, st) {
		if e != [2]int64{} {
			t.Fatalf("edges left for %d", id)
		}
	}
	if _, err := s.ResetEdges(ctx, adminTG, 999); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestAdminFlags(t *testing.T) {
	t.Parallel()

	st, ps := seed(t, "Anna", "Boris")
	rb := &fakeRebuilder{}
	s := newService(st, rb)
	ctx := context.Background()

	if _, err := s.RevokeAdmin(ctx, adminTG, ps[0].ExternalID); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("revoke non-admin err = %v", err)
	}
	p, err := s.MakeAdmin(ctx, adminTG, ps[0].ExternalID)
	if err != nil || !p.IsAdmin {
		t.Fatalf("MakeAdmin = %+v, %v", p, err)
	}
	if _, err := s.RevokeAdmin(ctx, ps[0].ExternalID, ps[0].ExternalID); !errors.Is(err, ErrSelfAction) {
		t.Fatalf("self revoke err = %v", err)
	}
	p, err = s.RevokeAdmin(ctx, adminTG, ps[0].ExternalID)
	if err != nil || p.IsAdmin {
		t.Fatalf("RevokeAdmin = %+v, %v", p, err)
	}
	if _, err := s.MakeAdmin(ctx, adminTG, 31337); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if rb.count() != 0 {
		t.Fatalf("admin flags should not rebuild reminders")
	}
}

func TestRebuildFailureIsStaleButCommitted(t *testing.T) {
	t.Parallel()

	st, ps := seed(t, "Anna", "Boris")
	rb := &fakeRebuilder{err: errors.New("store offline")}
	s := newService(st, rb)

	_, err := s.SetPair(context.Background(), adminTG, ps[0].ID, ps[1].ID)
	if !errors.Is(err, ErrRemindersStale) {
		t.Fatalf("err = %v, want ErrRemindersStale", err)
	}
	if e := edges(t, st); e[ps[0].ID][0] != ps[1].ID {
		t.Fatalf("edge not committed: %v", e)
	}
}
