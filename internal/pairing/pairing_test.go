package pairing

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"giftbot/internal/participant"
	"giftbot/internal/storage"
)

func checkCycle(t *testing.T, ids []int64, a Assignment) {
	t.Helper()
	if len(a.Ward) != len(ids) {
		t.Fatalf("len(Ward) = %d, want %d", len(a.Ward), len(ids))
	}
	wards := map[int64]bool{}
	for g, w := range a.Ward {
		if g == w {
			t.Fatalf("fixed point %d", g)
		}
		if a.Ward[w] == g {
			t.Fatalf("mutual pair %d <-> %d", g, w)
		}
		if wards[w] {
			t.Fatalf("ward %d assigned twice", w)
		}
		wards[w] = true
	}
	// Walk the cycle from any node; it must visit everyone.
	start := ids[0]
	cur, steps := start, 0
	for {
		cur = a.Ward[cur]
		steps++
		if cur == start {
			break
		}
		if steps > len(ids) {
			t.Fatalf("walk did not return to start")
		}
	}
	if steps != len(ids) {
		t.Fatalf("cycle length = %d, want %d", steps, len(ids))
	}
}

func TestAssignProducesSingleCycle(t *testing.T) {
	t.Parallel()

	for n := 3; n <= 12; n++ {
		ids := make([]int64, n)
		for i := range ids {
			ids[i] = int64(i*7 + 1)
		}
		for seed := int64(0); seed < 25; seed++ {
			a, err := Assign(ids, rand.New(rand.NewSource(seed)), 0)
			if err != nil {
				t.Fatalf("n=%d seed=%d: %v", n, seed, err)
			}
			checkCycle(t, ids, a)
			if a.Attempts < 1 {
				t.Fatalf("Attempts = %d", a.Attempts)
			}
		}
	}
}

func TestAssignInsufficient(t *testing.T) {
	t.Parallel()

	for _, ids := range [][]int64{nil, {5}, {5, 5}} {
		_, err := Assign(ids, rand.New(rand.NewSource(1)), 10)
		if !errors.Is(err, ErrInsufficientParticipants) {
			t.Fatalf("Assign(%v) err = %v, want ErrInsufficientParticipants", ids, err)
		}
	}
}

func TestAssignTwoIsInfeasible(t *testing.T) {
	t.Parallel()

	_, err := Assign([]int64{1, 2}, rand.New(rand.NewSource(1)), 50)
	if !errors.Is(err, ErrPairingInfeasible) {
		t.Fatalf("err = %v, want ErrPairingInfeasible", err)
	}
}

func TestAssignDeterministicForSeed(t *testing.T) {
	t.Parallel()

	ids := []int64{4, 1, 3, 2, 5}
	a1, err1 := Assign(ids, rand.New(rand.NewSource(42)), 0)
	a2, err2 := Assign([]int64{5, 4, 3, 2, 1}, rand.New(rand.NewSource(42)), 0)
	if err1 != nil || err2 != nil {
		t.Fatalf("errs = %v, %v", err1, err2)
	}
	if !reflect.DeepEqual(a1.Ward, a2.Ward) {
		t.Fatalf("same seed gave different pairings: %v vs %v", a1.Ward, a2.Ward)
	}
}

func pool(names ...string) []participant.Participant {
	out := make([]participant.Participant, len(names))
	for i, n := range names {
		out[i] = participant.Participant{ID: int64(i + 1), Name: n}
	}
	return out
}

func TestResolvePair(t *testing.T) {
	t.Parallel()

	ps := pool("Anna Petrova", "Ivan Sidorov", "Oleg Ivanov")
	cases := []struct {
		text      string
		giver     int64
		ward      int64
		ambiguous bool
	}{
		{text: "ivan sidorov anna petrova", giver: 2, ward: 1},
		{text: "ANNA PETROVA -> Oleg Ivanov", giver: 1, ward: 3},
		{text: "Anna Petrova", ambiguous: true},
		{text: "Anna Petrova Ivan Sidorov Oleg Ivanov", ambiguous: true},
		{text: "nobody here", ambiguous: true},
	}
	for _, tc := range cases {
		g, w, err := ResolvePair(tc.text, ps)
		if tc.ambiguous {
			if !errors.Is(err, ErrAmbiguousName) {
				t.Fatalf("ResolvePair(%q) err = %v, want ErrAmbiguousName", tc.text, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ResolvePair(%q): %v", tc.text, err)
		}
		if g.ID != tc.giver || w.ID != tc.ward {
			t.Fatalf("ResolvePair(%q) = %d -> %d, want %d -> %d", tc.text, g.ID, w.ID, tc.giver, tc.ward)
		}
	}
}

func TestResolvePairDuplicateNames(t *testing.T) {
	t.Parallel()

	ps := pool("Anna", "Anna", "Boris")
	if _, _, err := ResolvePair("Anna Boris", ps); !errors.Is(err, ErrAmbiguousName) {
		t.Fatalf("err = %v, want ErrAmbiguousName", err)
	}
}

func TestExactMatch(t *testing.T) {
	t.Parallel()

	if _, err := ExactMatch("x", nil); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("no candidates err = %v, want ErrNotFound", err)
	}
	if _, err := ExactMatch("x", pool("x", "x")); !errors.Is(err, ErrAmbiguousName) {
		t.Fatalf("two candidates err = %v, want ErrAmbiguousName", err)
	}
	p, err := ExactMatch("x", pool("x"))
	if err != nil || p.ID != 1 {
		t.Fatalf("ExactMatch = %+v, %v", p, err)
	}
}

func TestQuotedNames(t *testing.T) {
	t.Parallel()

	cases := map[string][]string{
		`"Anna Petrova" "Ivan Sidorov"`: {"Anna Petrova", "Ivan Sidorov"},
		`«Anna» «Ivan»`:                 {"Anna", "Ivan"},
		`“Anna” "Ivan"`:                 {"Anna", "Ivan"},
		`no quotes`:                     nil,
		`"unterminated`:                 nil,
	}
	for in, want := range cases {
		if got := QuotedNames(in); !reflect.DeepEqual(got, want) {
			t.Fatalf("QuotedNames(%q) = %q, want %q", in, got, want)
		}
	}
}
