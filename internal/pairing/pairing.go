// Package pairing computes secret gift-giver assignments.
//
// Assign is pure: it never touches storage. Callers persist the result in a
// single transaction and then rebuild reminders.
package pairing

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// DefaultMaxAttempts bounds the shuffle-and-check loop.
const DefaultMaxAttempts = 1000

var (
	ErrInsufficientParticipants = errors.New("not enough participants for pairing")
	ErrPairingInfeasible        = errors.New("no valid pairing found within the attempt budget")
)

// Assignment is a single directed cycle over the participants.
type Assignment struct {
	// Ward maps giver id to ward id.
	Ward map[int64]int64
	// Order is the accepted shuffle; Order[i] gives to Order[i+1].
	Order    []int64
	Attempts int
}

// Assign shuffles ids, links each one to the next in a ring and rejects the
// shuffle when any edge's reverse is also present. With two participants
// every ring is mutual, so Assign always returns ErrPairingInfeasible.
func Assign(ids []int64, rng *rand.Rand, maxAttempts int) (Assignment, error) {
	pool := dedupe(ids)
	if len(pool) < 2 {
		return Assignment{}, fmt.Errorf("%w: have %d, need at least 2", ErrInsufficientParticipants, len(pool))
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	order := make([]int64, len(pool))
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		copy(order, pool)
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		ward := ring(order)
		if hasMutualPair(ward) {
			continue
		}
		return Assignment{Ward: ward, Order: append([]int64(nil), order...), Attempts: attempt}, nil
	}
	return Assignment{}, fmt.Errorf("%w: %d participants, %d attempts", ErrPairingInfeasible, len(pool), maxAttempts)
}

func ring(order []int64) map[int64]int64 {
	n := len(order)
	ward := make(map[int64]int64, n)
	for i, g := range order {
		ward[g] = order[(i+1)%n]
	}
	return ward
}

func hasMutualPair(ward map[int64]int64) bool {
	for g, w := range ward {
		if ward[w] == g {
			return true
		}
	}
	return false
}

// dedupe returns the distinct ids in ascending order so a seeded rng gives a
// reproducible result regardless of input order.
func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
