package pairing

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"giftbot/internal/participant"
	"giftbot/internal/storage"
)

var (
	ErrAmbiguousName = errors.New("name does not identify exactly one participant")
	ErrNameNotFound  = fmt.Errorf("%w: no participant with that name", storage.ErrNotFound)
)

// ExactMatch picks the single participant out of exact-name candidates.
func ExactMatch(name string, candidates []participant.Participant) (participant.Participant, error) {
	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 0:
		return participant.Participant{}, fmt.Errorf("%w: %q", ErrNameNotFound, name)
	default:
		return participant.Participant{}, fmt.Errorf("%w: %q matches %d participants", ErrAmbiguousName, name, len(candidates))
	}
}

// ResolvePair finds a giver and a ward named somewhere in free text.
//
// Names are compared case-insensitively as substrings of text. Exactly two
// distinct participants must match; the one whose name appears first is the
// giver. Any other count is ErrAmbiguousName.
func ResolvePair(text string, pool []participant.Participant) (giver, ward participant.Participant, err error) {
	fold := cases.Fold()
	hay := fold.String(text)

	type hit struct {
		p   participant.Participant
		pos int
	}
	var hits []hit
	for _, p := range pool {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			continue
		}
		if i := strings.Index(hay, fold.String(name)); i >= 0 {
			hits = append(hits, hit{p: p, pos: i})
		}
	}
	if len(hits) != 2 {
		return participant.Participant{}, participant.Participant{},
			fmt.Errorf("%w: %d names matched", ErrAmbiguousName, len(hits))
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	if hits[0].pos == hits[1].pos {
		return participant.Participant{}, participant.Participant{},
			fmt.Errorf("%w: overlapping names", ErrAmbiguousName)
	}
	return hits[0].p, hits[1].p, nil
}

// QuotedNames extracts the contents of double-quoted spans. Telegram clients
// often substitute typographic quotes, so «» and “” are accepted too.
func QuotedNames(text string) []string {
	var (
		out  []string
		buf  strings.Builder
		open rune
	)
	closing := map[rune]rune{'"': '"', '«': '»', '“': '”'}
	for _, r := range text {
		if open == 0 {
			if _, ok := closing[r]; ok {
				open = r
				buf.Reset()
			}
			continue
		}
		if r == closing[open] {
			out = append(out, strings.TrimSpace(buf.String()))
			open = 0
			continue
		}
		buf.WriteRune(r)
	}
	return out
}
