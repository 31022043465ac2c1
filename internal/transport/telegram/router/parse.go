package router

import (
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
)

var ridSeq atomic.Uint64

// newReqID returns a short id: base36 timestamp, sequence and two random
// characters.
func newReqID() string {
	n := ridSeq.Add(1)
	return base36(time.Now().UnixNano()) + "-" + base36(int64(n)) + randSuffix(2)
}

func randSuffix(n int) string {
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	var b strings.Builder
	for range n {
		b.WriteByte(alpha[rand.IntN(len(alpha))])
	}
	return b.String()
}

func base36(v int64) string {
	const chars = "0123456789abcdefghijklmnopqrstuvwxyz"
	if v < 0 {
		v = -v
	}
	if v == 0 {
		return "0"
	}
	var out [32]byte
	i := len(out)
	for v > 0 {
		i--
		out[i] = chars[v%36]
		v /= 36
	}
	return string(out[i:])
}

// closingQuote maps each opening quote to its closing rune. Apostrophes are
// not quotes: they occur inside names.
var closingQuote = map[rune]rune{
	'"': '"',
	'«': '»',
	'“': '”',
	'„': '“',
}

// tokenizeCommandLine splits text on whitespace, keeping quoted spans
// together. A backslash escapes the next rune.
//
//	/set_name "Anna Petrova" «Boris»  ->  [/set_name, Anna Petrova, Boris]
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out    []string
		buf    strings.Builder
		quoted bool // current token came from quotes, keep even if empty
		closer rune
		inQ    bool
		esc    bool
	)
	flush := func() {
		if buf.Len() > 0 || quoted {
			out = append(out, buf.String())
		}
		buf.Reset()
		quoted = false
	}
	for _, r := range s {
		switch {
		case esc:
			buf.WriteRune(r)
			esc = false
		case r == '\\':
			esc = true
		case inQ:
			if r == closer {
				inQ = false
				continue
			}
			buf.WriteRune(r)
		case closingQuote[r] != 0:
			inQ, quoted, closer = true, true, closingQuote[r]
		case unicode.IsSpace(r):
			flush()
		default:
			buf.WriteRune(r)
		}
	}
	flush()
	return out
}

// splitCommand parses "/name@bot args..." into the lowercased command name
// and the raw argument text. ok is false when text is not a command.
func splitCommand(text string) (name, rawArgs string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) == 1 {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexFunc(head, unicode.IsSpace); i >= 0 {
		// newline or tab right after the command
		rest = head[i:] + " " + rest
		head = head[:i]
	}
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}
