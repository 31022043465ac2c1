package bot

import (
	"sync"
	"time"

	"giftbot/internal/participant"
)

type step int

const (
	stepNone step = iota
	stepRegName
	stepRegBirthday
	stepRegWish
	stepEditMenu
	stepEditName
	stepEditBirthday
	stepEditWish
)

// session is one user's dialog state. Values are copies; callers write
// them back with put.
type session struct {
	step     step
	name     string
	birthday participant.Date
	touched  time.Time
}

// sessions holds dialog state in memory. Idle sessions expire.
type sessions struct {
	mu  sync.Mutex
	m   map[int64]session
	ttl time.Duration
	now func() time.Time
}

func newSessions(ttl time.Duration, now func() time.Time) *sessions {
	return &sessions{m: map[int64]session{}, ttl: ttl, now: now}
}

func (s *sessions) get(userID int64) session {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m[userID]
	if !ok {
		return session{}
	}
	if s.now().Sub(cur.touched) > s.ttl {
		delete(s.m, userID)
		return session{}
	}
	return cur
}

func (s *sessions) put(userID int64, cur session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur.step == stepNone {
		delete(s.m, userID)
		return
	}
	now := s.now()
	cur.touched = now
	s.m[userID] = cur
	if len(s.m) > 1000 {
		for id, v := range s.m {
			if now.Sub(v.touched) > s.ttl {
				delete(s.m, id)
			}
		}
	}
}

func (s *sessions) drop(userID int64) {
	s.mu.Lock()
	delete(s.m, userID)
	s.mu.Unlock()
}
