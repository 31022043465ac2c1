package storage

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"giftbot/internal/participant"
)

// Memory is a process-local Store. All operations hold one mutex, which
// gives the same atomicity as a transaction in the SQL drivers.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]participant.Participant
	audit  []AuditEntry

	// onChange runs under mu after every mutation. An error rolls the
	// mutation back.
	onChange func() error
}

func NewMemory() *Memory {
	return &Memory{nextID: 1, byID: map[int64]participant.Participant{}}
}

// mutate runs fn under mu. When fn or the change hook fails, byID and
// nextID are restored so a failed write leaves no trace.
func (m *Memory) mutate(fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, prevNext := maps.Clone(m.byID), m.nextID
	err := fn()
	if err == nil && m.onChange != nil {
		err = m.onChange()
	}
	if err != nil {
		m.byID, m.nextID = prev, prevNext
	}
	return err
}

func (m *Memory) GetByID(_ context.Context, id int64) (participant.Participant, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	return p, ok, nil
}

func (m *Memory) GetByExternalID(_ context.Context, externalID int64) (participant.Participant, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if p.ExternalID == externalID {
			return p, true, nil
		}
	}
	return participant.Participant{}, false, nil
}

func (m *Memory) FindByName(_ context.Context, name string) ([]participant.Participant, error) {
	name = strings.TrimSpace(name)
	return m.filter(func(p participant.Participant) bool { return p.Name == name }), nil
}

func (m *Memory) ListAll(context.Context) ([]participant.Participant, error) {
	return m.filter(func(participant.Participant) bool { return true }), nil
}

func (m *Memory) ListWithGiver(context.Context) ([]participant.Participant, error) {
	return m.filter(participant.Participant.HasGiver), nil
}

func (m *Memory) filter(keep func(participant.Participant) bool) []participant.Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]participant.Participant, 0, len(m.byID))
	for _, p := range m.byID {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) Create(_ context.Context, p participant.Participant) (participant.Participant, error) {
	err := m.mutate(func() error {
		for _, cur := range m.byID {
			if cur.ExternalID == p.ExternalID {
				return ErrAlreadyExists
			}
		}
		p.ID = m.nextID
		m.nextID++
		p.Name = strings.TrimSpace(p.Name)
		p.WardID, p.GiverID = 0, 0
		if p.RegisteredAt.IsZero() {
			p.RegisteredAt = time.Now().UTC()
		}
		m.byID[p.ID] = p
		return nil
	})
	if err != nil {
		return participant.Participant{}, err
	}
	return p, nil
}

func (m *Memory) Update(_ context.Context, id int64, patch participant.Patch) (participant.Participant, error) {
	var p participant.Participant
	err := m.mutate(func() error {
		cur, ok := m.byID[id]
		if !ok {
			return ErrNotFound
		}
		p = patch.Apply(cur)
		m.byID[id] = p
		return nil
	})
	if err != nil {
		return participant.Participant{}, err
	}
	return p, nil
}

func (m *Memory) Delete(_ context.Context, id int64) error {
	return m.mutate(func() error {
		if _, ok := m.byID[id]; !ok {
			return ErrNotFound
		}
		m.detach(id)
		delete(m.byID, id)
		return nil
	})
}

// detach clears every edge touching id. Caller holds mu.
func (m *Memory) detach(id int64) {
	for k, p := range m.byID {
		dirty := false
		if p.WardID == id {
			p.WardID = 0
			dirty = true
		}
		if p.GiverID == id {
			p.GiverID = 0
			dirty = true
		}
		if k == id {
			p.WardID, p.GiverID = 0, 0
			dirty = true
		}
		if dirty {
			m.byID[k] = p
		}
	}
}

func (m *Memory) SetPairingEdge(_ context.Context, giverID, wardID int64) error {
	if giverID == wardID {
		return ErrSelfPairing
	}
	return m.mutate(func() error {
		_, ok1 := m.byID[giverID]
		_, ok2 := m.byID[wardID]
		if !ok1 || !ok2 {
			return ErrNotFound
		}
		for k, p := range m.byID {
			if p.GiverID == giverID && k != wardID {
				p.GiverID = 0
				m.byID[k] = p
			}
			if p.WardID == wardID && k != giverID {
				p.WardID = 0
				m.byID[k] = p
			}
		}
		g := m.byID[giverID]
		w := m.byID[wardID]
		g.WardID = wardID
		w.GiverID = giverID
		m.byID[giverID] = g
		m.byID[wardID] = w
		return nil
	})
}

func (m *Memory) ApplyPairing(_ context.Context, ward map[int64]int64) error {
	return m.mutate(func() error {
		if err := checkPairing(ward, func(id int64) bool { _, ok := m.byID[id]; return ok }); err != nil {
			return err
		}
		m.clearAll()
		for g, w := range ward {
			gp := m.byID[g]
			gp.WardID = w
			m.byID[g] = gp
			wp := m.byID[w]
			wp.GiverID = g
			m.byID[w] = wp
		}
		return nil
	})
}

func (m *Memory) ClearEdges(_ context.Context, id int64) error {
	return m.mutate(func() error {
		if _, ok := m.byID[id]; !ok {
			return ErrNotFound
		}
		m.detach(id)
		return nil
	})
}

func (m *Memory) ClearAllEdges(context.Context) error {
	return m.mutate(func() error {
		m.clearAll()
		return nil
	})
}

// clearAll drops every edge. Caller holds mu.
func (m *Memory) clearAll() {
	for k, p := range m.byID {
		p.WardID, p.GiverID = 0, 0
		m.byID[k] = p
	}
}

func (m *Memory) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

// Audit returns a copy of the recorded audit entries.
func (m *Memory) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit...)
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }
