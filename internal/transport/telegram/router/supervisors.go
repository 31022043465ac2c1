package router

import (
	"maps"
	"sync"

	"giftbot/internal/runtime/supervisor"
)

// SupervisorRegistry tracks the running subsystem supervisors for health
// reporting. It is shared across goroutines, so access is locked.
type SupervisorRegistry struct {
	mu sync.RWMutex
	m  map[string]*Supervisor
}

func NewSupervisorRegistry() *SupervisorRegistry {
	return &SupervisorRegistry{m: map[string]*Supervisor{}}
}

// Set registers sup under name. A nil sup deletes the entry.
func (r *SupervisorRegistry) Set(name string, sup *Supervisor) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sup == nil {
		delete(r.m, name)
		return
	}
	r.m[name] = sup
}

func (r *SupervisorRegistry) Delete(name string) {
	r.Set(name, nil)
}

// Snapshot returns a copy of the registry.
func (r *SupervisorRegistry) Snapshot() map[string]*Supervisor {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.m)
}

// Stats returns every supervisor's snapshot keyed by name.
func (r *SupervisorRegistry) Stats() map[string]supervisor.Snapshot {
	sups := r.Snapshot()
	out := make(map[string]supervisor.Snapshot, len(sups))
	for n, s := range sups {
		out[n] = s.Snapshot()
	}
	return out
}
