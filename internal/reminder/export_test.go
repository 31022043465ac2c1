package reminder

import "sort"

// pendingEntries lets tests trigger jobs without waiting for cron.
func (s *Scheduler) pendingEntries() []*entry {
	s.mu.RLock()
	out := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}
