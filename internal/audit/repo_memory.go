package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps events in process, indexed by type. Tests and local runs
// without postgres use it.
type MemoryRepo struct {
	mu     sync.RWMutex
	all    []Event
	byType map[EventType][]int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byType: make(map[EventType][]int)}
}

func (r *MemoryRepo) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	r.byType[e.Type] = append(r.byType[e.Type], len(r.all))
	r.all = append(r.all, e)
	r.mu.Unlock()
	return nil
}

// Events returns a snapshot in append order.
func (r *MemoryRepo) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Event(nil), r.all...)
}

// OfType returns the recorded events of type t in append order.
func (r *MemoryRepo) OfType(t EventType) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.byType[t]
	out := make([]Event, 0, len(idx))
	for _, i := range idx {
		out = append(out, r.all[i])
	}
	return out
}

// ForUser returns the events about username in append order.
func (r *MemoryRepo) ForUser(username string) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Event
	for _, e := range r.all {
		if e.Username == username {
			out = append(out, e)
		}
	}
	return out
}
