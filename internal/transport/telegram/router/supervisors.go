package router

import (
	"sort"
	"sync"

	rtsup "eventbot/internal/runtime/supervisor"
)

// SupervisorRegistry is a small thread-safe registry of subsystem supervisors,
// read by operational commands such as /status.
type SupervisorRegistry struct {
	mu sync.RWMutex
	m  map[string]*rtsup.Supervisor
}

func NewSupervisorRegistry() *SupervisorRegistry {
	return &SupervisorRegistry{m: map[string]*rtsup.Supervisor{}}
}

// Set registers (or replaces) a supervisor under name. A nil sup deletes the entry.
func (r *SupervisorRegistry) Set(name string, sup *rtsup.Supervisor) {
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

// SupervisorCounters is one row of Counters.
type SupervisorCounters struct {
	Name string
	rtsup.Counters
}

// Counters returns goroutine counters per registered supervisor, sorted by name.
func (r *SupervisorRegistry) Counters() []SupervisorCounters {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]SupervisorCounters, 0, len(r.m))
	for name, sup := range r.m {
		out = append(out, SupervisorCounters{Name: name, Counters: sup.Counters()})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
