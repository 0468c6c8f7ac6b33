package pgtask

import (
	"fmt"
	"sync"
)

// Registry is an explicit, application-constructed table of Tasks. A
// Worker dispatches fetched jobs by looking up their Task name here.
//
// Unlike the source system this design is adapted from, there is no
// process-wide global registry: a Registry is a value you build at
// startup and hand to NewWorker, so multiple Workers in the same process
// (or in tests) never share hidden mutable state.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Register adds t to the registry. It returns an error if t.Name is
// empty, t.Handler is nil, or a task with the same name is already
// registered.
func (r *Registry) Register(t *Task) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("pgtask: task must have a non-empty name")
	}
	if t.Handler == nil {
		return fmt.Errorf("pgtask: task %q must have a handler", t.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[t.Name]; exists {
		return fmt.Errorf("pgtask: task %q already registered", t.Name)
	}
	r.tasks[t.Name] = t
	return nil
}

// Lookup returns the task registered under name, or (nil, false) if
// none is — the Worker treats the latter as ErrTaskNotFound.
func (r *Registry) Lookup(name string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	return t, ok
}

// Periodic returns every registered task that carries a PeriodicSchedule,
// for the periodic deferrer to enumerate at startup.
func (r *Registry) Periodic() []*Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Task, 0)
	for _, t := range r.tasks {
		if t.Periodic != nil {
			out = append(out, t)
		}
	}
	return out
}
