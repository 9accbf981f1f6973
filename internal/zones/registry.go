package zones

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrStackNotFound   = errors.New("stack not found")
	ErrStackRegistered = errors.New("stack already registered")
)

// Registry owns the live stacks of a server process. Each stack has its own
// lock; With runs fn while holding it, so all mutations of one stack are
// serialised while different stacks proceed independently.
type Registry struct {
	mu     sync.RWMutex
	stacks map[string]*entry
}

type entry struct {
	mu    sync.Mutex
	stack *Stack
}

func NewRegistry() *Registry {
	return &Registry{stacks: make(map[string]*entry)}
}

// Add registers stack under its ID.
func (r *Registry) Add(stack *Stack) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stacks[stack.ID]; ok {
		return ErrStackRegistered
	}
	r.stacks[stack.ID] = &entry{stack: stack}
	return nil
}

// Put registers stack, replacing any stack with the same ID.
func (r *Registry) Put(stack *Stack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stacks[stack.ID] = &entry{stack: stack}
}

// Remove drops the stack and reports whether it was registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stacks[id]; !ok {
		return false
	}
	delete(r.stacks, id)
	return true
}

func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.stacks[id]
	return ok
}

// With runs fn with exclusive access to the stack. The stack must not be
// retained after fn returns.
func (r *Registry) With(id string, fn func(*Stack) error) error {
	r.mu.RLock()
	e, ok := r.stacks[id]
	r.mu.RUnlock()
	if !ok {
		return ErrStackNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.stack)
}

// IDs returns the registered stack IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.stacks))
	for id := range r.stacks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stacks)
}
