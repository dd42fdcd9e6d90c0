package agent

import (
	"fmt"
	"sync"
)

// Entry pairs an id with its handle.
type Entry struct {
	ID    string
	Agent Agent
}

// Registry maps agent ids to handles and iterates in registration order.
// Thread-safe for concurrent access.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	agents map[string]Agent
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds a handle under id.
func (r *Registry) Register(id string, a Agent) error {
	if id == "" {
		return ErrEmptyAgentID
	}
	if a == nil {
		return fmt.Errorf("register %s: nil agent", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[id]; exists {
		return fmt.Errorf("%w: %s", ErrAgentExists, id)
	}
	r.agents[id] = a
	r.order = append(r.order, id)
	return nil
}

// Unregister removes id. Later Resolve calls report ErrAgentNotFound.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[id]; !exists {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	delete(r.agents, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Resolve returns the handle registered under id. A miss wraps
// ErrAgentNotFound; callers treat it as a temporarily unavailable agent.
func (r *Registry) Resolve(id string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return a, nil
}

// All returns a snapshot of every entry in registration order.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, Entry{ID: id, Agent: r.agents[id]})
	}
	return out
}

// Records describes every agent in registration order.
func (r *Registry) Records() []Record {
	entries := r.All()
	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		rec := RecordOf(e.Agent)
		rec.ID = e.ID
		out = append(out, rec)
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
