package strategy

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Info holds runtime counters for a registered strategy (for status APIs).
type Info struct {
	Name          string     `json:"name"`
	EventDriven   bool       `json:"event_driven"`
	Opportunities int64      `json:"opportunities"`
	Errors        int64      `json:"errors"`
	LastProduced  *time.Time `json:"last_produced,omitempty"`
}

// Registry manages a named collection of strategies that can be looked up at
// runtime. Event capability is detected once at registration, not per event.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	eventNames []string
	info       map[string]*Info
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
		info:       make(map[string]*Info),
	}
}

// Register adds a strategy under its own name. If a strategy with the same
// name already exists it is replaced.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	_, wasEvent := r.strategies[name].(EventDrivenStrategy)
	_, isEvent := s.(EventDrivenStrategy)

	r.strategies[name] = s
	r.info[name] = &Info{Name: name, EventDriven: isEvent}

	if isEvent && !wasEvent {
		r.eventNames = append(r.eventNames, name)
		sort.Strings(r.eventNames)
	}
	if !isEvent && wasEvent {
		for i, n := range r.eventNames {
			if n == name {
				r.eventNames = append(r.eventNames[:i], r.eventNames[i+1:]...)
				break
			}
		}
	}
}

// Get retrieves a strategy by name. It returns an error when the name is not
// registered.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", name)
	}
	return s, nil
}

// List returns the names of all registered strategies in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// EventDriven returns every strategy registered with the event capability,
// in name order.
func (r *Registry) EventDriven() []EventDrivenStrategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]EventDrivenStrategy, 0, len(r.eventNames))
	for _, n := range r.eventNames {
		out = append(out, r.strategies[n].(EventDrivenStrategy))
	}
	return out
}

// RecordProduced bumps the opportunity counter for a strategy.
func (r *Registry) RecordProduced(name string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.info[name]; ok {
		info.Opportunities += int64(n)
		now := time.Now().UTC()
		info.LastProduced = &now
	}
}

// RecordError bumps the error counter for a strategy.
func (r *Registry) RecordError(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.info[name]; ok {
		info.Errors++
	}
}

// ListInfo returns runtime counters for all registered strategies in name
// order.
func (r *Registry) ListInfo() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.info))
	for n := range r.info {
		names = append(names, n)
	}
	sort.Strings(names)

	infos := make([]Info, 0, len(names))
	for _, n := range names {
		infos = append(infos, *r.info[n])
	}
	return infos
}
