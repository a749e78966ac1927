package connection

import (
	"sort"
	"strings"
	"sync"
)

// ManagerFactory builds a manager for a normalised exchange name.
type ManagerFactory func(exchange string) *Manager

// Registry maps exchange names to their managers. Names are case-insensitive.
type Registry struct {
	mu       sync.RWMutex
	managers map[string]*Manager
	factory  ManagerFactory
}

// NewRegistry creates an empty registry. A nil factory falls back to NewManager with default options.
func NewRegistry(factory ManagerFactory) *Registry {
	if factory == nil {
		factory = func(exchange string) *Manager { return NewManager(exchange) }
	}
	return &Registry{
		managers: make(map[string]*Manager),
		factory:  factory,
	}
}

// GetOrCreate returns the manager for the exchange, creating it on first use. Concurrent callers for
// the same name observe the same instance.
func (r *Registry) GetOrCreate(exchange string) *Manager {
	key := normaliseName(exchange)
	r.mu.RLock()
	mgr, ok := r.managers[key]
	r.mu.RUnlock()
	if ok {
		return mgr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if mgr, ok = r.managers[key]; ok {
		return mgr
	}
	mgr = r.factory(key)
	r.managers[key] = mgr
	return mgr
}

// Get returns the manager for the exchange if one exists.
func (r *Registry) Get(exchange string) (*Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mgr, ok := r.managers[normaliseName(exchange)]
	return mgr, ok
}

// Names lists registered exchanges in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.managers))
	for name := range r.managers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normaliseName(exchange string) string {
	return strings.ToLower(strings.TrimSpace(exchange))
}
