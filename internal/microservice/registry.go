package microservice

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps the handler names used in subscription config to factories.
type Registry struct {
	mu        sync.RWMutex
	handlers  map[string]HandlerFactory
	observers map[string]ObserverFactory
}

func NewRegistry() *Registry {
	return &Registry{
		handlers:  make(map[string]HandlerFactory),
		observers: make(map[string]ObserverFactory),
	}
}

func (r *Registry) RegisterHandler(name string, factory HandlerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = factory
}

func (r *Registry) RegisterObserver(name string, factory ObserverFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers[name] = factory
}

// Lookup returns exactly one of the two factories, handlers taking precedence.
func (r *Registry) Lookup(name string) (HandlerFactory, ObserverFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.handlers[name]; ok {
		return h, nil, nil
	}
	if o, ok := r.observers[name]; ok {
		return nil, o, nil
	}
	return nil, nil, fmt.Errorf("no handler or observer registered as %q", name)
}

// Names lists every registered name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers)+len(r.observers))
	for name := range r.handlers {
		names = append(names, name)
	}
	for name := range r.observers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
