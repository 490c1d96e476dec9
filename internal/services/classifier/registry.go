package classifier

import (
    "fmt"
    "sort"
    "sync"

    "SignalPulse/internal/domain/errs"
    "SignalPulse/internal/domain/service"
)

// Factory builds a classifier for a provider key.
type Factory func() (service.Classifier, error)

// Registry maps a classifier provider key to its factory.
type Registry struct {
    mu        sync.RWMutex
    factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
    return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for key.
func (r *Registry) Register(key string, f Factory) {
    r.mu.Lock()
    defer r.mu.Unlock()
    r.factories[key] = f
}

// Build creates the classifier for key. Unknown keys are config errors.
func (r *Registry) Build(key string) (service.Classifier, error) {
    r.mu.RLock()
    f, ok := r.factories[key]
    r.mu.RUnlock()
    if !ok {
        return nil, errs.Config("unknown classifier provider %q (have %v)", key, r.Keys())
    }
    c, err := f()
    if err != nil {
        return nil, fmt.Errorf("build classifier %s: %w", key, err)
    }
    return c, nil
}

// Keys lists registered provider keys in order.
func (r *Registry) Keys() []string {
    r.mu.RLock()
    defer r.mu.RUnlock()
    keys := make([]string, 0, len(r.factories))
    for k := range r.factories {
        keys = append(keys, k)
    }
    sort.Strings(keys)
    return keys
}
