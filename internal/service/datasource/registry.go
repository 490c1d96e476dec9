package datasource

import (
	"sort"
	"sync"

	"SignalPulse/internal/domain/errs"
	"SignalPulse/internal/domain/repository"
)

// Registry maps a provider kind to its DataSource.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]repository.DataSource
}

// NewRegistry registers sources under their Kind.
func NewRegistry(sources ...repository.DataSource) *Registry {
	r := &Registry{sources: make(map[string]repository.DataSource, len(sources))}
	for _, s := range sources {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a source.
func (r *Registry) Register(s repository.DataSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Kind()] = s
}

// Get returns the source for kind, or a config_error.
func (r *Registry) Get(kind string) (repository.DataSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[kind]
	if !ok {
		return nil, errs.Config("unknown data provider %q", kind)
	}
	return s, nil
}

// Supports reports whether kind serves interval.
func (r *Registry) Supports(kind, interval string) bool {
	s, err := r.Get(kind)
	if err != nil {
		return false
	}
	for _, iv := range s.Intervals() {
		if iv == interval {
			return true
		}
	}
	return false
}

// Kinds lists registered kinds in order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sources))
	for k := range r.sources {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
