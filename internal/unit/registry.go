package unit

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

// Config represents unit-specific configuration (opaque to the runtime).
type Config map[string]any

// String returns a string option or fallback when unset.
func (c Config) String(key, fallback string) string {
	if s, ok := c[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// Factory constructs a unit with the provided configuration.
type Factory func(Config) (Unit, error)

// Registry maintains known unit factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register installs a factory. Returns an error if the id already exists.
func (r *Registry) Register(id string, factory Factory) error {
	if id == "" {
		return errors.New("unit: id is required")
	}
	if factory == nil {
		return errors.Newf("unit: factory is required for %s", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[id]; exists {
		return errors.Newf("unit: %s already registered", id)
	}
	r.factories[id] = factory
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(id string, factory Factory) {
	if err := r.Register(id, factory); err != nil {
		panic(err)
	}
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[id]
	return ok
}

// Resolve constructs a unit by id.
func (r *Registry) Resolve(id string, cfg Config) (Unit, error) {
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownUnit, "%s", id)
	}
	u, err := factory(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "unit: build %s", id)
	}
	if err := u.Info().Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

// IDs returns a sorted list of registered unit identifiers.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
