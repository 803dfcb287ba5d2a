package datasource

import (
	"fmt"
	"sort"
	"sync"
)

// Config is a key-value map of source-specific settings.
type Config map[string]any

// String returns the string value of key, or "".
func (c Config) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Factory builds a DataSource from config. Adapter packages register their
// factory in init().
type Factory interface {
	Name() string
	Description() string
	Create(cfg Config) (DataSource, error)
}

// Registry holds registered data source factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// GlobalRegistry is where adapter packages register themselves.
var GlobalRegistry = NewRegistry()

// Register adds a factory, replacing one with the same name.
func (r *Registry) Register(factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[factory.Name()] = factory
}

// Create builds the data source registered under name.
func (r *Registry) Create(name string, cfg Config) (DataSource, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown data source: %s", name)
	}
	return factory.Create(cfg)
}

// CreateAll builds the named sources in order. The first failure aborts.
func (r *Registry) CreateAll(names []string, cfg Config) ([]DataSource, error) {
	out := make([]DataSource, 0, len(names))
	for _, name := range names {
		ds, err := r.Create(name, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}

// ListRegistered returns the registered names, sorted.
func (r *Registry) ListRegistered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns name → description for every registered factory.
func (r *Registry) Describe() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.factories))
	for name, f := range r.factories {
		out[name] = f.Description()
	}
	return out
}
