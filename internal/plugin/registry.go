// Package plugin maps connector type names to connector factories.
package plugin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"azflow/internal/apperrors"
	"azflow/internal/config"
	"azflow/internal/connector"
)

// Env carries the per-instance collaborators handed to a factory.
type Env struct {
	Name     string
	Lookup   config.Lookup
	Observer connector.Observer
	Logger   *slog.Logger
}

// Options converts env into connector options.
func (e Env) Options() []connector.Option {
	opts := []connector.Option{connector.WithName(e.Name)}
	if e.Lookup != nil {
		opts = append(opts, connector.WithLookup(e.Lookup))
	}
	if e.Observer != nil {
		opts = append(opts, connector.WithObserver(e.Observer))
	}
	if e.Logger != nil {
		opts = append(opts, connector.WithLogger(e.Logger))
	}
	return opts
}

// Factory builds a connector from its raw JSON configuration.
type Factory func(raw json.RawMessage, env Env) (connector.Connector, error)

// Registry holds the known connector types.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a connector type. Registering a name twice is a conflict.
func (r *Registry) Register(kind string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[kind]; exists {
		return apperrors.Conflict("connector type", kind, fmt.Sprintf("connector type %s already registered", kind))
	}
	r.factories[kind] = f
	return nil
}

// Kinds returns the registered type names in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// New builds a connector of the given type.
func (r *Registry) New(kind string, raw json.RawMessage, env Env) (connector.Connector, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, apperrors.Validation("type", fmt.Sprintf("unknown connector type %q", kind))
	}
	return f(raw, env)
}

// decodeStrict unmarshals raw into v, rejecting unknown fields.
func decodeStrict(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Validation("config", fmt.Sprintf("invalid connector config: %v", err))
	}
	return nil
}
