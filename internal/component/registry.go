// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package component

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// ErrConfigNotFound indicates no config is registered for a component type.
var ErrConfigNotFound = errors.New("component config not found")

// ConfigRegistry holds one Config per component type. It is built once by
// Initialize and read-only afterwards.
type ConfigRegistry struct {
	descriptors []Descriptor

	mu      sync.RWMutex
	configs map[string]*Config
}

// NewConfigRegistry creates a registry over a static descriptor table.
func NewConfigRegistry(descriptors []Descriptor) *ConfigRegistry {
	return &ConfigRegistry{descriptors: descriptors}
}

// Initialize loads every descriptor. The first failure aborts and leaves the
// registry empty.
func (r *ConfigRegistry) Initialize() error {
	configs := make(map[string]*Config, len(r.descriptors))
	for _, d := range r.descriptors {
		cfg, err := NewConfig(d)
		if err != nil {
			return err
		}
		if existing, ok := configs[cfg.Type]; ok {
			return oops.Code("COMPONENT_TYPE_DUPLICATE").
				With("component_type", cfg.Type).
				With("editor", d.EditorName).
				With("existing_editor", existing.Descriptor.EditorName).
				Errorf("component type %q is registered more than once", cfg.Type)
		}
		configs[cfg.Type] = cfg
		slog.Debug("component config loaded", "component_type", cfg.Type, "version", cfg.Version)
	}

	r.mu.Lock()
	r.configs = configs
	r.mu.Unlock()
	slog.Info("component registry initialized", "count", len(configs))
	return nil
}

// GetComponentConfig looks up the config for componentType.
func (r *ConfigRegistry) GetComponentConfig(componentType string) (*Config, error) {
	r.mu.RLock()
	cfg, ok := r.configs[componentType]
	r.mu.RUnlock()
	if !ok {
		return nil, oops.Code("COMPONENT_CONFIG_NOT_FOUND").
			With("component_type", componentType).
			Wrapf(ErrConfigNotFound, "no config for component type %q", componentType)
	}
	return cfg, nil
}

// ComponentTypes returns all registered types in sorted order.
func (r *ConfigRegistry) ComponentTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.configs))
	for t := range r.configs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Configs returns all registered configs ordered by type.
func (r *ConfigRegistry) Configs() []*Config {
	types := r.ComponentTypes()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Config, 0, len(types))
	for _, t := range types {
		out = append(out, r.configs[t])
	}
	return out
}

// Match returns registered types matching a dotted glob pattern such as
// "Screenplay.*". Segments are separated by '.'.
func (r *ConfigRegistry) Match(pattern string) ([]string, error) {
	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return nil, oops.Code("COMPONENT_PATTERN_INVALID").
			With("pattern", pattern).
			Wrapf(err, "invalid component type pattern")
	}
	var out []string
	for _, t := range r.ComponentTypes() {
		if g.Match(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// ValidateComponent resolves a component's type and validates it. Unknown
// types return an error wrapping ErrConfigNotFound.
func (r *ConfigRegistry) ValidateComponent(c any) (*Config, error) {
	componentType, _, err := TypeOf(c)
	if err != nil {
		return nil, err
	}
	cfg, err := r.GetComponentConfig(componentType)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(c); err != nil {
		return cfg, err
	}
	return cfg, nil
}
