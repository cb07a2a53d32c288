// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package proxy caches component proxies and evicts them when the component
// list of their entity changes.
package proxy

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/entitystore/internal/component"
	"github.com/holomush/entitystore/internal/entity"
	"github.com/holomush/entitystore/internal/messaging"
	"github.com/holomush/entitystore/internal/resource"
)

// ErrComponentNotFound is returned when an entity has no component of the
// requested type.
var ErrComponentNotFound = errors.New("no component of the requested type")

// ErrUnstable is returned when a resource kept changing structurally while
// its proxies were being built.
var ErrUnstable = errors.New("resource changed while building proxies")

// maxBuildAttempts bounds rebuilds of a proxy or list whose resource changed
// structurally mid-build.
const maxBuildAttempts = 16

// Accessor is the entity access a proxy needs. entities.Service implements
// it.
type Accessor interface {
	GetComponentCount(res resource.Key) (int, error)
	// GetComponentType returns the declared type without version. It
	// succeeds for types that are not registered.
	GetComponentType(key entity.ComponentKey) (string, error)
	GetComponentSchema(componentType string) (*component.Schema, error)
	GetPropertyValue(key entity.ComponentKey, path string) (any, error)
	SetProperty(key entity.ComponentKey, path string, value any, insert bool) error
}

// Service hands out cached proxies. Proxies are kept per component key and
// as an ordered list per resource; both levels are evicted together.
type Service struct {
	accessor  Accessor
	messenger *messaging.Messenger
	logger    *slog.Logger

	mu      sync.RWMutex
	proxies map[entity.ComponentKey]*Proxy
	lists   map[resource.Key][]*Proxy
	// generations counts structural invalidations per resource. A build
	// is cached only if the count did not move while it read the entity.
	generations map[resource.Key]uint64
}

// NewService creates a proxy service. Call Start to enable invalidation.
func NewService(accessor Accessor, messenger *messaging.Messenger) *Service {
	return &Service{
		accessor:    accessor,
		messenger:   messenger,
		logger:      slog.Default(),
		proxies:     make(map[entity.ComponentKey]*Proxy),
		lists:       make(map[resource.Key][]*Proxy),
		generations: make(map[resource.Key]uint64),
	}
}

// Start subscribes to entity change messages.
func (s *Service) Start() {
	messaging.Register(s.messenger, s, func(msg entity.ComponentChangedMessage) {
		if msg.Structural() {
			s.invalidateResource(msg.Key.Resource)
		}
	})
	messaging.Register(s.messenger, s, func(msg entity.EntityDestroyedMessage) {
		s.invalidateResource(msg.Resource)
	})
}

// Stop unsubscribes and invalidates every cached proxy.
func (s *Service) Stop() {
	s.messenger.Unregister(s)

	s.mu.Lock()
	proxies := s.proxies
	s.proxies = make(map[entity.ComponentKey]*Proxy)
	s.lists = make(map[resource.Key][]*Proxy)
	s.mu.Unlock()

	for _, p := range proxies {
		p.Invalidate()
	}
}

// GetComponent returns the proxy for key, building it on first use. A
// component whose type is not registered yields an unresolved proxy.
func (s *Service) GetComponent(key entity.ComponentKey) (*Proxy, error) {
	s.mu.RLock()
	p, ok := s.proxies[key]
	s.mu.RUnlock()
	if ok && p.IsValid() {
		return p, nil
	}

	for range maxBuildAttempts {
		gen := s.generation(key.Resource)
		componentType, schema, err := s.describe(key)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if existing, ok := s.proxies[key]; ok && existing.IsValid() {
			s.mu.Unlock()
			return existing, nil
		}
		if s.generations[key.Resource] != gen {
			s.mu.Unlock()
			continue
		}
		p = newProxy(key, componentType, schema, s.accessor, s.messenger)
		s.proxies[key] = p
		s.mu.Unlock()

		s.logger.Debug("component proxy created", "component", key.String(), "component_type", componentType, "resolved", schema != nil)
		return p, nil
	}
	return nil, oops.Code("COMPONENT_UNSTABLE").
		With("component", key.String()).
		Wrap(ErrUnstable)
}

// describe reads the type and schema of the component at key.
func (s *Service) describe(key entity.ComponentKey) (string, *component.Schema, error) {
	count, err := s.accessor.GetComponentCount(key.Resource)
	if err != nil {
		return "", nil, err
	}
	if key.Index < 0 || key.Index >= count {
		return "", nil, oops.Code("COMPONENT_INDEX_OUT_OF_RANGE").
			With("resource", string(key.Resource)).
			With("index", key.Index).
			Wrapf(entity.ErrComponentIndexOutOfRange, "component index %d out of range [0,%d)", key.Index, count)
	}

	componentType, err := s.accessor.GetComponentType(key)
	if err != nil {
		return "", nil, err
	}
	schema, err := s.accessor.GetComponentSchema(componentType)
	if err != nil {
		if !errors.Is(err, component.ErrConfigNotFound) {
			return "", nil, err
		}
		schema = nil
	}
	return componentType, schema, nil
}

// GetComponents returns the resource's proxies in component order,
// filtered to componentType when it is not empty.
func (s *Service) GetComponents(res resource.Key, componentType string) ([]*Proxy, error) {
	all, err := s.list(res)
	if err != nil {
		return nil, err
	}
	if componentType == "" {
		return all, nil
	}
	var out []*Proxy
	for _, p := range all {
		if p.ComponentType() == componentType {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetComponentOfType returns the first component of componentType.
func (s *Service) GetComponentOfType(res resource.Key, componentType string) (*Proxy, error) {
	matches, err := s.GetComponents(res, componentType)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, oops.Code("COMPONENT_NOT_FOUND").
			With("resource", string(res)).
			With("component_type", componentType).
			Wrap(ErrComponentNotFound)
	}
	return matches[0], nil
}

// CachedCount returns the number of cached proxies.
func (s *Service) CachedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.proxies)
}

func (s *Service) list(res resource.Key) ([]*Proxy, error) {
	s.mu.RLock()
	cached, ok := s.lists[res]
	s.mu.RUnlock()
	if ok && allValid(cached) {
		return append([]*Proxy(nil), cached...), nil
	}

	for range maxBuildAttempts {
		gen := s.generation(res)
		count, err := s.accessor.GetComponentCount(res)
		if err != nil {
			return nil, err
		}
		built := make([]*Proxy, 0, count)
		for i := range count {
			p, err := s.GetComponent(entity.ComponentKey{Resource: res, Index: i})
			if err != nil {
				if errors.Is(err, entity.ErrComponentIndexOutOfRange) {
					// The list shrank under us; the generation check below retries.
					break
				}
				return nil, err
			}
			built = append(built, p)
		}

		s.mu.Lock()
		if s.generations[res] != gen || len(built) != count || !allValid(built) {
			s.mu.Unlock()
			continue
		}
		s.lists[res] = built
		s.mu.Unlock()
		return append([]*Proxy(nil), built...), nil
	}
	return nil, oops.Code("COMPONENT_UNSTABLE").
		With("resource", string(res)).
		Wrap(ErrUnstable)
}

func (s *Service) generation(res resource.Key) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generations[res]
}

func (s *Service) invalidateResource(res resource.Key) {
	s.mu.Lock()
	s.generations[res]++
	var dropped []*Proxy
	for key, p := range s.proxies {
		if key.Resource == res {
			dropped = append(dropped, p)
			delete(s.proxies, key)
		}
	}
	delete(s.lists, res)
	s.mu.Unlock()

	for _, p := range dropped {
		p.Invalidate()
	}
	if len(dropped) > 0 {
		s.logger.Debug("component proxies invalidated", "resource", string(res), "count", len(dropped))
	}
}

func allValid(proxies []*Proxy) bool {
	for _, p := range proxies {
		if !p.IsValid() {
			return false
		}
	}
	return true
}
