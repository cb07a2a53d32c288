// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package proxy

import (
	"errors"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/entitystore/internal/component"
	"github.com/holomush/entitystore/internal/entity"
	"github.com/holomush/entitystore/internal/jsondoc"
	"github.com/holomush/entitystore/internal/messaging"
)

// ErrInvalidated is returned by proxies whose component was restructured or
// destroyed.
var ErrInvalidated = errors.New("component proxy is invalidated")

// Proxy is a read and write view of one component. It stays bound to its
// key until the owning entity's component list changes, after which every
// call fails with ErrInvalidated.
type Proxy struct {
	key           entity.ComponentKey
	componentType string
	schema        *component.Schema
	accessor      Accessor
	messenger     *messaging.Messenger

	mu        sync.RWMutex
	valid     bool
	listeners []func(path string)
}

func newProxy(key entity.ComponentKey, componentType string, schema *component.Schema, accessor Accessor, messenger *messaging.Messenger) *Proxy {
	p := &Proxy{
		key:           key,
		componentType: componentType,
		schema:        schema,
		accessor:      accessor,
		messenger:     messenger,
		valid:         true,
	}
	if messenger != nil {
		messaging.Register(messenger, p, p.onComponentChanged)
		messaging.Register(messenger, p, p.onEntityDestroyed)
	}
	return p
}

// Key returns the component address.
func (p *Proxy) Key() entity.ComponentKey {
	return p.key
}

// ComponentType returns the declared type, without version, even when it is
// not registered.
func (p *Proxy) ComponentType() string {
	return p.componentType
}

// Schema returns the resolved component schema, or nil when the type is
// not registered.
func (p *Proxy) Schema() *component.Schema {
	return p.schema
}

// Resolved reports whether the component type is registered.
func (p *Proxy) Resolved() bool {
	return p.schema != nil
}

// IsValid reports whether the proxy has not been invalidated.
func (p *Proxy) IsValid() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.valid
}

// GetString returns the string at path, or "" when the property is missing
// or not a string.
func (p *Proxy) GetString(path string) string {
	v, err := p.value(path)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// GetPropertyJSON returns the property at path as compact JSON.
func (p *Proxy) GetPropertyJSON(path string) (string, error) {
	v, err := p.value(path)
	if err != nil {
		return "", err
	}
	return jsondoc.Compact(v)
}

// SetProperty writes value at path. insert adds a new member or array
// element instead of replacing an existing one.
func (p *Proxy) SetProperty(path string, value any, insert bool) error {
	if err := p.check(); err != nil {
		return err
	}
	return p.accessor.SetProperty(p.key, path, value, insert)
}

// OnPropertyChanged registers fn to run after any property of this
// component changes. fn receives the property path.
func (p *Proxy) OnPropertyChanged(fn func(path string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Invalidate detaches the proxy. It is idempotent.
func (p *Proxy) Invalidate() {
	p.mu.Lock()
	wasValid := p.valid
	p.valid = false
	p.listeners = nil
	p.mu.Unlock()

	if wasValid && p.messenger != nil {
		p.messenger.Unregister(p)
	}
}

// GetProperty decodes the property at path into T.
func GetProperty[T any](p *Proxy, path string) (T, error) {
	var out T
	v, err := p.value(path)
	if err != nil {
		return out, err
	}
	if err := jsondoc.Into(v, &out); err != nil {
		return out, oops.Code("PROPERTY_TYPE_MISMATCH").
			With("component", p.key.String()).
			With("path", path).
			Wrapf(err, "property cannot be read as %T", out)
	}
	return out, nil
}

func (p *Proxy) value(path string) (any, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	return p.accessor.GetPropertyValue(p.key, path)
}

func (p *Proxy) check() error {
	if !p.IsValid() {
		return oops.Code("PROXY_INVALIDATED").
			With("component", p.key.String()).
			Wrap(ErrInvalidated)
	}
	return nil
}

func (p *Proxy) onComponentChanged(msg entity.ComponentChangedMessage) {
	if msg.Key.Resource != p.key.Resource {
		return
	}
	if msg.Structural() {
		p.Invalidate()
		return
	}
	if msg.Key.Index != p.key.Index {
		return
	}

	p.mu.RLock()
	listeners := append([]func(string){}, p.listeners...)
	valid := p.valid
	p.mu.RUnlock()
	if !valid {
		return
	}
	for _, fn := range listeners {
		fn(msg.PropertyPath)
	}
}

func (p *Proxy) onEntityDestroyed(msg entity.EntityDestroyedMessage) {
	if msg.Resource == p.key.Resource {
		p.Invalidate()
	}
}
