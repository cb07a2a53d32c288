// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package entity

import (
	"sort"

	"github.com/samber/oops"

	"github.com/holomush/entitystore/internal/component"
	"github.com/holomush/entitystore/internal/jsondoc"
)

// ConfigLookup resolves component types. *component.ConfigRegistry
// implements it.
type ConfigLookup interface {
	GetComponentConfig(componentType string) (*component.Config, error)
	ValidateComponent(c any) (*component.Config, error)
}

// Data is one entity document plus the tag set derived from its resolved
// components. It is not safe for concurrent use; Entity guards it.
type Data struct {
	doc        map[string]any
	tags       map[string]struct{}
	unresolved []int
}

// newData wraps doc and derives tags from configs.
func newData(doc map[string]any, configs ConfigLookup) *Data {
	d := &Data{doc: doc}
	d.refreshTags(configs)
	return d
}

// refreshTags recomputes the tag union and the unresolved index list.
func (d *Data) refreshTags(configs ConfigLookup) {
	d.tags = make(map[string]struct{})
	d.unresolved = nil
	for i, c := range componentList(d.doc) {
		cfg, ok := resolve(c, configs)
		if !ok {
			d.unresolved = append(d.unresolved, i)
			continue
		}
		for tag := range cfg.ComponentSchema.Tags {
			d.tags[tag] = struct{}{}
		}
	}
}

// resolve returns the registered config for c. A component whose type is
// unknown, or stored under another version, does not resolve.
func resolve(c any, configs ConfigLookup) (*component.Config, bool) {
	componentType, version, err := component.TypeOf(c)
	if err != nil {
		return nil, false
	}
	cfg, err := configs.GetComponentConfig(componentType)
	if err != nil || cfg.Version != version {
		return nil, false
	}
	return cfg, true
}

// validateComponents checks every resolved component. Unresolved components
// are kept as stored.
func validateComponents(doc map[string]any, configs ConfigLookup) error {
	for i, c := range componentList(doc) {
		cfg, ok := resolve(c, configs)
		if !ok {
			continue
		}
		if err := cfg.Validate(c); err != nil {
			return oops.Code("COMPONENT_INVALID").
				With("index", i).
				Wrapf(err, "component %d is invalid", i)
		}
	}
	return nil
}

// ComponentCount returns the number of components.
func (d *Data) ComponentCount() int {
	return len(componentList(d.doc))
}

// Component returns a deep copy of the component at index.
func (d *Data) Component(index int) (map[string]any, error) {
	list := componentList(d.doc)
	if index < 0 || index >= len(list) {
		return nil, componentIndexError(index, len(list))
	}
	obj, ok := list[index].(map[string]any)
	if !ok {
		return nil, oops.Code("COMPONENT_TYPE_INVALID").
			With("index", index).
			Wrapf(component.ErrInvalidComponentType, "component %d is not an object", index)
	}
	return jsondoc.Clone(obj).(map[string]any), nil
}

// ComponentType returns the type and version tag of the component at index.
func (d *Data) ComponentType(index int) (string, int, error) {
	list := componentList(d.doc)
	if index < 0 || index >= len(list) {
		return "", 0, componentIndexError(index, len(list))
	}
	return component.TypeOf(list[index])
}

// ComponentsOfType returns the indices of components whose type matches,
// regardless of version.
func (d *Data) ComponentsOfType(componentType string) []int {
	var out []int
	for i, c := range componentList(d.doc) {
		t, _, err := component.TypeOf(c)
		if err == nil && t == componentType {
			out = append(out, i)
		}
	}
	return out
}

// Value returns a deep copy of the value at ptr.
func (d *Data) Value(ptr Pointer) (any, error) {
	v, err := valueAt(d.doc, ptr)
	if err != nil {
		return nil, err
	}
	return jsondoc.Clone(v), nil
}

// HasTag reports whether any resolved component carries tag.
func (d *Data) HasTag(tag string) bool {
	_, ok := d.tags[tag]
	return ok
}

// Tags returns the sorted tag set.
func (d *Data) Tags() []string {
	out := make([]string, 0, len(d.tags))
	for t := range d.tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// UnresolvedComponents returns indices of components whose type is unknown.
func (d *Data) UnresolvedComponents() []int {
	return append([]int(nil), d.unresolved...)
}

// Document returns a deep copy of the raw document.
func (d *Data) Document() map[string]any {
	return jsondoc.Clone(d.doc).(map[string]any)
}

func (d *Data) clone() *Data {
	tags := make(map[string]struct{}, len(d.tags))
	for t := range d.tags {
		tags[t] = struct{}{}
	}
	return &Data{
		doc:        d.Document(),
		tags:       tags,
		unresolved: d.UnresolvedComponents(),
	}
}

func componentIndexError(index, count int) error {
	return oops.Code("COMPONENT_INDEX_OUT_OF_RANGE").
		With("index", index).
		With("count", count).
		Wrapf(ErrComponentIndexOutOfRange, "component index %d out of range [0, %d)", index, count)
}
