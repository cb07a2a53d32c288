// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package component loads component schemas and prototypes from a static
// table of descriptors and resolves component type strings to them.
package component

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/oops"
)

// TypeKey is the component field holding "<Type>#<Version>".
const TypeKey = "_type"

// ErrInvalidComponentType indicates a type string is not "<Type>#<Version>".
var ErrInvalidComponentType = errors.New("invalid component type")

// PropertyInfo describes one public property declared by a component schema.
type PropertyInfo struct {
	Name       string
	Type       string
	Attributes map[string]string
}

// Schema is the descriptive part of a component config: what the component
// is called, how it is tagged, and which properties it exposes.
type Schema struct {
	ComponentType string
	Version       int
	Tags          map[string]struct{}
	Attributes    map[string]string
	Properties    []PropertyInfo
}

// HasTag reports whether the schema carries tag.
func (s *Schema) HasTag(tag string) bool {
	_, ok := s.Tags[tag]
	return ok
}

// TagList returns the tags in sorted order.
func (s *Schema) TagList() []string {
	tags := make([]string, 0, len(s.Tags))
	for t := range s.Tags {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// PropertyNames returns property names in declaration order.
func (s *Schema) PropertyNames() []string {
	names := make([]string, len(s.Properties))
	for i, p := range s.Properties {
		names[i] = p.Name
	}
	return names
}

// ParseTypeAndVersion splits "Namespace.Type#3" into its type and version.
func ParseTypeAndVersion(s string) (string, int, error) {
	if strings.TrimSpace(s) == "" {
		return "", 0, oops.Code("COMPONENT_TYPE_INVALID").Wrapf(ErrInvalidComponentType, "component type is empty")
	}
	parts := strings.Split(s, "#")
	if len(parts) != 2 || parts[0] == "" {
		return "", 0, oops.Code("COMPONENT_TYPE_INVALID").
			With("component_type", s).
			Wrapf(ErrInvalidComponentType, "component type %q is not in the format '<Component Type>#<Version>'", s)
	}
	version, err := strconv.Atoi(parts[1])
	if err != nil || version < 0 {
		return "", 0, oops.Code("COMPONENT_TYPE_INVALID").
			With("component_type", s).
			Wrapf(ErrInvalidComponentType, "component type %q has an invalid version", s)
	}
	return parts[0], version, nil
}

// FormatTypeAndVersion builds the "<Type>#<Version>" form.
func FormatTypeAndVersion(componentType string, version int) string {
	return fmt.Sprintf("%s#%d", componentType, version)
}

// Namespace returns the part of a dotted component type before the last dot,
// or "" when there is none.
func Namespace(componentType string) string {
	i := strings.LastIndex(componentType, ".")
	if i <= 0 {
		return ""
	}
	return componentType[:i]
}

// TypeOf reads and parses the _type field of a component object.
func TypeOf(component any) (string, int, error) {
	obj, ok := component.(map[string]any)
	if !ok {
		return "", 0, oops.Code("COMPONENT_TYPE_INVALID").Wrapf(ErrInvalidComponentType, "component is not a JSON object")
	}
	raw, ok := obj[TypeKey].(string)
	if !ok {
		return "", 0, oops.Code("COMPONENT_TYPE_INVALID").Wrapf(ErrInvalidComponentType, "component has no string %q field", TypeKey)
	}
	return ParseTypeAndVersion(raw)
}
