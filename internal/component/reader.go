// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package component

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/samber/oops"
)

// ErrPropertyInfoNotFound indicates the schema declares no such property.
var ErrPropertyInfoNotFound = errors.New("property info not found")

// SchemaReader is a read-only typed accessor over a Schema. An empty
// property name addresses the component-level attributes. Missing or
// unparseable attributes read as zero values.
type SchemaReader struct {
	schema *Schema
}

// NewSchemaReader wraps schema.
func NewSchemaReader(schema *Schema) *SchemaReader {
	return &SchemaReader{schema: schema}
}

// Schema returns the wrapped schema.
func (r *SchemaReader) Schema() *Schema {
	return r.schema
}

// HasTag reports whether the component carries tag.
func (r *SchemaReader) HasTag(tag string) bool {
	return r.schema.HasTag(tag)
}

// PropertyInfo looks up a property by name. A leading "/" is ignored so
// property paths can be passed directly.
func (r *SchemaReader) PropertyInfo(name string) (PropertyInfo, error) {
	name = strings.TrimPrefix(name, "/")
	for _, p := range r.schema.Properties {
		if p.Name == name {
			return p, nil
		}
	}
	return PropertyInfo{}, oops.Code("PROPERTY_INFO_NOT_FOUND").
		With("component_type", r.schema.ComponentType).
		With("property", name).
		Wrapf(ErrPropertyInfoNotFound, "property %q is not declared", name)
}

// BoolAttribute parses an attribute as a bool.
func (r *SchemaReader) BoolAttribute(attribute, property string) bool {
	v, ok := r.attribute(attribute, property)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// StringAttribute returns an attribute's raw string.
func (r *SchemaReader) StringAttribute(attribute, property string) string {
	v, _ := r.attribute(attribute, property)
	return v
}

// IntAttribute parses an attribute as an int.
func (r *SchemaReader) IntAttribute(attribute, property string) int {
	v, ok := r.attribute(attribute, property)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// FloatAttribute parses an attribute as a float64.
func (r *SchemaReader) FloatAttribute(attribute, property string) float64 {
	v, ok := r.attribute(attribute, property)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

// ObjectAttribute decodes a JSON-valued attribute, such as "enum", into T.
func ObjectAttribute[T any](r *SchemaReader, attribute, property string) (T, error) {
	var out T
	v, ok := r.attribute(attribute, property)
	if !ok {
		return out, oops.Code("ATTRIBUTE_NOT_FOUND").
			With("attribute", attribute).
			With("property", property).
			Errorf("attribute %q not found", attribute)
	}
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return out, oops.Code("ATTRIBUTE_DECODE_FAILED").
			With("attribute", attribute).
			With("property", property).
			Wrapf(err, "failed to deserialize object attribute %q", attribute)
	}
	return out, nil
}

func (r *SchemaReader) attribute(attribute, property string) (string, bool) {
	attrs := r.schema.Attributes
	if property != "" {
		info, err := r.PropertyInfo(property)
		if err != nil {
			return "", false
		}
		attrs = info.Attributes
	}
	v, ok := attrs[attribute]
	return v, ok
}
