// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/holomush/entitystore/internal/component"
	"github.com/holomush/entitystore/internal/jsondoc"
)

// Document keys.
const (
	VersionKey    = "_entityVersion"
	ComponentsKey = "_components"
)

// CurrentVersion is the only entity document version this engine writes.
const CurrentVersion = 1

// schemaID identifies the generated entity document schema.
const schemaID = "https://holomush.dev/schemas/entity.schema.json"

// documentShape describes an entity document for schema generation.
type documentShape struct {
	EntityVersion int              `json:"_entityVersion" jsonschema:"minimum=1,maximum=1,description=Entity document format version"`
	Components    []map[string]any `json:"_components" jsonschema:"description=Ordered component list; each component carries _type"`
}

// GenerateSchema returns the entity document JSON Schema.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&documentShape{})

	schema.ID = jsonschema.ID(schemaID)
	schema.Title = "Entity Document"
	schema.Description = "Schema for entity data files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// compileSchema compiles the generated entity document schema.
func compileSchema() (*jschema.Schema, error) {
	data, err := GenerateSchema()
	if err != nil {
		return nil, err
	}
	doc, err := jsondoc.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema JSON: %w", err)
	}

	c := jschema.NewCompiler()
	if err := c.AddResource(schemaID, doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	sch, err := c.Compile(schemaID)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return sch, nil
}

// newDocument returns an empty entity document.
func newDocument() map[string]any {
	return map[string]any{
		VersionKey:    json.Number("1"),
		ComponentsKey: []any{},
	}
}

// componentList returns the component list of doc, or nil if it has none.
func componentList(doc map[string]any) []any {
	list, _ := doc[ComponentsKey].([]any)
	return list
}

// PropertyOrder returns the declared property order for a component type,
// or nil when the type is not registered.
type PropertyOrder func(componentType string) []string

// OrderFromConfigs builds a PropertyOrder from a config lookup.
func OrderFromConfigs(configs ConfigLookup) PropertyOrder {
	return func(componentType string) []string {
		if configs == nil {
			return nil
		}
		cfg, err := configs.GetComponentConfig(componentType)
		if err != nil {
			return nil
		}
		return cfg.ComponentSchema.PropertyNames()
	}
}

// Encode renders doc canonically: two-space indent, trailing newline,
// _entityVersion before _components, and within each component _type
// first, then schema property order, then remaining keys sorted.
func Encode(doc map[string]any, order PropertyOrder) ([]byte, error) {
	top := orderedmap.New[string, any]()
	if v, ok := doc[VersionKey]; ok {
		top.Set(VersionKey, v)
	}
	if list, ok := doc[ComponentsKey].([]any); ok {
		ordered := make([]any, len(list))
		for i, c := range list {
			ordered[i] = orderComponent(c, order)
		}
		top.Set(ComponentsKey, ordered)
	}
	for _, k := range sortedKeys(doc) {
		if k != VersionKey && k != ComponentsKey {
			top.Set(k, doc[k])
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(top); err != nil {
		return nil, fmt.Errorf("failed to encode entity document: %w", err)
	}
	return buf.Bytes(), nil
}

func orderComponent(c any, order PropertyOrder) any {
	obj, ok := c.(map[string]any)
	if !ok {
		return c
	}
	out := orderedmap.New[string, any]()
	if v, ok := obj[component.TypeKey]; ok {
		out.Set(component.TypeKey, v)
	}
	if componentType, _, err := component.TypeOf(obj); err == nil && order != nil {
		for _, name := range order(componentType) {
			if v, ok := obj[name]; ok {
				out.Set(name, v)
			}
		}
	}
	for _, k := range sortedKeys(obj) {
		if _, present := out.Get(k); !present {
			out.Set(k, obj[k])
		}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
