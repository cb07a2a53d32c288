// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package component

import (
	"encoding/json"
	"fmt"
	"strings"

	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/holomush/entitystore/internal/jsondoc"
)

// Keys recognised in a component source document.
const (
	componentTypeKey = "_componentType"
	attributesKey    = "attributes"
	propertiesKey    = "properties"
	prototypeKey     = "prototype"
	requiredKey      = "required"
	typeKey          = "type"
	enumKey          = "enum"
	tagsAttribute    = "tags"
)

// editorSuffix is the naming convention every editor name must follow.
const editorSuffix = "Editor"

// SourceFormat identifies how a descriptor's source is encoded.
type SourceFormat int

// Supported source formats.
const (
	FormatJSON SourceFormat = iota
	FormatYAML
)

// EditorTarget is what an editor binds to. proxy.Proxy implements it.
type EditorTarget interface {
	ComponentType() string
	Schema() *Schema
}

// Editor is the host-side capability attached to a component type. The
// engine only constructs and binds editors; it never drives them.
type Editor interface {
	Initialize(target EditorTarget) error
}

// Descriptor is one entry of the static component registration table.
type Descriptor struct {
	// EditorName must end in "Editor"; the component type must end with
	// "." followed by the name minus that suffix.
	EditorName string
	Source     []byte
	Format     SourceFormat
	// NewEditor may be nil for components without an editor.
	NewEditor func() Editor
}

// Config is the immutable, validated configuration of one component type.
type Config struct {
	Type            string
	Version         int
	ComponentSchema *Schema
	Schema          *jschema.Schema
	Descriptor      Descriptor

	source    []byte
	prototype map[string]any
}

// TypeAndVersion returns the "<Type>#<Version>" tag stored in instances.
func (c *Config) TypeAndVersion() string {
	return FormatTypeAndVersion(c.Type, c.Version)
}

// Prototype returns a fresh copy of the default instance.
func (c *Config) Prototype() map[string]any {
	return jsondoc.Clone(c.prototype).(map[string]any)
}

// Source returns the component source as JSON text.
func (c *Config) Source() []byte {
	out := make([]byte, len(c.source))
	copy(out, c.source)
	return out
}

// Validate checks a component instance against this config.
func (c *Config) Validate(component any) error {
	componentType, version, err := TypeOf(component)
	if err != nil {
		return err
	}
	if componentType != c.Type || version != c.Version {
		return oops.Code("COMPONENT_TYPE_MISMATCH").
			With("component_type", c.Type).
			Errorf("component is tagged %q, expected %q", FormatTypeAndVersion(componentType, version), c.TypeAndVersion())
	}
	if err := c.Schema.Validate(component); err != nil {
		return oops.Code("COMPONENT_SCHEMA_INVALID").
			With("component_type", c.Type).
			Wrapf(err, "component does not match schema for %q", c.Type)
	}
	return nil
}

// NewConfig builds and validates a Config from a descriptor.
func NewConfig(d Descriptor) (*Config, error) {
	errb := oops.Code("COMPONENT_CONFIG_INVALID").With("editor", d.EditorName)

	source := d.Source
	if d.Format == FormatYAML {
		converted, err := jsondoc.YAMLToJSON(d.Source)
		if err != nil {
			return nil, errb.Wrapf(err, "failed to convert YAML source")
		}
		source = converted
	}

	tree, err := jsondoc.Decode(source)
	if err != nil {
		return nil, errb.Wrapf(err, "failed to parse component source")
	}
	root, ok := tree.(map[string]any)
	if !ok {
		return nil, errb.Errorf("component source is not a JSON object")
	}

	typeAndVersion, ok := root[componentTypeKey].(string)
	if !ok || typeAndVersion == "" {
		return nil, errb.Errorf("component source has no %q string", componentTypeKey)
	}
	componentType, version, err := ParseTypeAndVersion(typeAndVersion)
	if err != nil {
		return nil, errb.Wrapf(err, "failed to parse component type and version")
	}
	if version < 1 {
		return nil, errb.With("component_type", componentType).Errorf("component version must be positive, got %d", version)
	}
	errb = errb.With("component_type", componentType)

	if err := checkEditorName(d.EditorName, componentType); err != nil {
		return nil, errb.Wrap(err)
	}

	tags, attributes, err := readAttributes(root[attributesKey])
	if err != nil {
		return nil, errb.Wrapf(err, "invalid component attributes")
	}
	// The namespace is always a tag so whole families can be queried.
	if ns := Namespace(componentType); ns != "" {
		tags[ns] = struct{}{}
	}

	properties, err := readProperties(source)
	if err != nil {
		return nil, errb.Wrapf(err, "invalid component properties")
	}

	proto, ok := root[prototypeKey].(map[string]any)
	if !ok {
		return nil, errb.Errorf("component source has no %q object", prototypeKey)
	}
	prototype := jsondoc.Clone(proto).(map[string]any)
	prototype[TypeKey] = typeAndVersion

	injectTypeConstraint(root, typeAndVersion)

	compiler := jschema.NewCompiler()
	url := componentType + ".schema.json"
	if err := compiler.AddResource(url, root); err != nil {
		return nil, errb.Wrapf(err, "failed to add schema resource")
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, errb.Wrapf(err, "failed to compile schema")
	}

	if err := compiled.Validate(prototype); err != nil {
		return nil, errb.Wrapf(err, "prototype failed schema validation")
	}

	return &Config{
		Type:    componentType,
		Version: version,
		ComponentSchema: &Schema{
			ComponentType: componentType,
			Version:       version,
			Tags:          tags,
			Attributes:    attributes,
			Properties:    properties,
		},
		Schema:     compiled,
		Descriptor: d,
		source:     source,
		prototype:  prototype,
	}, nil
}

func checkEditorName(editorName, componentType string) error {
	if !strings.HasSuffix(editorName, editorSuffix) || editorName == editorSuffix {
		return fmt.Errorf("component editor name does not end with %q: %q", editorSuffix, editorName)
	}
	short := strings.TrimSuffix(editorName, editorSuffix)
	if !strings.HasSuffix(componentType, "."+short) {
		return fmt.Errorf("component type %q does not match editor %q", componentType, editorName)
	}
	return nil
}

func readAttributes(v any) (map[string]struct{}, map[string]string, error) {
	tags := make(map[string]struct{})
	attributes := make(map[string]string)
	if v == nil {
		return tags, attributes, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("%q is not an object", attributesKey)
	}
	for name, value := range obj {
		if name != tagsAttribute {
			s, err := attributeString(value)
			if err != nil {
				return nil, nil, err
			}
			attributes[name] = s
			continue
		}
		list, ok := value.([]any)
		if !ok {
			return nil, nil, fmt.Errorf("%q attribute is not an array", tagsAttribute)
		}
		for _, tag := range list {
			s, ok := tag.(string)
			if !ok {
				return nil, nil, fmt.Errorf("tag value is not a string: %v", tag)
			}
			tags[s] = struct{}{}
		}
	}
	return tags, attributes, nil
}

// readProperties decodes the properties map in source order.
func readProperties(source []byte) ([]PropertyInfo, error) {
	var ordered struct {
		Properties *orderedmap.OrderedMap[string, json.RawMessage] `json:"properties"`
	}
	if err := json.Unmarshal(source, &ordered); err != nil {
		return nil, fmt.Errorf("failed to decode %q: %w", propertiesKey, err)
	}
	if ordered.Properties == nil {
		return nil, nil
	}

	var props []PropertyInfo
	for pair := ordered.Properties.Oldest(); pair != nil; pair = pair.Next() {
		name := pair.Key
		if strings.HasPrefix(name, "_") {
			// Internal-only properties are not exposed.
			continue
		}
		tree, err := jsondoc.Decode(pair.Value)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		def, ok := tree.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("property %q is not an object", name)
		}
		rawType, ok := def[typeKey]
		if !ok {
			return nil, fmt.Errorf("property %q has no %q", name, typeKey)
		}
		propType, err := attributeString(rawType)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}

		attrs := make(map[string]string)
		if rawAttrs, ok := def[attributesKey]; ok {
			obj, ok := rawAttrs.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("property %q attributes are not an object", name)
			}
			for k, v := range obj {
				s, err := attributeString(v)
				if err != nil {
					return nil, fmt.Errorf("property %q attribute %q: %w", name, k, err)
				}
				attrs[k] = s
			}
		}
		// Enum lists are kept as a JSON string attribute.
		if enum, ok := def[enumKey]; ok {
			s, err := jsondoc.Compact(enum)
			if err != nil {
				return nil, fmt.Errorf("property %q enum: %w", name, err)
			}
			attrs[enumKey] = s
		}

		props = append(props, PropertyInfo{Name: name, Type: propType, Attributes: attrs})
	}
	return props, nil
}

// attributeString renders strings as-is and everything else as compact JSON.
func attributeString(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return jsondoc.Compact(v)
}

// injectTypeConstraint pins _type to this component's tag and requires it.
func injectTypeConstraint(root map[string]any, typeAndVersion string) {
	props, ok := root[propertiesKey].(map[string]any)
	if !ok {
		props = make(map[string]any)
		root[propertiesKey] = props
	}
	props[TypeKey] = map[string]any{"type": "string", "const": typeAndVersion}

	required, _ := root[requiredKey].([]any)
	for _, r := range required {
		if r == TypeKey {
			return
		}
	}
	root[requiredKey] = append(required, TypeKey)
}
