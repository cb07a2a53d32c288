// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package jsondoc handles generic JSON trees: map[string]any, []any,
// json.Number, string, bool and nil. Trees are decoded with the same
// decoder the schema validator uses so numbers keep their literal form.
package jsondoc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// Decode parses JSON text into a generic tree.
func Decode(data []byte) (any, error) {
	v, err := jschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return v, nil
}

// FromValue converts any JSON-marshalable Go value into a generic tree.
// Types implementing json.Marshaler or encoding.TextMarshaler keep their
// encoded form, so enum-like types become strings.
func FromValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	return Decode(data)
}

// Into decodes a generic tree into out, which must be a pointer.
func Into(tree any, out any) error {
	data, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode value as %T: %w", out, err)
	}
	return nil
}

// Clone returns a deep copy of a generic tree.
func Clone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = Clone(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = Clone(child)
		}
		return out
	default:
		return val
	}
}

// Equal reports whether two generic trees are deeply equal.
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// Compact returns the compact JSON text of a generic tree.
func Compact(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal value: %w", err)
	}
	return string(data), nil
}

// YAMLToJSON converts a YAML document into JSON text, preserving mapping
// key order.
func YAMLToJSON(data []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("YAML document is empty")
	}
	v, err := convertNode(doc.Content[0])
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal converted YAML: %w", err)
	}
	return out, nil
}

// convertNode walks a YAML node, producing ordered maps for mappings so the
// JSON encoding keeps source order.
func convertNode(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.MappingNode:
		om := orderedmap.New[string, any]()
		for i := 0; i+1 < len(n.Content); i += 2 {
			var key string
			if err := n.Content[i].Decode(&key); err != nil {
				return nil, fmt.Errorf("line %d: mapping key is not a string: %w", n.Content[i].Line, err)
			}
			val, err := convertNode(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			om.Set(key, val)
		}
		return om, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, child := range n.Content {
			val, err := convertNode(child)
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		}
		return out, nil
	case yaml.AliasNode:
		return convertNode(n.Alias)
	case yaml.ScalarNode:
		var val any
		if err := n.Decode(&val); err != nil {
			return nil, fmt.Errorf("line %d: invalid scalar: %w", n.Line, err)
		}
		return val, nil
	default:
		return nil, fmt.Errorf("line %d: unsupported YAML node kind %d", n.Line, n.Kind)
	}
}
