// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package entity

import (
	"fmt"
	"strconv"

	"github.com/samber/oops"

	"github.com/holomush/entitystore/internal/jsondoc"
)

// OpKind names a JSON patch operation.
type OpKind int

// Patch operation kinds. Only Add, Remove and Replace can be applied.
const (
	OpUnknown OpKind = iota
	OpAdd
	OpRemove
	OpReplace
	OpCopy
	OpMove
	OpTest
)

var opNames = map[OpKind]string{
	OpUnknown: "unknown",
	OpAdd:     "add",
	OpRemove:  "remove",
	OpReplace: "replace",
	OpCopy:    "copy",
	OpMove:    "move",
	OpTest:    "test",
}

// String returns the RFC 6902 name of the kind.
func (k OpKind) String() string {
	if s, ok := opNames[k]; ok {
		return s
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k OpKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *OpKind) UnmarshalText(text []byte) error {
	for kind, name := range opNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown patch operation %q", text)
}

func (k OpKind) supported() bool {
	return k == OpAdd || k == OpRemove || k == OpReplace
}

// Operation is a single patch step. Value is a generic JSON tree and is
// ignored for Remove.
type Operation struct {
	Kind  OpKind `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// AddOp builds an Add operation.
func AddOp(path string, value any) Operation {
	return Operation{Kind: OpAdd, Path: path, Value: value}
}

// RemoveOp builds a Remove operation.
func RemoveOp(path string) Operation {
	return Operation{Kind: OpRemove, Path: path}
}

// ReplaceOp builds a Replace operation.
func ReplaceOp(path string, value any) Operation {
	return Operation{Kind: OpReplace, Path: path, Value: value}
}

func (o Operation) String() string {
	return fmt.Sprintf("%s %s", o.Kind, o.Path)
}

// applyOperation applies op to doc in place. It returns the operation as
// applied, with an appending "-" index resolved, and the operation that
// reverses it.
func applyOperation(doc any, op Operation) (Operation, Operation, error) {
	ptr, err := ParsePointer(op.Path)
	if err != nil {
		return Operation{}, Operation{}, err
	}
	if len(ptr) == 0 {
		return Operation{}, Operation{}, oops.Code("PATCH_APPLY_FAILED").
			With("op", op.Kind.String()).
			Errorf("cannot %s the document root", op.Kind)
	}
	_, applied, reverse, err := applyAt(doc, ptr, 0, op)
	if err != nil {
		return Operation{}, Operation{}, err
	}
	return applied, reverse, nil
}

// applyAt walks to the parent of the target and mutates it. It returns the
// possibly reallocated node so slice growth propagates upward.
func applyAt(node any, ptr Pointer, depth int, op Operation) (any, Operation, Operation, error) {
	tok := ptr[depth]
	last := depth == len(ptr)-1

	switch container := node.(type) {
	case map[string]any:
		if !last {
			child, ok := container[tok]
			if !ok {
				return nil, Operation{}, Operation{}, notFound(ptr[:depth+1])
			}
			updated, applied, reverse, err := applyAt(child, ptr, depth+1, op)
			if err != nil {
				return nil, Operation{}, Operation{}, err
			}
			container[tok] = updated
			return container, applied, reverse, nil
		}
		old, exists := container[tok]
		switch op.Kind {
		case OpAdd:
			container[tok] = jsondoc.Clone(op.Value)
			if exists {
				return container, op, ReplaceOp(op.Path, old), nil
			}
			return container, op, RemoveOp(op.Path), nil
		case OpRemove:
			if !exists {
				return nil, Operation{}, Operation{}, notFound(ptr)
			}
			delete(container, tok)
			return container, op, AddOp(op.Path, old), nil
		case OpReplace:
			if !exists {
				return nil, Operation{}, Operation{}, notFound(ptr)
			}
			container[tok] = jsondoc.Clone(op.Value)
			return container, op, ReplaceOp(op.Path, old), nil
		}

	case []any:
		if last && op.Kind == OpAdd {
			idx := len(container)
			if tok != "-" {
				n, ok := arrayIndex(tok)
				if !ok || n > len(container) {
					return nil, Operation{}, Operation{}, indexOutOfRange(ptr, tok, len(container))
				}
				idx = n
			}
			container = append(container, nil)
			copy(container[idx+1:], container[idx:])
			container[idx] = jsondoc.Clone(op.Value)

			concrete := ptr.WithLast(strconv.Itoa(idx)).String()
			applied := op
			applied.Path = concrete
			return container, applied, RemoveOp(concrete), nil
		}

		idx, ok := arrayIndex(tok)
		if !ok || idx >= len(container) {
			return nil, Operation{}, Operation{}, indexOutOfRange(ptr, tok, len(container))
		}
		if !last {
			updated, applied, reverse, err := applyAt(container[idx], ptr, depth+1, op)
			if err != nil {
				return nil, Operation{}, Operation{}, err
			}
			container[idx] = updated
			return container, applied, reverse, nil
		}
		old := container[idx]
		switch op.Kind {
		case OpRemove:
			container = append(container[:idx], container[idx+1:]...)
			return container, op, AddOp(op.Path, old), nil
		case OpReplace:
			container[idx] = jsondoc.Clone(op.Value)
			return container, op, ReplaceOp(op.Path, old), nil
		}

	default:
		return nil, Operation{}, Operation{}, notFound(ptr[:depth+1])
	}

	return nil, Operation{}, Operation{}, oops.Code("PATCH_OPERATION_UNSUPPORTED").
		With("op", op.Kind.String()).
		Wrapf(ErrUnsupportedOperation, "operation %q is not supported", op.Kind)
}

// valueAt returns the value addressed by ptr without copying it.
func valueAt(doc any, ptr Pointer) (any, error) {
	node := doc
	for i, tok := range ptr {
		switch container := node.(type) {
		case map[string]any:
			child, ok := container[tok]
			if !ok {
				return nil, notFound(ptr[:i+1])
			}
			node = child
		case []any:
			idx, ok := arrayIndex(tok)
			if !ok || idx >= len(container) {
				return nil, notFound(ptr[:i+1])
			}
			node = container[idx]
		default:
			return nil, notFound(ptr[:i+1])
		}
	}
	return node, nil
}

func notFound(ptr Pointer) error {
	return oops.Code("PROPERTY_NOT_FOUND").
		With("path", ptr.String()).
		Wrapf(ErrPropertyNotFound, "no value at %q", ptr.String())
}

func indexOutOfRange(ptr Pointer, tok string, length int) error {
	return oops.Code("PATCH_APPLY_FAILED").
		With("path", ptr.String()).
		With("length", length).
		Wrapf(ErrPropertyNotFound, "array index %q out of range", tok)
}
