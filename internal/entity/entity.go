// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package entity stores entity documents: ordered lists of schema-validated
// components mutated through reversible JSON patch operations.
package entity

import (
	"fmt"
	"sync"

	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"

	"github.com/holomush/entitystore/internal/component"
	"github.com/holomush/entitystore/internal/jsondoc"
	"github.com/holomush/entitystore/internal/resource"
)

// PatchContext says which stack a successful patch is pushed onto.
type PatchContext int

// Patch contexts.
const (
	// ContextModify pushes onto the undo stack and clears redo.
	ContextModify PatchContext = iota
	// ContextUndo pushes onto the redo stack.
	ContextUndo
	// ContextRedo pushes onto the undo stack.
	ContextRedo
	// ContextRollback records nothing.
	ContextRollback
)

// PatchSummary records one applied patch. An empty summary means the
// operation changed nothing.
type PatchSummary struct {
	Operation        Operation
	ReverseOperation Operation
	UndoGroupID      int64
	Change           ComponentChangedMessage
}

// IsEmpty reports whether the summary describes a no-op.
func (s PatchSummary) IsEmpty() bool {
	return s.Operation.Kind == OpUnknown
}

// Entity is the in-memory state of one resource's document with its undo
// history. Methods are safe for concurrent use.
type Entity struct {
	mu       sync.RWMutex
	key      resource.Key
	dataPath string
	data     *Data
	schema   *jschema.Schema
	maxDepth int
	undo     []PatchSummary
	redo     []PatchSummary
}

func newEntity(key resource.Key, dataPath string, data *Data, schema *jschema.Schema, maxDepth int) *Entity {
	return &Entity{
		key:      key,
		dataPath: dataPath,
		data:     data,
		schema:   schema,
		maxDepth: maxDepth,
	}
}

// Key returns the resource this entity describes.
func (e *Entity) Key() resource.Key {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.key
}

// DataPath returns the absolute path of the backing file.
func (e *Entity) DataPath() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dataPath
}

// ComponentCount returns the number of components.
func (e *Entity) ComponentCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data.ComponentCount()
}

// Component returns a copy of the component at index.
func (e *Entity) Component(index int) (map[string]any, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data.Component(index)
}

// ComponentType returns the type and version of the component at index.
func (e *Entity) ComponentType(index int) (string, int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data.ComponentType(index)
}

// ComponentsOfType returns indices of components of componentType.
func (e *Entity) ComponentsOfType(componentType string) []int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data.ComponentsOfType(componentType)
}

// Value returns a copy of the value at the JSON pointer path.
func (e *Entity) Value(path string) (any, error) {
	ptr, err := ParsePointer(path)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data.Value(ptr)
}

// HasTag reports whether any resolved component carries tag.
func (e *Entity) HasTag(tag string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data.HasTag(tag)
}

// Tags returns the sorted tag set.
func (e *Entity) Tags() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data.Tags()
}

// UnresolvedComponents returns indices of components whose type is unknown
// or stored under a version other than the registered one.
func (e *Entity) UnresolvedComponents() []int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data.UnresolvedComponents()
}

// Document returns a copy of the whole document.
func (e *Entity) Document() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data.Document()
}

// UndoCount returns the undo stack depth.
func (e *Entity) UndoCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.undo)
}

// RedoCount returns the redo stack depth.
func (e *Entity) RedoCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.redo)
}

// Snapshot encodes the document canonically under a read lock.
func (e *Entity) Snapshot(order PropertyOrder) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Encode(e.data.doc, order)
}

// ApplyPatchOperation applies op, validates the result and records the
// summary on the stack selected by ctx. The document is unchanged on error.
func (e *Entity) ApplyPatchOperation(op Operation, undoGroupID int64, ctx PatchContext, configs ConfigLookup) (PatchSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyLocked(op, undoGroupID, ctx, configs)
}

// Undo reverts the most recent summary and every earlier summary sharing its
// non-zero group id.
func (e *Entity) Undo(configs ConfigLookup) ([]PatchSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.undo) == 0 {
		return nil, oops.Code("NOTHING_TO_UNDO").With("resource", string(e.key)).Wrap(ErrNothingToUndo)
	}
	return e.unwind(&e.undo, ContextUndo, configs)
}

// Redo reapplies the most recently undone summary and its group.
func (e *Entity) Redo(configs ConfigLookup) ([]PatchSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.redo) == 0 {
		return nil, oops.Code("NOTHING_TO_REDO").With("resource", string(e.key)).Wrap(ErrNothingToRedo)
	}
	return e.unwind(&e.redo, ContextRedo, configs)
}

// Checkpoint captures the redo history ahead of a composite operation.
type Checkpoint struct {
	redo []PatchSummary
}

// Checkpoint returns the current redo history for a later Rollback.
func (e *Entity) Checkpoint() Checkpoint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Checkpoint{redo: append([]PatchSummary(nil), e.redo...)}
}

// Rollback reverts the most recent undo entry, discards it and restores the
// redo history saved in cp. Composite operations use it to back out a
// partial change.
func (e *Entity) Rollback(cp Checkpoint, configs ConfigLookup) (PatchSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.undo) == 0 {
		return PatchSummary{}, oops.Code("NOTHING_TO_UNDO").With("resource", string(e.key)).Wrap(ErrNothingToUndo)
	}
	top := e.undo[len(e.undo)-1]
	summary, err := e.applyLocked(top.ReverseOperation, top.UndoGroupID, ContextRollback, configs)
	if err != nil {
		return PatchSummary{}, err
	}
	e.undo = e.undo[:len(e.undo)-1]
	e.redo = cp.redo
	return summary, nil
}

func (e *Entity) unwind(stack *[]PatchSummary, ctx PatchContext, configs ConfigLookup) ([]PatchSummary, error) {
	var out []PatchSummary
	for len(*stack) > 0 {
		top := (*stack)[len(*stack)-1]
		*stack = (*stack)[:len(*stack)-1]

		summary, err := e.applyLocked(top.ReverseOperation, top.UndoGroupID, ctx, configs)
		if err != nil {
			// The entry did not apply, so it stays on its stack.
			*stack = append(*stack, top)
			return out, err
		}
		if !summary.IsEmpty() {
			out = append(out, summary)
		}

		if top.UndoGroupID == 0 || len(*stack) == 0 || (*stack)[len(*stack)-1].UndoGroupID != top.UndoGroupID {
			break
		}
	}
	return out, nil
}

func (e *Entity) applyLocked(op Operation, undoGroupID int64, ctx PatchContext, configs ConfigLookup) (PatchSummary, error) {
	errb := oops.With("resource", string(e.key)).With("path", op.Path).With("op", op.Kind.String())

	if !op.Kind.supported() {
		recordPatch(op.Kind, "unsupported")
		return PatchSummary{}, errb.Code("PATCH_OPERATION_UNSUPPORTED").
			Wrapf(ErrUnsupportedOperation, "operation %q is not supported", op.Kind)
	}

	ptr, err := ParsePointer(op.Path)
	if err != nil {
		recordPatch(op.Kind, "error")
		return PatchSummary{}, errb.Code("PATCH_APPLY_FAILED").Wrap(err)
	}
	index, err := e.componentIndex(ptr, op.Kind)
	if err != nil {
		recordPatch(op.Kind, "error")
		return PatchSummary{}, err
	}
	structural := len(ptr) == 2

	before := e.data.doc
	doc := jsondoc.Clone(before).(map[string]any)
	applied, reverse, err := applyOperation(doc, op)
	if err != nil {
		recordPatch(op.Kind, "error")
		return PatchSummary{}, errb.Wrap(err)
	}

	if jsondoc.Equal(doc, before) {
		recordPatch(op.Kind, "noop")
		return PatchSummary{}, nil
	}

	if err := e.schema.Validate(doc); err != nil {
		recordPatch(op.Kind, "invalid")
		return PatchSummary{}, errb.Code("PATCH_VALIDATION_FAILED").
			Wrapf(fmt.Errorf("%w: %w", ErrValidationFailed, err), "patched document fails entity schema")
	}

	var componentType string
	if applied.Kind == OpRemove && structural {
		componentType, _, _ = component.TypeOf(componentList(before)[index])
	} else {
		touched := componentList(doc)[index]
		componentType, _, _ = component.TypeOf(touched)
		if _, err := configs.ValidateComponent(touched); err != nil {
			// Restoring a whole unresolved component is allowed when
			// unwinding history.
			_, resolved := resolve(touched, configs)
			restoring := structural && ctx != ContextModify && !resolved
			if !restoring {
				recordPatch(op.Kind, "invalid")
				return PatchSummary{}, errb.Code("PATCH_VALIDATION_FAILED").
					With("component_type", componentType).
					Wrapf(fmt.Errorf("%w: %w", ErrValidationFailed, err), "patched component %d fails validation", index)
			}
		}
	}

	e.data.doc = doc
	if structural {
		e.data.refreshTags(configs)
	}

	summary := PatchSummary{
		Operation:        applied,
		ReverseOperation: reverse,
		UndoGroupID:      undoGroupID,
		Change: ComponentChangedMessage{
			Key:           ComponentKey{Resource: e.key, Index: index},
			ComponentType: componentType,
			PropertyPath:  propertyPath(ptr),
			Operation:     applied.Kind,
		},
	}

	switch ctx {
	case ContextModify:
		e.undo = trimStack(append(e.undo, summary), e.maxDepth)
		e.redo = nil
	case ContextUndo:
		e.redo = trimStack(append(e.redo, summary), e.maxDepth)
	case ContextRedo:
		e.undo = trimStack(append(e.undo, summary), e.maxDepth)
	}

	recordPatch(op.Kind, "applied")
	return summary, nil
}

// componentIndex checks ptr addresses /_components/<index>[/...] and that
// the index is in range for kind.
func (e *Entity) componentIndex(ptr Pointer, kind OpKind) (int, error) {
	if len(ptr) < 2 || ptr[0] != ComponentsKey {
		return 0, oops.Code("PATCH_APPLY_FAILED").
			With("resource", string(e.key)).
			With("path", ptr.String()).
			Errorf("patch path must address /%s/<index>", ComponentsKey)
	}
	count := e.data.ComponentCount()
	inserting := kind == OpAdd && len(ptr) == 2
	if inserting && ptr[1] == "-" {
		return count, nil
	}
	index, ok := arrayIndex(ptr[1])
	if !ok {
		return 0, oops.Code("COMPONENT_INDEX_OUT_OF_RANGE").
			With("resource", string(e.key)).
			With("path", ptr.String()).
			Wrapf(ErrComponentIndexOutOfRange, "invalid component index %q", ptr[1])
	}
	limit := count
	if inserting {
		limit = count + 1
	}
	if index >= limit {
		return 0, componentIndexError(index, count)
	}
	return index, nil
}

// propertyPath is the part of ptr below the component, or "/" for the
// component itself.
func propertyPath(ptr Pointer) string {
	if len(ptr) <= 2 {
		return RootPath
	}
	return Pointer(ptr[2:]).String()
}

// trimStack drops the oldest entries beyond depth, always removing whole
// groups.
func trimStack(stack []PatchSummary, depth int) []PatchSummary {
	if depth <= 0 || len(stack) <= depth {
		return stack
	}
	drop := len(stack) - depth
	for drop < len(stack) && stack[drop].UndoGroupID != 0 && stack[drop].UndoGroupID == stack[drop-1].UndoGroupID {
		drop++
	}
	return append([]PatchSummary(nil), stack[drop:]...)
}

// moveTo rebinds the entity to a new resource, keeping its history.
func (e *Entity) moveTo(key resource.Key, dataPath string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.key = key
	e.dataPath = dataPath
	for i := range e.undo {
		e.undo[i].Change.Key.Resource = key
	}
	for i := range e.redo {
		e.redo[i].Change.Key.Resource = key
	}
}

// copyTo returns a new entity with a deep copy of the document and no
// history.
func (e *Entity) copyTo(key resource.Key, dataPath string) *Entity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return newEntity(key, dataPath, e.data.clone(), e.schema, e.maxDepth)
}
