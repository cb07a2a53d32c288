// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package annotation records per-component validation findings for an
// entity. It computes annotations only; presenting them is up to callers.
package annotation

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samber/oops"
)

// ErrIndexOutOfRange is returned for a component index outside the
// annotated range.
var ErrIndexOutOfRange = errors.New("component index out of range")

// Severity orders component errors. Lower values are more severe.
type Severity int

// Severities, most severe first.
const (
	SeverityCritical Severity = iota
	SeverityError
	SeverityWarning
)

var severityNames = []string{"critical", "error", "warning"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// MarshalText encodes the severity name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ComponentError is one finding about a component.
type ComponentError struct {
	Severity    Severity `json:"severity"`
	Message     string   `json:"message"`
	Description string   `json:"description,omitempty"`
}

// ComponentAnnotation is what a caller displays next to a component.
type ComponentAnnotation struct {
	IndentLevel int              `json:"indentLevel"`
	Errors      []ComponentError `json:"errors"`
}

// HasErrors reports whether the annotation carries any finding.
func (a ComponentAnnotation) HasErrors() bool {
	return len(a.Errors) > 0
}

// invalidAnnotation is returned for every component nobody recognized.
var invalidAnnotation = ComponentAnnotation{
	Errors: []ComponentError{{
		Severity:    SeverityCritical,
		Message:     "Invalid component",
		Description: "This component is not valid in this position.",
	}},
}

// EntityAnnotation collects annotations for every component of one entity.
// A component is reported as invalid until it is marked recognized or given
// an error.
type EntityAnnotation struct {
	annotations []ComponentAnnotation
	recognized  map[int]struct{}
}

// New returns an annotation sized for count components.
func New(count int) *EntityAnnotation {
	a := &EntityAnnotation{}
	a.Initialize(count)
	return a
}

// Initialize resets the annotation to count empty entries.
func (a *EntityAnnotation) Initialize(count int) {
	a.annotations = make([]ComponentAnnotation, count)
	a.recognized = make(map[int]struct{})
}

// Count returns the number of annotated components.
func (a *EntityAnnotation) Count() int {
	return len(a.annotations)
}

// SetRecognized marks a component as recognized.
func (a *EntityAnnotation) SetRecognized(index int) error {
	if err := a.check(index); err != nil {
		return err
	}
	a.recognized[index] = struct{}{}
	return nil
}

// SetIndent sets a component's display indent level.
func (a *EntityAnnotation) SetIndent(index, level int) error {
	if err := a.check(index); err != nil {
		return err
	}
	a.annotations[index].IndentLevel = level
	return nil
}

// AddError attaches e to a component and marks it recognized, so the
// specific error replaces the generic invalid annotation. Errors stay
// sorted most severe first.
func (a *EntityAnnotation) AddError(index int, e ComponentError) error {
	if err := a.check(index); err != nil {
		return err
	}
	a.recognized[index] = struct{}{}
	errs := append(a.annotations[index].Errors, e)
	slices.SortStableFunc(errs, func(x, y ComponentError) int {
		return int(x.Severity) - int(y.Severity)
	})
	a.annotations[index].Errors = errs
	return nil
}

// ComponentAnnotation returns a copy of the annotation for a component.
func (a *EntityAnnotation) ComponentAnnotation(index int) (ComponentAnnotation, error) {
	if err := a.check(index); err != nil {
		return ComponentAnnotation{}, err
	}
	src := invalidAnnotation
	if _, ok := a.recognized[index]; ok {
		src = a.annotations[index]
	}
	return ComponentAnnotation{
		IndentLevel: src.IndentLevel,
		Errors:      slices.Clone(src.Errors),
	}, nil
}

func (a *EntityAnnotation) check(index int) error {
	if index < 0 || index >= len(a.annotations) {
		return oops.Code("ANNOTATION_INDEX_OUT_OF_RANGE").
			With("index", index).
			With("count", len(a.annotations)).
			Wrapf(ErrIndexOutOfRange, "component index %d out of range", index)
	}
	return nil
}
