// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package builtin is the static registration table of component types
// shipped with the engine.
package builtin

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/holomush/entitystore/internal/component"
)

// Component types registered by this package.
const (
	LineType  = "Screenplay.Line"
	SceneType = "Screenplay.Scene"
	NoteType  = "Data.Note"
)

//go:embed sources/line.json
var lineSource []byte

//go:embed sources/scene.json
var sceneSource []byte

//go:embed sources/note.yaml
var noteSource []byte

// Descriptors returns the registration table. Each call returns a fresh
// slice.
func Descriptors() []component.Descriptor {
	return []component.Descriptor{
		{
			EditorName: "LineEditor",
			Source:     lineSource,
			Format:     component.FormatJSON,
			NewEditor:  func() component.Editor { return &LineEditor{} },
		},
		{
			EditorName: "SceneEditor",
			Source:     sceneSource,
			Format:     component.FormatJSON,
			NewEditor:  func() component.Editor { return &SceneEditor{} },
		},
		{
			EditorName: "NoteEditor",
			Source:     noteSource,
			Format:     component.FormatYAML,
			NewEditor:  func() component.Editor { return &NoteEditor{} },
		},
	}
}

// Summarizer is implemented by editors that can describe their component
// in one line.
type Summarizer interface {
	Summary() string
}

// stringReader is the part of a component proxy editors read from.
type stringReader interface {
	GetString(path string) string
}

// boundEditor holds the target shared by every builtin editor.
type boundEditor struct {
	componentType string
	target        component.EditorTarget
	reader        stringReader
}

func (e *boundEditor) bind(target component.EditorTarget) error {
	if target == nil {
		return fmt.Errorf("%s editor: target is nil", e.componentType)
	}
	if target.ComponentType() != e.componentType {
		return fmt.Errorf("%s editor cannot edit a %q component", e.componentType, target.ComponentType())
	}
	reader, ok := target.(stringReader)
	if !ok {
		return fmt.Errorf("%s editor: target %T cannot read properties", e.componentType, target)
	}
	e.target = target
	e.reader = reader
	return nil
}

// Target returns the bound component.
func (e *boundEditor) Target() component.EditorTarget {
	return e.target
}

// LineEditor edits Screenplay.Line components.
type LineEditor struct {
	boundEditor
}

// Initialize binds the editor to a Screenplay.Line component.
func (e *LineEditor) Initialize(target component.EditorTarget) error {
	e.componentType = LineType
	return e.bind(target)
}

// Summary reads "<character>: <text>".
func (e *LineEditor) Summary() string {
	return fmt.Sprintf("%s: %s", e.reader.GetString("/characterId"), e.reader.GetString("/sourceText"))
}

// SceneEditor edits Screenplay.Scene components.
type SceneEditor struct {
	boundEditor
}

// Initialize binds the editor to a Screenplay.Scene component.
func (e *SceneEditor) Initialize(target component.EditorTarget) error {
	e.componentType = SceneType
	return e.bind(target)
}

// Summary reads "<title> [<status>]".
func (e *SceneEditor) Summary() string {
	return fmt.Sprintf("%s [%s]", e.reader.GetString("/sceneTitle"), e.reader.GetString("/status"))
}

// NoteEditor edits Data.Note components.
type NoteEditor struct {
	boundEditor
}

// Initialize binds the editor to a Data.Note component.
func (e *NoteEditor) Initialize(target component.EditorTarget) error {
	e.componentType = NoteType
	return e.bind(target)
}

// Summary returns the first line of the note text.
func (e *NoteEditor) Summary() string {
	text := e.reader.GetString("/text")
	first, _, _ := strings.Cut(text, "\n")
	return first
}
