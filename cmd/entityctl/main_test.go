// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testProject struct {
	root   string
	config string
}

func newTestProject(t *testing.T, files ...string) *testProject {
	t.Helper()
	root := t.TempDir()
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte("content"), 0o600))
	}
	return &testProject{root: root, config: filepath.Join(t.TempDir(), "config.yaml")}
}

func (p *testProject) dataFile(res string) string {
	return filepath.Join(p.root, ".entitystore", "entities", filepath.FromSlash(res)+".json")
}

func (p *testProject) execute(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--config", p.config, "--project", p.root, "--log-level", "error"))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func (p *testProject) run(t *testing.T, args ...string) string {
	t.Helper()
	out, err := p.execute(context.Background(), args...)
	require.NoError(t, err, out)
	return out
}

func TestComponentsCmd(t *testing.T) {
	out := newTestProject(t).run(t, "components")

	for _, want := range []string{"Screenplay.Line", "Screenplay.Scene", "Data.Note", "Root", "sceneTitle"} {
		assert.Contains(t, out, want)
	}
}

func TestSchemaCmd(t *testing.T) {
	p := newTestProject(t)

	t.Run("entity document schema", func(t *testing.T) {
		out := p.run(t, "schema")
		assert.True(t, json.Valid([]byte(strings.TrimSpace(out))), out)
	})

	t.Run("component source", func(t *testing.T) {
		out := p.run(t, "schema", "Data.Note")
		assert.Contains(t, out, "Data.Note#1")
	})

	t.Run("unknown component", func(t *testing.T) {
		_, err := p.execute(context.Background(), "schema", "Data.Missing")
		assert.Error(t, err)
	})

	t.Run("writes to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "schemas", "entity.schema.json")
		out := p.run(t, "schema", "--out", path)
		assert.Contains(t, out, "Generated")
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, json.Valid(raw))
	})
}

func TestAddAndInspect(t *testing.T) {
	p := newTestProject(t, "scene.md")

	out := p.run(t, "add", "scene.md", "Screenplay.Scene")
	assert.Contains(t, out, "added Screenplay.Scene to scene.md[0]")
	assert.FileExists(t, p.dataFile("scene.md"))

	p.run(t, "add", "scene.md", "Data.Note", "--index", "0")

	out = p.run(t, "inspect", "scene.md")
	noteAt := strings.Index(out, "Data.Note")
	sceneAt := strings.Index(out, "Screenplay.Scene")
	require.NotEqual(t, -1, noteAt)
	require.NotEqual(t, -1, sceneAt)
	assert.Less(t, noteAt, sceneAt, "note was inserted ahead of the scene")
	assert.Contains(t, out, "yes")
}

func TestAddRejectsUnknownType(t *testing.T) {
	p := newTestProject(t, "scene.md")

	_, err := p.execute(context.Background(), "add", "scene.md", "Data.Missing")
	assert.Error(t, err)
	assert.NoFileExists(t, p.dataFile("scene.md"))
}

func TestSetCmd(t *testing.T) {
	p := newTestProject(t, "scene.md")
	p.run(t, "add", "scene.md", "Screenplay.Scene")

	p.run(t, "set", "scene.md", "0", "/status", `"Final"`)

	raw, err := os.ReadFile(p.dataFile("scene.md"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"Final"`)

	tests := []struct {
		name string
		args []string
	}{
		{name: "value outside enum", args: []string{"scene.md", "0", "/status", `"Done"`}},
		{name: "value not JSON", args: []string{"scene.md", "0", "/status", "Final"}},
		{name: "index not a number", args: []string{"scene.md", "first", "/status", `"Final"`}},
		{name: "index out of range", args: []string{"scene.md", "3", "/status", `"Final"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.execute(context.Background(), append([]string{"set"}, tt.args...)...)
			assert.Error(t, err)
		})
	}

	raw, err = os.ReadFile(p.dataFile("scene.md"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"Final"`)
}

func TestValidateCmd(t *testing.T) {
	p := newTestProject(t, "scene.md", "notes/todo.md")
	p.run(t, "add", "scene.md", "Screenplay.Scene")
	p.run(t, "add", "notes/todo.md", "Data.Note")

	out := p.run(t, "validate")
	assert.Contains(t, out, "2 entity files valid")

	require.NoError(t, os.WriteFile(p.dataFile("notes/todo.md"), []byte(`{"components": 7}`), 0o600))

	out, err := p.execute(context.Background(), "validate")
	require.Error(t, err)
	assert.Contains(t, out, "notes/todo.md")
}

func TestCleanupCmd(t *testing.T) {
	p := newTestProject(t, "scene.md", "draft.md")
	p.run(t, "add", "scene.md", "Screenplay.Scene")
	p.run(t, "add", "draft.md", "Screenplay.Scene")

	require.NoError(t, os.Remove(filepath.Join(p.root, "draft.md")))

	out := p.run(t, "cleanup")
	assert.Contains(t, out, "removed 1 orphaned entity files")
	assert.NoFileExists(t, p.dataFile("draft.md"))
	assert.FileExists(t, p.dataFile("scene.md"))
}

func TestInvalidConfigRejected(t *testing.T) {
	p := newTestProject(t)

	_, err := p.execute(context.Background(), "components", "--log-format", "xml")
	assert.Error(t, err)
}

func TestConfigFileApplied(t *testing.T) {
	p := newTestProject(t)
	require.NoError(t, os.WriteFile(p.config, []byte("undo:\n  max-depth: -1\n"), 0o600))

	_, err := p.execute(context.Background(), "components")
	assert.Error(t, err)
}

func TestWatchStopsOnCancel(t *testing.T) {
	p := newTestProject(t, "scene.md")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := p.execute(ctx, "watch", "--metrics-addr", "127.0.0.1:0")
	assert.NoError(t, err)
}
