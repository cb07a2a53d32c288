// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package entity_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/entitystore/internal/component"
	"github.com/holomush/entitystore/internal/component/builtin"
	"github.com/holomush/entitystore/internal/entity"
	"github.com/holomush/entitystore/internal/resource"
	"github.com/holomush/entitystore/pkg/errutil"
)

type recorder struct {
	mu   sync.Mutex
	msgs []any
}

func (r *recorder) Send(msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}

func (r *recorder) all() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.msgs...)
}

type fixture struct {
	root      string
	resources *resource.FolderRegistry
	configs   *component.ConfigRegistry
	registry  *entity.Registry
	sent      *recorder
}

func newFixture(t *testing.T, files ...string) *fixture {
	t.Helper()
	root := t.TempDir()
	for _, f := range files {
		touch(t, root, f)
	}

	resources := resource.NewFolderRegistry(root, resource.WithExclude(entity.DefaultDataFolder))
	require.NoError(t, resources.Refresh())

	configs := component.NewConfigRegistry(builtin.Descriptors())
	require.NoError(t, configs.Initialize())

	sent := &recorder{}
	reg := entity.NewRegistry(entity.RegistryConfig{
		ProjectDir: root,
		Resources:  resources,
		Messenger:  sent,
		Configs:    configs,
	})
	require.NoError(t, reg.Open())
	t.Cleanup(func() { _ = reg.Close() })

	return &fixture{root: root, resources: resources, configs: configs, registry: reg, sent: sent}
}

func touch(t *testing.T, root, rel string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("content"), 0o600))
}

func (f *fixture) writeEntity(t *testing.T, key resource.Key, content string) {
	t.Helper()
	p := f.registry.GetEntityDataPath(key)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
}

func (f *fixture) prototype(t *testing.T, componentType string) map[string]any {
	t.Helper()
	cfg, err := f.configs.GetComponentConfig(componentType)
	require.NoError(t, err)
	return cfg.Prototype()
}

func TestRegistry_Paths(t *testing.T) {
	f := newFixture(t, "scenes/intro.scene")

	assert.Equal(t, ".entitystore/entities/scenes/intro.scene.json", f.registry.GetEntityDataRelativePath("scenes/intro.scene"))
	assert.Equal(t,
		filepath.Join(f.root, ".entitystore", "entities", "scenes", "intro.scene.json"),
		f.registry.GetEntityDataPath("scenes/intro.scene"))
}

func TestRegistry_OpenTwiceIsLocked(t *testing.T) {
	f := newFixture(t)

	second := entity.NewRegistry(entity.RegistryConfig{ProjectDir: f.root, Resources: f.resources, Configs: f.configs})
	err := second.Open()
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrProjectLocked)
}

func TestRegistry_AcquireCreatesEntity(t *testing.T) {
	f := newFixture(t, "scene.res")

	e, err := f.registry.AcquireEntity("scene.res")
	require.NoError(t, err)
	assert.Equal(t, 0, e.ComponentCount())
	assert.Equal(t, []any{entity.EntityCreatedMessage{Resource: "scene.res"}}, f.sent.all())

	again, err := f.registry.AcquireEntity("scene.res")
	require.NoError(t, err)
	assert.Same(t, e, again)
	assert.Len(t, f.sent.all(), 1)
}

func TestRegistry_AcquireRequiresResource(t *testing.T) {
	f := newFixture(t, "scene.res")

	_, err := f.registry.AcquireEntity("missing.res")
	require.Error(t, err)
	assert.ErrorIs(t, err, resource.ErrResourceNotFound)

	_, err = f.registry.AcquireEntity("scene.res")
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(f.root, "scene.res")))
	require.NoError(t, f.resources.Refresh())

	_, err = f.registry.AcquireEntity("scene.res")
	assert.ErrorIs(t, err, resource.ErrResourceNotFound)
}

func TestRegistry_LoadsAndMigrates(t *testing.T) {
	f := newFixture(t, "scene.res")
	f.writeEntity(t, "scene.res", `{
		"_entityVersion": 1,
		"_activity": "Screenplay",
		"_components": [{"_type": "Screenplay.Scene#1", "sceneTitle": "Opening", "status": "Draft", "dialogueFile": "", "pageCount": 2}]
	}`)

	e, err := f.registry.AcquireEntity("scene.res")
	require.NoError(t, err)
	assert.Equal(t, 1, e.ComponentCount())
	assert.NotContains(t, e.Document(), "_activity")
	assert.True(t, e.HasTag("Screenplay"))
	assert.True(t, e.HasTag("Root"))
	assert.Empty(t, f.sent.all())

	title, err := e.Value("/_components/0/sceneTitle")
	require.NoError(t, err)
	assert.Equal(t, "Opening", title)
}

func TestRegistry_InvalidFileFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "malformed JSON", content: `{"_entityVersion": 1,`},
		{name: "wrong version", content: `{"_entityVersion": 7, "_components": []}`},
		{name: "extra field", content: `{"_entityVersion": 1, "_components": [], "bogus": true}`},
		{name: "invalid component", content: `{"_entityVersion": 1, "_components": [{"_type": "Screenplay.Scene#1", "status": "Lost"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "scene.res")
			f.writeEntity(t, "scene.res", tt.content)

			e, err := f.registry.AcquireEntity("scene.res")
			require.NoError(t, err)
			assert.Equal(t, 0, e.ComponentCount())
			assert.Equal(t, []any{entity.EntityCreatedMessage{Resource: "scene.res"}}, f.sent.all())

			preserved, err := os.ReadFile(f.registry.GetEntityDataPath("scene.res") + ".invalid")
			require.NoError(t, err)
			assert.Equal(t, tt.content, string(preserved))
		})
	}
}

func TestRegistry_UnresolvedComponentLoads(t *testing.T) {
	f := newFixture(t, "scene.res")
	f.writeEntity(t, "scene.res", `{
		"_entityVersion": 1,
		"_components": [
			{"_type": "Legacy.Widget#3", "anything": [1, 2, 3]},
			{"_type": "Data.Note#1", "text": "hi", "priority": 1, "labels": []}
		]
	}`)

	e, err := f.registry.AcquireEntity("scene.res")
	require.NoError(t, err)
	assert.Equal(t, 2, e.ComponentCount())
	assert.Equal(t, []int{0}, e.UnresolvedComponents())
	assert.True(t, e.HasTag("Annotation"))
	assert.False(t, e.HasTag("Legacy"))

	componentType, version, err := e.ComponentType(0)
	require.NoError(t, err)
	assert.Equal(t, "Legacy.Widget", componentType)
	assert.Equal(t, 3, version)
}

func TestRegistry_SaveRoundTrip(t *testing.T) {
	f := newFixture(t, "scene.res")

	e, err := f.registry.AcquireEntity("scene.res")
	require.NoError(t, err)
	_, err = e.ApplyPatchOperation(entity.AddOp("/_components/0", f.prototype(t, builtin.LineType)), 0, entity.ContextModify, f.configs)
	require.NoError(t, err)
	_, err = e.ApplyPatchOperation(entity.ReplaceOp("/_components/0/sourceText", "Hello <world> & you"), 0, entity.ContextModify, f.configs)
	require.NoError(t, err)

	f.registry.MarkModifiedEntity("scene.res")
	assert.True(t, f.registry.IsModified("scene.res"))
	require.NoError(t, f.registry.SaveModifiedEntities(context.Background()))
	assert.False(t, f.registry.IsModified("scene.res"))

	saved, err := os.ReadFile(e.DataPath())
	require.NoError(t, err)
	snapshot, err := e.Snapshot(f.registry.PropertyOrder())
	require.NoError(t, err)
	assert.Equal(t, string(snapshot), string(saved))
	assert.Contains(t, string(saved), "\n  \"_components\": [\n")
	assert.Regexp(t, `"_type": "Screenplay.Line#1",\s+"dialogueKey"`, string(saved))

	data, err := f.registry.LoadEntityFile(e.DataPath())
	require.NoError(t, err)
	assert.Equal(t, 1, data.ComponentCount())

	// A second registry sees identical canonical bytes.
	require.NoError(t, f.registry.Close())
	other := entity.NewRegistry(entity.RegistryConfig{ProjectDir: f.root, Resources: f.resources, Configs: f.configs})
	require.NoError(t, other.Open())
	defer func() { _ = other.Close() }()

	reloaded, err := other.AcquireEntity("scene.res")
	require.NoError(t, err)
	again, err := reloaded.Snapshot(other.PropertyOrder())
	require.NoError(t, err)
	assert.Equal(t, string(saved), string(again))
}

func TestRegistry_SaveSkipsUnchangedContent(t *testing.T) {
	f := newFixture(t, "scene.res")

	e, err := f.registry.AcquireEntity("scene.res")
	require.NoError(t, err)
	f.registry.MarkModifiedEntity("scene.res")
	require.NoError(t, f.registry.SaveModifiedEntities(context.Background()))

	info, err := os.Stat(e.DataPath())
	require.NoError(t, err)

	f.registry.MarkModifiedEntity("scene.res")
	require.NoError(t, f.registry.SaveModifiedEntities(context.Background()))
	after, err := os.Stat(e.DataPath())
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), after.ModTime())
}

func TestRegistry_SaveHonoursCancelledContext(t *testing.T) {
	f := newFixture(t, "a.res", "b.res")
	for _, k := range []resource.Key{"a.res", "b.res"} {
		_, err := f.registry.AcquireEntity(k)
		require.NoError(t, err)
		f.registry.MarkModifiedEntity(k)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.registry.SaveModifiedEntities(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, f.registry.ModifiedCount())
}

func TestRegistry_CleanupEntities(t *testing.T) {
	f := newFixture(t, "keep.res", "gone.res", "dir/nested.res")
	for _, k := range []resource.Key{"keep.res", "gone.res", "dir/nested.res"} {
		_, err := f.registry.AcquireEntity(k)
		require.NoError(t, err)
		f.registry.MarkModifiedEntity(k)
	}
	require.NoError(t, f.registry.SaveModifiedEntities(context.Background()))
	f.writeEntity(t, "never-cached.res", `{"_entityVersion": 1, "_components": []}`)
	f.sent.reset()

	require.NoError(t, os.Remove(filepath.Join(f.root, "gone.res")))
	require.NoError(t, os.RemoveAll(filepath.Join(f.root, "dir")))
	require.NoError(t, f.resources.Refresh())

	require.NoError(t, f.registry.CleanupEntities())

	files, err := f.registry.EntityFiles()
	require.NoError(t, err)
	assert.Equal(t, []resource.Key{"keep.res"}, files)
	assert.NoDirExists(t, filepath.Join(f.registry.EntitiesDir(), "dir"))
	assert.Equal(t, 1, f.registry.CachedCount())
	assert.Equal(t, []any{
		entity.EntityDestroyedMessage{Resource: "dir/nested.res"},
		entity.EntityDestroyedMessage{Resource: "gone.res"},
	}, f.sent.all())
}

func TestRegistry_CleanupRemovesOrphanedInvalidFiles(t *testing.T) {
	f := newFixture(t, "keep.res", "notes/gone.res")
	f.writeEntity(t, "keep.res", `{"_components": 7}`)
	f.writeEntity(t, "notes/gone.res", `{"_components": 7}`)
	for _, k := range []resource.Key{"keep.res", "notes/gone.res"} {
		_, err := f.registry.AcquireEntity(k)
		require.NoError(t, err)
		require.FileExists(t, f.registry.GetEntityDataPath(k)+".invalid")
	}

	require.NoError(t, os.RemoveAll(filepath.Join(f.root, "notes")))
	require.NoError(t, f.resources.Refresh())

	require.NoError(t, f.registry.CleanupEntities())

	assert.FileExists(t, f.registry.GetEntityDataPath("keep.res")+".invalid")
	assert.NoFileExists(t, f.registry.GetEntityDataPath("notes/gone.res")+".invalid")
	assert.NoDirExists(t, filepath.Join(f.registry.EntitiesDir(), "notes"))
}

func TestRegistry_MoveEntityDataFile(t *testing.T) {
	f := newFixture(t, "old.res", "new.res")

	e, err := f.registry.AcquireEntity("old.res")
	require.NoError(t, err)
	_, err = e.ApplyPatchOperation(entity.AddOp("/_components/-", f.prototype(t, builtin.NoteType)), 0, entity.ContextModify, f.configs)
	require.NoError(t, err)
	f.registry.MarkModifiedEntity("old.res")
	require.NoError(t, f.registry.SaveModifiedEntities(context.Background()))
	f.registry.MarkModifiedEntity("old.res")

	require.NoError(t, f.registry.MoveEntityDataFile("old.res", "new.res"))

	assert.NoFileExists(t, f.registry.GetEntityDataPath("old.res"))
	assert.FileExists(t, f.registry.GetEntityDataPath("new.res"))
	assert.True(t, f.registry.IsModified("new.res"))
	assert.False(t, f.registry.IsModified("old.res"))
	assert.Equal(t, resource.Key("new.res"), e.Key())
	assert.Equal(t, 1, e.UndoCount())
	assert.Contains(t, f.sent.all(), entity.EntityDestroyedMessage{Resource: "old.res"})

	moved, err := f.registry.AcquireEntity("new.res")
	require.NoError(t, err)
	assert.Same(t, e, moved)
}

func TestRegistry_MoveEntityDataFileKeepsExistingDestination(t *testing.T) {
	f := newFixture(t, "old.res", "taken.res")

	e, err := f.registry.AcquireEntity("old.res")
	require.NoError(t, err)
	_, err = e.ApplyPatchOperation(entity.AddOp("/_components/-", f.prototype(t, builtin.NoteType)), 0, entity.ContextModify, f.configs)
	require.NoError(t, err)
	f.registry.MarkModifiedEntity("old.res")
	require.NoError(t, f.registry.SaveModifiedEntities(context.Background()))

	const existing = `{"_entityVersion": 1, "_components": []}`
	f.writeEntity(t, "taken.res", existing)

	err = f.registry.MoveEntityDataFile("old.res", "taken.res")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "ENTITY_FILE_EXISTS")

	raw, err := os.ReadFile(f.registry.GetEntityDataPath("taken.res"))
	require.NoError(t, err)
	assert.Equal(t, existing, string(raw))
	assert.FileExists(t, f.registry.GetEntityDataPath("old.res"))
	assert.Equal(t, resource.Key("old.res"), e.Key())

	still, err := f.registry.AcquireEntity("old.res")
	require.NoError(t, err)
	assert.Same(t, e, still)
}

func TestRegistry_MoveEntityDataFileFailureLeavesCache(t *testing.T) {
	f := newFixture(t, "old.res")

	e, err := f.registry.AcquireEntity("old.res")
	require.NoError(t, err)
	_, err = e.ApplyPatchOperation(entity.AddOp("/_components/-", f.prototype(t, builtin.NoteType)), 0, entity.ContextModify, f.configs)
	require.NoError(t, err)
	f.registry.MarkModifiedEntity("old.res")
	require.NoError(t, f.registry.SaveModifiedEntities(context.Background()))
	f.registry.MarkModifiedEntity("old.res")

	// A plain file where the destination folder should be.
	require.NoError(t, os.WriteFile(filepath.Join(f.registry.EntitiesDir(), "blocked"), []byte("x"), 0o600))

	err = f.registry.MoveEntityDataFile("old.res", "blocked/new.res")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "ENTITY_SAVE_FAILED")

	assert.Equal(t, resource.Key("old.res"), e.Key())
	assert.Equal(t, f.registry.GetEntityDataPath("old.res"), e.DataPath())
	assert.True(t, f.registry.IsModified("old.res"))
	assert.False(t, f.registry.IsModified("blocked/new.res"))
	assert.FileExists(t, f.registry.GetEntityDataPath("old.res"))
	assert.NotContains(t, f.sent.all(), entity.EntityDestroyedMessage{Resource: "old.res"})
}

func TestRegistry_CopyEntityDataFile(t *testing.T) {
	f := newFixture(t, "src.res", "dst.res", "other.res")

	src, err := f.registry.AcquireEntity("src.res")
	require.NoError(t, err)
	_, err = src.ApplyPatchOperation(entity.AddOp("/_components/0", f.prototype(t, builtin.NoteType)), 0, entity.ContextModify, f.configs)
	require.NoError(t, err)
	f.registry.MarkModifiedEntity("src.res")

	require.NoError(t, f.registry.CopyEntityDataFile("src.res", "dst.res"))
	assert.True(t, f.registry.IsModified("dst.res"))

	dst, err := f.registry.AcquireEntity("dst.res")
	require.NoError(t, err)
	assert.NotSame(t, src, dst)
	assert.Equal(t, src.Document(), dst.Document())
	assert.Equal(t, 0, dst.UndoCount())
	assert.Equal(t, f.registry.GetEntityDataPath("dst.res"), dst.DataPath())

	err = f.registry.CopyEntityDataFile("src.res", "dst.res")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "ENTITY_FILE_EXISTS")

	f.writeEntity(t, "other.res", `{"_entityVersion": 1, "_components": []}`)
	err = f.registry.CopyEntityDataFile("src.res", "other.res")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "ENTITY_FILE_EXISTS")
}

func TestRegistry_GetComponentsOfType(t *testing.T) {
	f := newFixture(t, "scene.res")
	f.writeEntity(t, "scene.res", `{
		"_entityVersion": 1,
		"_components": [
			{"_type": "Data.Note#1", "text": "a"},
			{"_type": "Screenplay.Scene#1", "sceneTitle": "", "status": "Draft"},
			{"_type": "Data.Note#1", "text": "b"}
		]
	}`)

	indices, err := f.registry.GetComponentsOfType("scene.res", builtin.NoteType)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, indices)
}
