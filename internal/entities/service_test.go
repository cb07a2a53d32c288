// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package entities_test

import (
	"context"
	"os"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/entitystore/internal/annotation"
	"github.com/holomush/entitystore/internal/component/builtin"
	"github.com/holomush/entitystore/internal/entities"
	"github.com/holomush/entitystore/internal/entity"
	"github.com/holomush/entitystore/internal/proxy"
	"github.com/holomush/entitystore/internal/resource"
)

type sceneStatus int

const (
	statusDraft sceneStatus = iota
	statusFinal
)

func (s sceneStatus) MarshalText() ([]byte, error) {
	if s == statusFinal {
		return []byte("Final"), nil
	}
	return []byte("Draft"), nil
}

const scene resource.Key = "scene.res"

func at(index int) entity.ComponentKey {
	return entity.ComponentKey{Resource: scene, Index: index}
}

var _ = Describe("Service", func() {
	var p *project

	BeforeEach(func() {
		var err error
		p, err = openProject(GinkgoT().TempDir(), "scene.res", "other.res")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(p.svc.Close)
	})

	Describe("adding and removing components", func() {
		It("adds a component and undoes it (scenario A)", func() {
			Expect(p.svc.AddComponent(at(0), builtin.LineType)).To(Succeed())
			Expect(p.svc.GetComponentCount(scene)).To(Equal(1))

			Expect(p.svc.Undo(scene)).To(Succeed())
			Expect(p.svc.GetComponentCount(scene)).To(Equal(0))
			Expect(p.svc.GetRedoCount(scene)).To(Equal(1))
		})

		It("rejects unknown component types", func() {
			err := p.svc.AddComponent(at(0), "Legacy.Widget")
			Expect(err).To(MatchError(ContainSubstring("Legacy.Widget")))
			Expect(p.svc.GetComponentCount(scene)).To(Equal(0))
		})

		It("rejects resources the registry does not know", func() {
			err := p.svc.AddComponent(entity.ComponentKey{Resource: "missing.res"}, builtin.LineType)
			Expect(err).To(MatchError(resource.ErrResourceNotFound))
		})

		It("removes a component", func() {
			Expect(p.svc.AddComponent(at(0), builtin.LineType)).To(Succeed())
			Expect(p.svc.AddComponent(at(1), builtin.NoteType)).To(Succeed())

			Expect(p.svc.RemoveComponent(at(0))).To(Succeed())
			Expect(p.componentTypes(scene)).To(Equal([]string{builtin.NoteType}))
			Expect(p.svc.RemoveComponent(at(4))).To(MatchError(entity.ErrComponentIndexOutOfRange))
		})

		It("tracks tags of the resolved components", func() {
			Expect(p.svc.AddComponent(at(0), builtin.LineType)).To(Succeed())
			Expect(p.svc.HasTag(scene, "Dialogue")).To(BeTrue())
			Expect(p.svc.HasTag(scene, "Screenplay")).To(BeTrue())
			Expect(p.svc.HasTag(scene, "Annotation")).To(BeFalse())

			Expect(p.svc.Undo(scene)).To(Succeed())
			Expect(p.svc.HasTag(scene, "Dialogue")).To(BeFalse())
		})
	})

	Describe("properties", func() {
		BeforeEach(func() {
			Expect(p.svc.AddComponent(at(0), builtin.LineType)).To(Succeed())
		})

		It("sets, reads and undoes a property (scenario B)", func() {
			Expect(p.svc.SetProperty(at(0), "/sourceText", "Hello", false)).To(Succeed())
			Expect(entities.GetProperty[string](p.svc, at(0), "/sourceText")).To(Equal("Hello"))

			Expect(p.svc.Undo(scene)).To(Succeed())
			Expect(entities.GetProperty[string](p.svc, at(0), "/sourceText")).To(Equal(""))
		})

		It("returns properties as JSON", func() {
			Expect(p.svc.SetProperty(at(0), "/characterId", "ALICE", false)).To(Succeed())
			Expect(p.svc.GetPropertyAsJSON(at(0), "/characterId")).To(Equal(`"ALICE"`))
		})

		It("stores text marshalers as strings", func() {
			Expect(p.svc.AddComponent(at(1), builtin.SceneType)).To(Succeed())
			Expect(p.svc.SetProperty(at(1), "/status", statusFinal, false)).To(Succeed())
			Expect(entities.GetProperty[string](p.svc, at(1), "/status")).To(Equal("Final"))
		})

		It("inserts array elements", func() {
			Expect(p.svc.AddComponent(at(1), builtin.NoteType)).To(Succeed())
			Expect(p.svc.SetProperty(at(1), "/labels/-", "urgent", true)).To(Succeed())
			Expect(entities.GetProperty[[]string](p.svc, at(1), "/labels")).To(Equal([]string{"urgent"}))
		})

		It("falls back when a property cannot be read", func() {
			Expect(entities.GetPropertyOr(p.svc, at(0), "/missing", "fallback")).To(Equal("fallback"))
			Expect(entities.GetPropertyOr(p.svc, at(3), "/sourceText", "fallback")).To(Equal("fallback"))
		})

		It("rejects malformed paths", func() {
			Expect(p.svc.SetProperty(at(0), "sourceText", "x", false)).NotTo(Succeed())
		})

		It("leaves the document unchanged when validation fails", func() {
			Expect(p.svc.AddComponent(at(1), builtin.SceneType)).To(Succeed())
			before, err := p.svc.GetPropertyAsJSON(at(1), "")
			Expect(err).NotTo(HaveOccurred())
			undoBefore, err := p.svc.GetUndoCount(scene)
			Expect(err).NotTo(HaveOccurred())

			err = p.svc.SetProperty(at(1), "/status", "Lost", false)
			Expect(err).To(MatchError(entity.ErrValidationFailed))

			Expect(p.svc.GetPropertyAsJSON(at(1), "")).To(Equal(before))
			Expect(p.svc.GetUndoCount(scene)).To(Equal(undoBefore))
		})

		It("does not record no-op changes", func() {
			Expect(p.svc.SetProperty(at(0), "/sourceText", "", false)).To(Succeed())
			Expect(p.svc.GetUndoCount(scene)).To(Equal(1))
		})
	})

	Describe("composite operations", func() {
		BeforeEach(func() {
			Expect(p.svc.AddComponent(at(0), builtin.LineType)).To(Succeed())
			Expect(p.svc.AddComponent(at(1), builtin.NoteType)).To(Succeed())
			Expect(p.svc.AddComponent(at(2), builtin.SceneType)).To(Succeed())
		})

		It("moves a component and undoes the move in one step (scenario C)", func() {
			Expect(p.svc.MoveComponent(scene, 0, 2)).To(Succeed())
			Expect(p.componentTypes(scene)).To(Equal([]string{builtin.NoteType, builtin.SceneType, builtin.LineType}))

			Expect(p.svc.Undo(scene)).To(Succeed())
			Expect(p.componentTypes(scene)).To(Equal([]string{builtin.LineType, builtin.NoteType, builtin.SceneType}))
			Expect(p.svc.GetUndoCount(scene)).To(Equal(3))

			Expect(p.svc.Redo(scene)).To(Succeed())
			Expect(p.componentTypes(scene)).To(Equal([]string{builtin.NoteType, builtin.SceneType, builtin.LineType}))
			Expect(p.svc.GetRedoCount(scene)).To(Equal(0))
		})

		It("moves a component towards the front", func() {
			Expect(p.svc.MoveComponent(scene, 2, 0)).To(Succeed())
			Expect(p.componentTypes(scene)).To(Equal([]string{builtin.SceneType, builtin.LineType, builtin.NoteType}))
		})

		It("rejects a move to an index out of range without changing anything", func() {
			Expect(p.svc.MoveComponent(scene, 0, 3)).To(MatchError(entity.ErrComponentIndexOutOfRange))
			Expect(p.componentTypes(scene)).To(Equal([]string{builtin.LineType, builtin.NoteType, builtin.SceneType}))
			Expect(p.svc.GetUndoCount(scene)).To(Equal(3))
		})

		It("treats moves and copies onto the same index as no-ops", func() {
			Expect(p.svc.MoveComponent(scene, 1, 1)).To(Succeed())
			Expect(p.svc.CopyComponent(scene, 1, 1)).To(Succeed())
			Expect(p.svc.GetUndoCount(scene)).To(Equal(3))
		})

		It("replaces a component as one undo step", func() {
			Expect(p.svc.ReplaceComponent(at(1), builtin.LineType)).To(Succeed())
			Expect(p.componentTypes(scene)).To(Equal([]string{builtin.LineType, builtin.LineType, builtin.SceneType}))

			Expect(p.svc.Undo(scene)).To(Succeed())
			Expect(p.componentTypes(scene)).To(Equal([]string{builtin.LineType, builtin.NoteType, builtin.SceneType}))

			Expect(p.svc.Redo(scene)).To(Succeed())
			Expect(p.componentTypes(scene)).To(Equal([]string{builtin.LineType, builtin.LineType, builtin.SceneType}))
		})

		It("copies a component", func() {
			Expect(p.svc.SetProperty(at(0), "/sourceText", "Hello", false)).To(Succeed())
			Expect(p.svc.CopyComponent(scene, 0, 3)).To(Succeed())

			Expect(p.componentTypes(scene)).To(HaveLen(4))
			Expect(entities.GetProperty[string](p.svc, at(3), "/sourceText")).To(Equal("Hello"))
			Expect(p.svc.GetComponentsOfType(scene, builtin.LineType)).To(Equal([]int{0, 3}))
		})
	})

	Describe("proxies", func() {
		It("never serves stale structure", func() {
			Expect(p.svc.AddComponent(at(0), builtin.LineType)).To(Succeed())
			before, err := p.svc.GetComponents(scene)
			Expect(err).NotTo(HaveOccurred())
			Expect(before).To(HaveLen(1))

			Expect(p.svc.AddComponent(at(0), builtin.NoteType)).To(Succeed())
			Expect(before[0].IsValid()).To(BeFalse())

			after, err := p.svc.GetComponents(scene)
			Expect(err).NotTo(HaveOccurred())
			Expect(after).To(HaveLen(2))
			Expect(after[0].ComponentType()).To(Equal(builtin.NoteType))
			Expect(after[1].ComponentType()).To(Equal(builtin.LineType))
		})

		It("keeps proxies valid across property changes", func() {
			Expect(p.svc.AddComponent(at(0), builtin.LineType)).To(Succeed())
			px, err := p.svc.GetComponent(at(0))
			Expect(err).NotTo(HaveOccurred())

			var changed []string
			px.OnPropertyChanged(func(path string) { changed = append(changed, path) })
			Expect(px.SetProperty("/characterId", "BOB", false)).To(Succeed())

			Expect(px.IsValid()).To(BeTrue())
			Expect(px.GetString("/characterId")).To(Equal("BOB"))
			Expect(changed).To(Equal([]string{"/characterId"}))
			Expect(proxy.GetProperty[string](px, "/characterId")).To(Equal("BOB"))
		})

		It("finds the first component of a type", func() {
			Expect(p.svc.AddComponent(at(0), builtin.NoteType)).To(Succeed())
			Expect(p.svc.AddComponent(at(1), builtin.LineType)).To(Succeed())

			px, err := p.svc.GetComponentOfType(scene, builtin.LineType)
			Expect(err).NotTo(HaveOccurred())
			Expect(px.Key()).To(Equal(at(1)))
		})

		It("binds component editors", func() {
			Expect(p.svc.AddComponent(at(0), builtin.SceneType)).To(Succeed())
			Expect(p.svc.SetProperty(at(0), "/sceneTitle", "Opening", false)).To(Succeed())
			px, err := p.svc.GetComponent(at(0))
			Expect(err).NotTo(HaveOccurred())

			editor, err := p.svc.CreateComponentEditor(px)
			Expect(err).NotTo(HaveOccurred())
			Expect(editor).To(BeAssignableToTypeOf(&builtin.SceneEditor{}))
			Expect(editor.(builtin.Summarizer).Summary()).To(Equal("Opening [Draft]"))
		})
	})

	Describe("unresolved components (scenario D)", func() {
		BeforeEach(func() {
			Expect(writeFile(p.root, p.svc.GetEntityDataRelativePath("other.res"),
				`{"_entityVersion": 1, "_components": [{"_type": "Legacy.Widget#1", "size": 3}, {"_type": "Data.Note#1", "text": "ok"}]}`,
			)).To(Succeed())
		})

		It("loads the entity and reports the component as unresolved", func() {
			Expect(p.svc.GetComponentCount("other.res")).To(Equal(2))

			px, err := p.svc.GetComponent(entity.ComponentKey{Resource: "other.res", Index: 0})
			Expect(err).NotTo(HaveOccurred())
			Expect(px.Resolved()).To(BeFalse())
			Expect(px.ComponentType()).To(Equal("Legacy.Widget"))

			_, err = p.svc.CreateComponentEditor(px)
			Expect(err).To(HaveOccurred())
		})

		It("annotates each component", func() {
			a, err := p.svc.AnnotateEntity("other.res")
			Expect(err).NotTo(HaveOccurred())
			Expect(a.Count()).To(Equal(2))

			unresolved, err := a.ComponentAnnotation(0)
			Expect(err).NotTo(HaveOccurred())
			Expect(unresolved.Errors).To(HaveLen(1))
			Expect(unresolved.Errors[0].Severity).To(Equal(annotation.SeverityCritical))
			Expect(unresolved.Errors[0].Message).To(Equal("Unknown component type"))

			note, err := a.ComponentAnnotation(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(note.HasErrors()).To(BeFalse())
		})
	})

	Describe("components stored under another version", func() {
		BeforeEach(func() {
			Expect(writeFile(p.root, p.svc.GetEntityDataRelativePath("other.res"),
				`{"_entityVersion": 1, "_components": [{"_type": "Data.Note#0", "text": "old", "color": "red"}, {"_type": "Legacy.Widget#1"}]}`,
			)).To(Succeed())
		})

		It("loads the entity and keeps the stored data", func() {
			Expect(p.svc.GetComponentCount("other.res")).To(Equal(2))
			Expect(p.svc.GetEntityDataPath("other.res") + ".invalid").NotTo(BeAnExistingFile())

			e, err := p.registry.AcquireEntity("other.res")
			Expect(err).NotTo(HaveOccurred())
			Expect(e.UnresolvedComponents()).To(Equal([]int{0, 1}))
			Expect(e.HasTag("Annotation")).To(BeFalse())

			c, err := e.Component(0)
			Expect(err).NotTo(HaveOccurred())
			Expect(c).To(HaveKeyWithValue("color", "red"))
		})

		It("annotates the stale version as a warning", func() {
			a, err := p.svc.AnnotateEntity("other.res")
			Expect(err).NotTo(HaveOccurred())

			stale, err := a.ComponentAnnotation(0)
			Expect(err).NotTo(HaveOccurred())
			Expect(stale.Errors).To(HaveLen(1))
			Expect(stale.Errors[0].Severity).To(Equal(annotation.SeverityWarning))
			Expect(stale.Errors[0].Message).To(Equal("Component version mismatch"))
		})
	})

	Describe("persistence", func() {
		It("round-trips a saved entity byte for byte", func() {
			Expect(p.svc.AddComponent(at(0), builtin.LineType)).To(Succeed())
			Expect(p.svc.SetProperty(at(0), "/sourceText", "Hello", false)).To(Succeed())
			Expect(p.svc.SaveEntities(context.Background())).To(Succeed())

			saved, err := os.ReadFile(p.svc.GetEntityDataPath(scene))
			Expect(err).NotTo(HaveOccurred())
			Expect(writeFile(p.root, p.svc.GetEntityDataRelativePath("other.res"), string(saved))).To(Succeed())

			Expect(p.svc.SetProperty(entity.ComponentKey{Resource: "other.res"}, "/direction", "beat", false)).To(Succeed())
			Expect(p.svc.Undo("other.res")).To(Succeed())
			Expect(p.registry.IsModified("other.res")).To(BeTrue())
			Expect(p.svc.SaveEntities(context.Background())).To(Succeed())

			copied, err := os.ReadFile(p.svc.GetEntityDataPath("other.res"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(copied)).To(Equal(string(saved)))
			Expect(p.registry.ModifiedCount()).To(Equal(0))
		})

		It("removes entity data when its resource disappears", func() {
			Expect(p.svc.AddComponent(entity.ComponentKey{Resource: "other.res"}, builtin.NoteType)).To(Succeed())
			Expect(p.svc.SaveEntities(context.Background())).To(Succeed())
			dataPath := p.svc.GetEntityDataPath("other.res")
			Expect(dataPath).To(BeAnExistingFile())

			Expect(os.Remove(p.resources.ResourcePath("other.res"))).To(Succeed())
			Expect(p.resources.Refresh()).To(Succeed())

			Expect(dataPath).NotTo(BeAnExistingFile())
			_, err := p.svc.GetComponentCount("other.res")
			Expect(err).To(MatchError(resource.ErrResourceNotFound))
		})

		It("moves entity data with its history", func() {
			Expect(p.svc.AddComponent(at(0), builtin.NoteType)).To(Succeed())
			Expect(writeFile(p.root, "renamed.res", "content")).To(Succeed())
			Expect(p.resources.Refresh()).To(Succeed())

			Expect(p.svc.MoveEntityDataFile(scene, "renamed.res")).To(Succeed())
			Expect(p.svc.GetComponentCount("renamed.res")).To(Equal(1))
			Expect(p.svc.Undo("renamed.res")).To(Succeed())
			Expect(p.svc.GetComponentCount("renamed.res")).To(Equal(0))
		})
	})

	It("lists every registered component type", func() {
		Expect(p.svc.GetAllComponentTypes()).To(Equal([]string{builtin.NoteType, builtin.LineType, builtin.SceneType}))
		schema, err := p.svc.GetComponentSchema(builtin.SceneType)
		Expect(err).NotTo(HaveOccurred())
		Expect(schema.HasTag("Root")).To(BeTrue())
	})
})
