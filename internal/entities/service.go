// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package entities is the entry point for reading and mutating entities.
// Every mutation is applied as a reversible patch, published as a
// ComponentChangedMessage and recorded for saving.
package entities

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/samber/oops"

	"github.com/holomush/entitystore/internal/component"
	"github.com/holomush/entitystore/internal/entity"
	"github.com/holomush/entitystore/internal/messaging"
	"github.com/holomush/entitystore/internal/proxy"
	"github.com/holomush/entitystore/internal/resource"
	"github.com/holomush/entitystore/pkg/errutil"
)

// ErrNoEditor is returned when a component type has no editor factory.
var ErrNoEditor = errors.New("component type has no editor")

// Config holds the service dependencies. Proxies, Sequence and Logger are
// optional.
type Config struct {
	Configs   *component.ConfigRegistry
	Registry  *entity.Registry
	Proxies   *proxy.Service
	Messenger *messaging.Messenger
	Sequence  *entity.Sequence
	Logger    *slog.Logger
}

// Service orchestrates the component registry, the entity registry and the
// proxy cache. Mutations must be serialized per resource by the caller.
type Service struct {
	configs   *component.ConfigRegistry
	registry  *entity.Registry
	proxies   *proxy.Service
	messenger *messaging.Messenger
	seq       *entity.Sequence
	logger    *slog.Logger
}

// New creates a service. Call Initialize before use.
func New(cfg Config) *Service {
	s := &Service{
		configs:   cfg.Configs,
		registry:  cfg.Registry,
		proxies:   cfg.Proxies,
		messenger: cfg.Messenger,
		seq:       cfg.Sequence,
		logger:    cfg.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.seq == nil {
		s.seq = entity.NewSequence()
	}
	if s.proxies == nil {
		s.proxies = proxy.NewService(s, s.messenger)
	}
	return s
}

// Initialize loads component configs, opens the entity registry, starts the
// proxy cache and cleans up entities whenever the resource registry
// refreshes.
func (s *Service) Initialize() error {
	if err := s.configs.Initialize(); err != nil {
		return oops.Wrapf(err, "initialize component registry")
	}
	if err := s.registry.Open(); err != nil {
		return oops.Wrapf(err, "open entity registry")
	}
	s.proxies.Start()
	messaging.Register(s.messenger, s, func(resource.RegistryUpdatedMessage) {
		if err := s.registry.CleanupEntities(); err != nil {
			errutil.LogError(s.logger, "entity cleanup failed", err)
		}
	})
	s.logger.Info("entity service initialized", "component_types", len(s.configs.ComponentTypes()))
	return nil
}

// Close stops the proxy cache and releases the project lock. Unsaved
// changes are not written.
func (s *Service) Close() error {
	s.messenger.Unregister(s)
	s.proxies.Stop()
	return s.registry.Close()
}

// Proxies returns the proxy cache.
func (s *Service) Proxies() *proxy.Service {
	return s.proxies
}

// AddComponent inserts a prototype instance of componentType at key.Index.
func (s *Service) AddComponent(key entity.ComponentKey, componentType string) error {
	return s.addComponent(key, componentType, 0)
}

func (s *Service) addComponent(key entity.ComponentKey, componentType string, group int64) error {
	e, err := s.registry.AcquireEntity(key.Resource)
	if err != nil {
		return err
	}
	cfg, err := s.configs.GetComponentConfig(componentType)
	if err != nil {
		return oops.With("component", key.String()).Wrapf(err, "add component")
	}
	if _, err := s.applyPatch(e, entity.AddOp(componentPointer(key.Index), cfg.Prototype()), group); err != nil {
		return oops.With("component", key.String()).Wrapf(err, "add %s component", componentType)
	}
	return nil
}

// RemoveComponent deletes the component at key.
func (s *Service) RemoveComponent(key entity.ComponentKey) error {
	e, err := s.registry.AcquireEntity(key.Resource)
	if err != nil {
		return err
	}
	if _, err := s.applyPatch(e, entity.RemoveOp(componentPointer(key.Index)), 0); err != nil {
		return oops.With("component", key.String()).Wrapf(err, "remove component")
	}
	return nil
}

// ReplaceComponent swaps the component at key for a new componentType
// instance. Both steps undo as one.
func (s *Service) ReplaceComponent(key entity.ComponentKey, componentType string) error {
	e, err := s.registry.AcquireEntity(key.Resource)
	if err != nil {
		return err
	}
	if err := s.checkIndex(e, key.Index); err != nil {
		return err
	}
	cfg, err := s.configs.GetComponentConfig(componentType)
	if err != nil {
		return oops.With("component", key.String()).Wrapf(err, "replace component")
	}

	group := s.seq.Next()
	cp := e.Checkpoint()
	if _, err := s.applyPatch(e, entity.AddOp(componentPointer(key.Index), cfg.Prototype()), group); err != nil {
		return oops.With("component", key.String()).Wrapf(err, "replace component")
	}
	if _, err := s.applyPatch(e, entity.RemoveOp(componentPointer(key.Index+1)), group); err != nil {
		s.rollback(e, cp)
		return oops.With("component", key.String()).Wrapf(err, "replace component")
	}
	return nil
}

// CopyComponent inserts a copy of the component at src into index dst.
func (s *Service) CopyComponent(res resource.Key, src, dst int) error {
	if src == dst {
		return nil
	}
	e, err := s.registry.AcquireEntity(res)
	if err != nil {
		return err
	}
	c, err := e.Component(src)
	if err != nil {
		return err
	}
	if _, err := s.applyPatch(e, entity.AddOp(componentPointer(dst), c), 0); err != nil {
		return oops.With("resource", string(res)).With("src", src).With("dst", dst).Wrapf(err, "copy component")
	}
	return nil
}

// MoveComponent moves the component at src so it ends up at index dst. The
// move is atomic and undoes as one step.
func (s *Service) MoveComponent(res resource.Key, src, dst int) error {
	if src == dst {
		return nil
	}
	e, err := s.registry.AcquireEntity(res)
	if err != nil {
		return err
	}
	c, err := e.Component(src)
	if err != nil {
		return err
	}
	if err := s.checkIndex(e, dst); err != nil {
		return err
	}

	group := s.seq.Next()
	cp := e.Checkpoint()
	if _, err := s.applyPatch(e, entity.RemoveOp(componentPointer(src)), group); err != nil {
		return oops.With("resource", string(res)).With("src", src).With("dst", dst).Wrapf(err, "move component")
	}
	if _, err := s.applyPatch(e, entity.AddOp(componentPointer(dst), c), group); err != nil {
		s.rollback(e, cp)
		return oops.With("resource", string(res)).With("src", src).With("dst", dst).Wrapf(err, "move component")
	}
	return nil
}

// Undo reverts the most recent change, or group of changes, to res.
func (s *Service) Undo(res resource.Key) error {
	e, err := s.registry.AcquireEntity(res)
	if err != nil {
		return err
	}
	summaries, err := e.Undo(s.configs)
	s.publish(e, summaries...)
	return err
}

// Redo reapplies the most recently undone change, or group, to res.
func (s *Service) Redo(res resource.Key) error {
	e, err := s.registry.AcquireEntity(res)
	if err != nil {
		return err
	}
	summaries, err := e.Redo(s.configs)
	s.publish(e, summaries...)
	return err
}

// GetUndoCount returns the undo stack depth of res.
func (s *Service) GetUndoCount(res resource.Key) (int, error) {
	e, err := s.registry.AcquireEntity(res)
	if err != nil {
		return 0, err
	}
	return e.UndoCount(), nil
}

// GetRedoCount returns the redo stack depth of res.
func (s *Service) GetRedoCount(res resource.Key) (int, error) {
	e, err := s.registry.AcquireEntity(res)
	if err != nil {
		return 0, err
	}
	return e.RedoCount(), nil
}

// GetComponentCount returns the number of components of res.
func (s *Service) GetComponentCount(res resource.Key) (int, error) {
	e, err := s.registry.AcquireEntity(res)
	if err != nil {
		return 0, err
	}
	return e.ComponentCount(), nil
}

// GetComponentType returns the declared type of the component at key,
// without version. Unregistered types are returned as declared.
func (s *Service) GetComponentType(key entity.ComponentKey) (string, error) {
	e, err := s.registry.AcquireEntity(key.Resource)
	if err != nil {
		return "", err
	}
	componentType, _, err := e.ComponentType(key.Index)
	return componentType, err
}

// GetComponentSchema returns the schema of a registered component type.
func (s *Service) GetComponentSchema(componentType string) (*component.Schema, error) {
	cfg, err := s.configs.GetComponentConfig(componentType)
	if err != nil {
		return nil, err
	}
	return cfg.ComponentSchema, nil
}

// GetAllComponentTypes returns every registered component type, sorted.
func (s *Service) GetAllComponentTypes() []string {
	return s.configs.ComponentTypes()
}

// GetComponent returns the cached proxy for key.
func (s *Service) GetComponent(key entity.ComponentKey) (*proxy.Proxy, error) {
	return s.proxies.GetComponent(key)
}

// GetComponentOfType returns the proxy of the first componentType
// component of res.
func (s *Service) GetComponentOfType(res resource.Key, componentType string) (*proxy.Proxy, error) {
	return s.proxies.GetComponentOfType(res, componentType)
}

// GetComponents returns proxies for every component of res, in order.
func (s *Service) GetComponents(res resource.Key) ([]*proxy.Proxy, error) {
	return s.proxies.GetComponents(res, "")
}

// GetComponentsOfType returns the indices of componentType components.
func (s *Service) GetComponentsOfType(res resource.Key, componentType string) ([]int, error) {
	return s.registry.GetComponentsOfType(res, componentType)
}

// HasTag reports whether any resolved component of res carries tag.
func (s *Service) HasTag(res resource.Key, tag string) (bool, error) {
	e, err := s.registry.AcquireEntity(res)
	if err != nil {
		return false, err
	}
	return e.HasTag(tag), nil
}

// CreateComponentEditor builds the editor registered for p's component type
// and binds it to p.
func (s *Service) CreateComponentEditor(p *proxy.Proxy) (component.Editor, error) {
	cfg, err := s.configs.GetComponentConfig(p.ComponentType())
	if err != nil {
		return nil, oops.With("component", p.Key().String()).Wrapf(err, "create component editor")
	}
	if cfg.Descriptor.NewEditor == nil {
		return nil, oops.Code("COMPONENT_EDITOR_MISSING").
			With("component_type", cfg.Type).
			Wrap(ErrNoEditor)
	}
	editor := cfg.Descriptor.NewEditor()
	if err := editor.Initialize(p); err != nil {
		return nil, oops.Code("COMPONENT_EDITOR_FAILED").
			With("component", p.Key().String()).
			With("editor", cfg.Descriptor.EditorName).
			Wrapf(err, "initialize editor")
	}
	return editor, nil
}

// GetEntityDataPath returns the absolute path of res's entity file.
func (s *Service) GetEntityDataPath(res resource.Key) string {
	return s.registry.GetEntityDataPath(res)
}

// GetEntityDataRelativePath returns the project-relative path of res's
// entity file.
func (s *Service) GetEntityDataRelativePath(res resource.Key) string {
	return s.registry.GetEntityDataRelativePath(res)
}

// SaveEntities writes every modified entity.
func (s *Service) SaveEntities(ctx context.Context) error {
	return s.registry.SaveModifiedEntities(ctx)
}

// MoveEntityDataFile rebinds the entity of oldRes to newRes.
func (s *Service) MoveEntityDataFile(oldRes, newRes resource.Key) error {
	return s.registry.MoveEntityDataFile(oldRes, newRes)
}

// CopyEntityDataFile duplicates the entity of src under dst.
func (s *Service) CopyEntityDataFile(src, dst resource.Key) error {
	return s.registry.CopyEntityDataFile(src, dst)
}

// applyPatch applies op as a user modification and publishes the change.
func (s *Service) applyPatch(e *entity.Entity, op entity.Operation, group int64) (entity.PatchSummary, error) {
	summary, err := e.ApplyPatchOperation(op, group, entity.ContextModify, s.configs)
	if err != nil {
		return summary, err
	}
	s.publish(e, summary)
	return summary, nil
}

// rollback reverts the last step of a composite operation that failed
// partway, restoring the redo history from cp.
func (s *Service) rollback(e *entity.Entity, cp entity.Checkpoint) {
	summary, err := e.Rollback(cp, s.configs)
	if err != nil {
		errutil.LogError(s.logger, "composite rollback failed", err)
		return
	}
	s.publish(e, summary)
}

func (s *Service) publish(e *entity.Entity, summaries ...entity.PatchSummary) {
	for _, summary := range summaries {
		if summary.IsEmpty() {
			continue
		}
		s.registry.MarkModifiedEntity(e.Key())
		s.messenger.Send(summary.Change)
		s.logger.Debug("entity patched",
			"resource", string(e.Key()),
			"op", summary.Operation.Kind.String(),
			"path", summary.Operation.Path,
			"undo_group", summary.UndoGroupID,
		)
	}
}

func (s *Service) checkIndex(e *entity.Entity, index int) error {
	if count := e.ComponentCount(); index < 0 || index >= count {
		return oops.Code("COMPONENT_INDEX_OUT_OF_RANGE").
			With("resource", string(e.Key())).
			With("index", index).
			Wrapf(entity.ErrComponentIndexOutOfRange, "component index %d out of range [0,%d)", index, count)
	}
	return nil
}

func componentPointer(index int) string {
	return entity.NewPointer(entity.ComponentsKey, strconv.Itoa(index)).String()
}
