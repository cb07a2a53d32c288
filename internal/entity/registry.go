// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package entity

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gofrs/flock"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"

	"github.com/holomush/entitystore/internal/jsondoc"
	"github.com/holomush/entitystore/internal/resource"
	"github.com/holomush/entitystore/pkg/errutil"
)

// Default locations relative to the project root.
const (
	DefaultDataFolder   = ".entitystore"
	DefaultEntitiesPath = DefaultDataFolder + "/entities"
	fileExtension       = ".json"
	invalidSuffix       = ".invalid"
	lockFileName        = ".lock"
)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// ProjectDir is the project root.
	ProjectDir string
	// EntitiesPath is the slash-separated entities folder relative to
	// ProjectDir. Defaults to DefaultEntitiesPath.
	EntitiesPath string
	Resources    resource.Registry
	Messenger    resource.Sender
	Configs      ConfigLookup
	// UndoDepth bounds each entity's undo and redo stacks. Zero is unbounded.
	UndoDepth int
	// SaveParallelism bounds concurrent file writes. Defaults to GOMAXPROCS.
	SaveParallelism int
	Logger          *slog.Logger
}

// Registry caches entities, loads them lazily from disk and persists the
// ones marked modified.
type Registry struct {
	cfg         RegistryConfig
	entitiesDir string
	logger      *slog.Logger
	schema      *jschema.Schema
	lock        *flock.Flock

	mu       sync.RWMutex
	cache    map[resource.Key]*Entity
	modified map[resource.Key]uint64
	digests  map[resource.Key]uint64
	gen      uint64
}

// NewRegistry creates a registry. Call Open before use.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.EntitiesPath == "" {
		cfg.EntitiesPath = DefaultEntitiesPath
	}
	if cfg.SaveParallelism <= 0 {
		cfg.SaveParallelism = runtime.GOMAXPROCS(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	entitiesDir := filepath.Join(cfg.ProjectDir, filepath.FromSlash(cfg.EntitiesPath))
	return &Registry{
		cfg:         cfg,
		entitiesDir: entitiesDir,
		logger:      logger,
		lock:        flock.New(filepath.Join(entitiesDir, lockFileName)),
		cache:       make(map[resource.Key]*Entity),
		modified:    make(map[resource.Key]uint64),
		digests:     make(map[resource.Key]uint64),
	}
}

// Open compiles the entity schema and takes the project lock.
func (r *Registry) Open() error {
	sch, err := compileSchema()
	if err != nil {
		return oops.Code("ENTITY_SCHEMA_INVALID").Wrapf(err, "failed to build entity schema")
	}
	r.schema = sch

	if err := os.MkdirAll(r.entitiesDir, 0o750); err != nil {
		return oops.Code("ENTITY_SAVE_FAILED").
			With("dir", r.entitiesDir).
			Wrapf(err, "failed to create entities folder")
	}
	ok, err := r.lock.TryLock()
	if err != nil {
		return oops.Code("PROJECT_LOCKED").
			With("lock", r.lock.Path()).
			Wrapf(err, "acquire project lock")
	}
	if !ok {
		return oops.Code("PROJECT_LOCKED").
			With("lock", r.lock.Path()).
			Wrapf(ErrProjectLocked, "project is already open")
	}
	r.logger.Debug("entity registry opened", "dir", r.entitiesDir)
	return nil
}

// Close releases the project lock.
func (r *Registry) Close() error {
	if err := r.lock.Unlock(); err != nil {
		return oops.Code("PROJECT_LOCKED").Wrapf(err, "release project lock")
	}
	return nil
}

// EntitiesDir returns the absolute entities folder.
func (r *Registry) EntitiesDir() string {
	return r.entitiesDir
}

// PropertyOrder returns the property order used when encoding documents.
func (r *Registry) PropertyOrder() PropertyOrder {
	return OrderFromConfigs(r.cfg.Configs)
}

// GetEntityDataPath returns the absolute path of key's data file.
func (r *Registry) GetEntityDataPath(key resource.Key) string {
	return filepath.Join(r.entitiesDir, filepath.FromSlash(string(key))+fileExtension)
}

// GetEntityDataRelativePath returns key's data file relative to the project.
func (r *Registry) GetEntityDataRelativePath(key resource.Key) string {
	return path.Join(r.cfg.EntitiesPath, string(key)+fileExtension)
}

// AcquireEntity returns the cached entity for key, loading or creating it on
// first use. The resource must exist even when the entity is cached.
func (r *Registry) AcquireEntity(key resource.Key) (*Entity, error) {
	if _, err := r.cfg.Resources.GetResource(key); err != nil {
		return nil, oops.With("resource", string(key)).Wrapf(err, "resource does not exist")
	}

	r.mu.RLock()
	e, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	e, digest, created := r.load(key)

	r.mu.Lock()
	if existing, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.cache[key] = e
	if digest != 0 {
		r.digests[key] = digest
	}
	cachedEntities.Set(float64(len(r.cache)))
	r.mu.Unlock()

	if created && r.cfg.Messenger != nil {
		r.cfg.Messenger.Send(EntityCreatedMessage{Resource: key})
	}
	return e, nil
}

// load reads key's data file. Any failure yields a fresh entity; an
// unreadable file is kept aside with an ".invalid" suffix.
func (r *Registry) load(key resource.Key) (*Entity, uint64, bool) {
	dataPath := r.GetEntityDataPath(key)

	raw, err := os.ReadFile(dataPath)
	switch {
	case err == nil:
		doc, loadErr := r.decodeDocument(raw)
		if loadErr == nil {
			entityLoads.WithLabelValues("loaded").Inc()
			return newEntity(key, dataPath, newData(doc, r.cfg.Configs), r.schema, r.cfg.UndoDepth), xxhash.Sum64(raw), false
		}
		errutil.LogWarn(r.logger, "failed to load entity data, creating a new entity",
			oops.With("resource", string(key)).With("path", dataPath).Wrap(loadErr))
		r.preserveInvalid(dataPath)
		entityLoads.WithLabelValues("fallback").Inc()
	case errors.Is(err, fs.ErrNotExist):
		entityLoads.WithLabelValues("created").Inc()
	default:
		errutil.LogWarn(r.logger, "failed to read entity data, creating a new entity",
			oops.Code("ENTITY_LOAD_FAILED").With("resource", string(key)).With("path", dataPath).Wrap(err))
		entityLoads.WithLabelValues("fallback").Inc()
	}

	return newEntity(key, dataPath, newData(newDocument(), r.cfg.Configs), r.schema, r.cfg.UndoDepth), 0, true
}

func (r *Registry) preserveInvalid(dataPath string) {
	target := dataPath + invalidSuffix
	if err := os.Rename(dataPath, target); err != nil {
		r.logger.Warn("failed to preserve invalid entity file", "path", dataPath, "error", err)
		return
	}
	r.logger.Warn("invalid entity file preserved", "path", target)
}

// decodeDocument parses, migrates and validates raw entity JSON.
func (r *Registry) decodeDocument(raw []byte) (map[string]any, error) {
	tree, err := jsondoc.Decode(raw)
	if err != nil {
		return nil, oops.Code("ENTITY_LOAD_FAILED").Wrapf(err, "failed to parse entity data")
	}
	doc, ok := tree.(map[string]any)
	if !ok {
		return nil, oops.Code("ENTITY_LOAD_FAILED").Errorf("entity data is not a JSON object")
	}
	if err := migrate(doc); err != nil {
		return nil, oops.Code("ENTITY_LOAD_FAILED").Wrapf(err, "failed to migrate entity data")
	}
	if err := r.schema.Validate(doc); err != nil {
		return nil, oops.Code("ENTITY_LOAD_FAILED").Wrapf(err, "entity data failed schema validation")
	}
	if err := validateComponents(doc, r.cfg.Configs); err != nil {
		return nil, oops.Code("ENTITY_LOAD_FAILED").Wrapf(err, "failed to validate components")
	}
	return doc, nil
}

// LoadEntityFile validates an entity file without caching it.
func (r *Registry) LoadEntityFile(filePath string) (*Data, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, oops.Code("ENTITY_LOAD_FAILED").With("path", filePath).Wrapf(err, "failed to read entity data")
	}
	doc, err := r.decodeDocument(raw)
	if err != nil {
		return nil, oops.With("path", filePath).Wrap(err)
	}
	return newData(doc, r.cfg.Configs), nil
}

// EntityFiles lists resource keys that have a data file on disk.
func (r *Registry) EntityFiles() ([]resource.Key, error) {
	return r.filesWithSuffix(fileExtension)
}

// invalidFiles lists resource keys with a preserved invalid data file.
func (r *Registry) invalidFiles() ([]resource.Key, error) {
	return r.filesWithSuffix(fileExtension + invalidSuffix)
}

func (r *Registry) filesWithSuffix(suffix string) ([]resource.Key, error) {
	var keys []resource.Key
	err := filepath.WalkDir(r.entitiesDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		key, ok := r.keyForFile(p, suffix)
		if ok {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, oops.Code("ENTITY_LOAD_FAILED").With("dir", r.entitiesDir).Wrapf(err, "failed to list entity files")
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

func (r *Registry) keyForFile(p, suffix string) (resource.Key, bool) {
	rel, err := filepath.Rel(r.entitiesDir, p)
	if err != nil {
		return "", false
	}
	key := resource.Key(strings.TrimSuffix(filepath.ToSlash(rel), suffix))
	if key.Validate() != nil {
		return "", false
	}
	return key, true
}

// MarkModifiedEntity flags key for the next save.
func (r *Registry) MarkModifiedEntity(key resource.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.modified[key] = r.gen
}

// IsModified reports whether key has unsaved changes.
func (r *Registry) IsModified(key resource.Key) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.modified[key]
	return ok
}

// ModifiedCount returns the number of entities awaiting a save.
func (r *Registry) ModifiedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modified)
}

// CachedCount returns the number of cached entities.
func (r *Registry) CachedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

type saveJob struct {
	key    resource.Key
	entity *Entity
	gen    uint64
	digest uint64
}

type saveResult struct {
	key    resource.Key
	gen    uint64
	digest uint64
}

// SaveModifiedEntities writes every modified cached entity. Entities are
// written concurrently; the first failure is returned and only entities
// that saved are cleared.
func (r *Registry) SaveModifiedEntities(ctx context.Context) error {
	start := time.Now()
	defer recordSavePass(start)

	r.mu.RLock()
	jobs := make([]saveJob, 0, len(r.modified))
	for key, gen := range r.modified {
		if e, ok := r.cache[key]; ok {
			jobs = append(jobs, saveJob{key: key, entity: e, gen: gen, digest: r.digests[key]})
		}
	}
	r.mu.RUnlock()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].key < jobs[j].key })

	order := r.PropertyOrder()
	results := make([]saveResult, len(jobs))
	saved := make([]bool, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.SaveParallelism)
	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			digest, err := r.saveEntity(job, order)
			if err != nil {
				entitySaves.WithLabelValues("error").Inc()
				return err
			}
			results[i] = saveResult{key: job.key, gen: job.gen, digest: digest}
			saved[i] = true
			return nil
		})
	}
	err := g.Wait()

	count := 0
	r.mu.Lock()
	for i, ok := range saved {
		if !ok {
			continue
		}
		res := results[i]
		r.digests[res.key] = res.digest
		// A newer modification during the save keeps the entity dirty.
		if r.modified[res.key] == res.gen {
			delete(r.modified, res.key)
		}
		count++
	}
	r.mu.Unlock()

	if err != nil {
		return err
	}
	if count > 0 {
		r.logger.Info("saved modified entities", "count", count, "duration", time.Since(start))
	}
	return nil
}

// saveEntity writes one entity atomically and returns the content digest.
// Unchanged content is not rewritten.
func (r *Registry) saveEntity(job saveJob, order PropertyOrder) (uint64, error) {
	content, err := job.entity.Snapshot(order)
	if err != nil {
		return 0, oops.Code("ENTITY_SAVE_FAILED").With("resource", string(job.key)).Wrap(err)
	}
	digest := xxhash.Sum64(content)
	dataPath := job.entity.DataPath()

	if job.digest == digest && resource.Exists(dataPath) {
		entitySaves.WithLabelValues("unchanged").Inc()
		return digest, nil
	}
	if err := writeFileAtomic(dataPath, content); err != nil {
		return 0, oops.Code("ENTITY_SAVE_FAILED").
			With("resource", string(job.key)).
			With("path", dataPath).
			Wrapf(err, "failed to save entity data")
	}
	entitySaves.WithLabelValues("written").Inc()
	return digest, nil
}

func writeFileAtomic(dst string, content []byte) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// CleanupEntities drops cached entities whose resource is gone, deletes
// orphaned data files, including preserved invalid ones, and prunes empty
// folders.
func (r *Registry) CleanupEntities() error {
	var dropped []resource.Key

	r.mu.Lock()
	for key := range r.cache {
		if _, err := r.cfg.Resources.GetResource(key); err != nil {
			delete(r.cache, key)
			delete(r.modified, key)
			delete(r.digests, key)
			dropped = append(dropped, key)
		}
	}
	cachedEntities.Set(float64(len(r.cache)))
	r.mu.Unlock()

	keys, err := r.EntityFiles()
	if err != nil {
		return err
	}
	if err := r.removeOrphans(keys, ""); err != nil {
		return err
	}
	invalid, err := r.invalidFiles()
	if err != nil {
		return err
	}
	if err := r.removeOrphans(invalid, invalidSuffix); err != nil {
		return err
	}

	if err := r.pruneEmptyDirs(); err != nil {
		return err
	}

	sort.Slice(dropped, func(i, j int) bool { return dropped[i] < dropped[j] })
	for _, key := range dropped {
		if r.cfg.Messenger != nil {
			r.cfg.Messenger.Send(EntityDestroyedMessage{Resource: key})
		}
	}
	if len(dropped) > 0 {
		r.logger.Info("dropped entities for missing resources", "count", len(dropped))
	}
	return nil
}

// removeOrphans deletes the data files, plus suffix, of keys whose resource
// is gone.
func (r *Registry) removeOrphans(keys []resource.Key, suffix string) error {
	for _, key := range keys {
		if _, err := r.cfg.Resources.GetResource(key); err == nil {
			continue
		}
		if err := os.Remove(r.GetEntityDataPath(key) + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return oops.Code("ENTITY_SAVE_FAILED").
				With("resource", string(key)).
				Wrapf(err, "failed to delete orphaned entity file")
		}
		r.logger.Debug("deleted orphaned entity file", "resource", string(key), "invalid", suffix != "")
	}
	return nil
}

// pruneEmptyDirs removes empty folders below the entities folder, deepest
// first.
func (r *Registry) pruneEmptyDirs() error {
	var dirs []string
	err := filepath.WalkDir(r.entitiesDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && p != r.entitiesDir {
			dirs = append(dirs, p)
		}
		return nil
	})
	if err != nil {
		return oops.Code("ENTITY_SAVE_FAILED").Wrapf(err, "failed to scan entities folder")
	}
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		empty, err := isEmptyDir(dir)
		if err != nil || !empty {
			continue
		}
		if err := os.Remove(dir); err != nil {
			return oops.Code("ENTITY_SAVE_FAILED").With("dir", dir).Wrapf(err, "failed to remove empty folder")
		}
	}
	return nil
}

func isEmptyDir(dir string) (bool, error) {
	f, err := os.Open(dir) //nolint:gosec // dir comes from walking the entities folder
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()
	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}

// MoveEntityDataFile rebinds oldKey's entity, dirty flag, history and data
// file to newKey. An existing destination, cached or on disk, is an error.
// The cache is rebound only after the data file moved.
func (r *Registry) MoveEntityDataFile(oldKey, newKey resource.Key) error {
	oldPath := r.GetEntityDataPath(oldKey)
	newPath := r.GetEntityDataPath(newKey)

	r.mu.Lock()
	if _, ok := r.cache[newKey]; ok {
		r.mu.Unlock()
		return oops.Code("ENTITY_FILE_EXISTS").
			With("resource", string(newKey)).
			Errorf("an entity for %q is already cached", newKey)
	}
	if resource.Exists(newPath) {
		r.mu.Unlock()
		return oops.Code("ENTITY_FILE_EXISTS").
			With("path", newPath).
			Errorf("entity data file already exists: %q", newPath)
	}

	if resource.Exists(oldPath) {
		if err := os.MkdirAll(filepath.Dir(newPath), 0o750); err != nil {
			r.mu.Unlock()
			return oops.Code("ENTITY_SAVE_FAILED").With("path", newPath).Wrapf(err, "failed to create folder")
		}
		if err := os.Rename(oldPath, newPath); err != nil {
			r.mu.Unlock()
			return oops.Code("ENTITY_SAVE_FAILED").
				With("from", oldPath).
				With("to", newPath).
				Wrapf(err, "failed to move entity data file")
		}
	}

	e, cached := r.cache[oldKey]
	if cached {
		e.moveTo(newKey, newPath)
		r.cache[newKey] = e
		delete(r.cache, oldKey)
		if gen, ok := r.modified[oldKey]; ok {
			r.modified[newKey] = gen
			delete(r.modified, oldKey)
		}
		if digest, ok := r.digests[oldKey]; ok {
			r.digests[newKey] = digest
			delete(r.digests, oldKey)
		}
	}
	r.mu.Unlock()

	if cached && r.cfg.Messenger != nil {
		r.cfg.Messenger.Send(EntityDestroyedMessage{Resource: oldKey})
	}
	r.logger.Debug("moved entity data", "from", string(oldKey), "to", string(newKey))
	return nil
}

// CopyEntityDataFile copies srcKey's data to dstKey. A cached source is
// copied into the cache without undo history.
func (r *Registry) CopyEntityDataFile(srcKey, dstKey resource.Key) error {
	srcPath := r.GetEntityDataPath(srcKey)
	dstPath := r.GetEntityDataPath(dstKey)

	r.mu.RLock()
	_, dstCached := r.cache[dstKey]
	src, srcCached := r.cache[srcKey]
	_, srcDirty := r.modified[srcKey]
	r.mu.RUnlock()

	if dstCached {
		return oops.Code("ENTITY_FILE_EXISTS").
			With("resource", string(dstKey)).
			Errorf("an entity for %q is already cached", dstKey)
	}
	if resource.Exists(dstPath) {
		return oops.Code("ENTITY_FILE_EXISTS").
			With("path", dstPath).
			Errorf("entity data file already exists: %q", dstPath)
	}

	if resource.Exists(srcPath) {
		raw, err := os.ReadFile(srcPath)
		if err != nil {
			return oops.Code("ENTITY_LOAD_FAILED").With("path", srcPath).Wrapf(err, "failed to read entity data")
		}
		if err := writeFileAtomic(dstPath, raw); err != nil {
			return oops.Code("ENTITY_SAVE_FAILED").With("path", dstPath).Wrapf(err, "failed to copy entity data")
		}
	}

	if srcCached {
		r.mu.Lock()
		r.cache[dstKey] = src.copyTo(dstKey, dstPath)
		if srcDirty {
			r.gen++
			r.modified[dstKey] = r.gen
		}
		cachedEntities.Set(float64(len(r.cache)))
		r.mu.Unlock()
	}
	return nil
}

// GetComponentsOfType returns indices of components of componentType in
// key's entity.
func (r *Registry) GetComponentsOfType(key resource.Key, componentType string) ([]int, error) {
	e, err := r.AcquireEntity(key)
	if err != nil {
		return nil, err
	}
	return e.ComponentsOfType(componentType), nil
}
