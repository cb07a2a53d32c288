// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package resource

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/samber/oops"
)

// Kind distinguishes file resources from folder resources.
type Kind int

// Resource kinds.
const (
	KindFile Kind = iota
	KindFolder
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	if k == KindFolder {
		return "folder"
	}
	return "file"
}

// Resource describes one entry known to the registry.
type Resource struct {
	Key  Key
	Kind Kind
}

// Registry resolves resource keys. Implementations must be safe for
// concurrent use.
type Registry interface {
	// GetResource returns the resource for key, or ErrResourceNotFound.
	GetResource(key Key) (Resource, error)
	// ResourcePath returns the absolute filesystem path for key. The path
	// need not exist.
	ResourcePath(key Key) string
}

// RegistryUpdatedMessage is sent after the registry has been rescanned.
type RegistryUpdatedMessage struct{}

// Sender publishes messages. messaging.Messenger satisfies it.
type Sender interface {
	Send(msg any)
}

// FolderRegistry is a Registry backed by a directory tree on disk.
// It is safe for concurrent use by multiple goroutines.
type FolderRegistry struct {
	root    string
	exclude []string
	sender  Sender

	mu        sync.RWMutex
	resources map[Key]Resource
}

// FolderRegistryOption configures a FolderRegistry.
type FolderRegistryOption func(*FolderRegistry)

// WithExclude skips top-level folders with the given names when scanning.
func WithExclude(names ...string) FolderRegistryOption {
	return func(r *FolderRegistry) {
		r.exclude = append(r.exclude, names...)
	}
}

// WithSender sets where RegistryUpdatedMessage is published after a refresh.
func WithSender(s Sender) FolderRegistryOption {
	return func(r *FolderRegistry) {
		r.sender = s
	}
}

// NewFolderRegistry creates a registry rooted at root. Call Refresh to
// populate it.
func NewFolderRegistry(root string, opts ...FolderRegistryOption) *FolderRegistry {
	r := &FolderRegistry{
		root:      filepath.Clean(root),
		resources: make(map[Key]Resource),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Root returns the project root directory.
func (r *FolderRegistry) Root() string {
	return r.root
}

// GetResource returns the resource for key.
func (r *FolderRegistry) GetResource(key Key) (Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.resources[key]
	if !ok {
		return Resource{}, oops.Code("RESOURCE_NOT_FOUND").
			With("resource", key.String()).
			Wrapf(ErrResourceNotFound, "get resource %q", key)
	}
	return res, nil
}

// ResourcePath returns the filesystem path for key.
func (r *FolderRegistry) ResourcePath(key Key) string {
	return filepath.Join(r.root, filepath.FromSlash(key.String()))
}

// Keys returns all known keys in sorted order.
func (r *FolderRegistry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]Key, 0, len(r.resources))
	for k := range r.resources {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Refresh rescans the project root, replaces the resource set, and publishes
// RegistryUpdatedMessage.
func (r *FolderRegistry) Refresh() error {
	scanned := make(map[Key]Resource)
	err := filepath.WalkDir(r.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == r.root {
			return nil
		}
		rel, err := filepath.Rel(r.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() && r.excluded(rel) {
			return filepath.SkipDir
		}
		kind := KindFile
		if d.IsDir() {
			kind = KindFolder
		}
		key := Key(rel)
		scanned[key] = Resource{Key: key, Kind: kind}
		return nil
	})
	if err != nil {
		return oops.Code("RESOURCE_SCAN_FAILED").With("root", r.root).Wrapf(err, "scan project folder")
	}

	r.mu.Lock()
	r.resources = scanned
	r.mu.Unlock()

	slog.Debug("resource registry refreshed", "root", r.root, "resources", len(scanned))

	if r.sender != nil {
		r.sender.Send(RegistryUpdatedMessage{})
	}
	return nil
}

func (r *FolderRegistry) excluded(rel string) bool {
	if strings.Contains(rel, "/") {
		return false
	}
	for _, name := range r.exclude {
		if rel == name {
			return true
		}
	}
	return false
}

// Exists reports whether path exists on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
