// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package resource

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/oops"
)

// defaultDebounce is how long the watcher waits for filesystem activity to
// settle before refreshing the registry.
const defaultDebounce = 250 * time.Millisecond

// Watcher refreshes a FolderRegistry when files under its root change.
type Watcher struct {
	registry *FolderRegistry
	debounce time.Duration
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period before a refresh.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for registry.
func NewWatcher(registry *FolderRegistry, opts ...WatcherOption) *Watcher {
	w := &Watcher{registry: registry, debounce: defaultDebounce}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches the registry root recursively until ctx is cancelled.
// It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return oops.Code("WATCHER_START_FAILED").Wrapf(err, "create filesystem watcher")
	}
	defer func() {
		if cerr := fw.Close(); cerr != nil {
			slog.Warn("failed to close filesystem watcher", "error", cerr)
		}
	}()

	if err := w.addTree(fw, w.registry.root); err != nil {
		return err
	}

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.ignored(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				// New folders must be watched explicitly.
				if err := w.addTree(fw, ev.Name); err != nil {
					slog.Debug("failed to watch new path", "path", ev.Name, "error", err)
				}
			}
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
			pending = true
		case werr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("filesystem watcher error", "root", w.registry.root, "error", werr)
		case <-timer.C:
			pending = false
			if err := w.registry.Refresh(); err != nil {
				slog.Error("failed to refresh resource registry", "root", w.registry.root, "error", err)
			}
		}
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(p) {
			return filepath.SkipDir
		}
		return fw.Add(p)
	})
	if err != nil {
		return oops.Code("WATCHER_START_FAILED").With("path", root).Wrapf(err, "watch folder tree")
	}
	return nil
}

func (w *Watcher) ignored(p string) bool {
	rel, err := filepath.Rel(w.registry.root, p)
	if err != nil || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)
	top := rel
	for i := 0; i < len(rel); i++ {
		if rel[i] == '/' {
			top = rel[:i]
			break
		}
	}
	return w.registry.excluded(top)
}
