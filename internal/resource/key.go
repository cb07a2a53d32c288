// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package resource defines resource keys and the registry that maps them to
// files and folders in a project.
package resource

import (
	"errors"
	"path"
	"strings"
)

// ErrResourceNotFound indicates the registry has no resource for a key.
var ErrResourceNotFound = errors.New("resource not found")

// ErrInvalidKey indicates a key is not a clean project-relative path.
var ErrInvalidKey = errors.New("invalid resource key")

// Key identifies a project resource by its slash-separated path relative to
// the project root, e.g. "scenes/intro.scene".
type Key string

// String returns the key as a path string.
func (k Key) String() string {
	return string(k)
}

// IsEmpty reports whether the key is the empty string.
func (k Key) IsEmpty() bool {
	return k == ""
}

// Validate checks that the key is a clean relative path.
func (k Key) Validate() error {
	s := string(k)
	switch {
	case s == "":
		return errors.Join(ErrInvalidKey, errors.New("key is empty"))
	case strings.HasPrefix(s, "/"):
		return errors.Join(ErrInvalidKey, errors.New("key must be relative"))
	case strings.Contains(s, `\`):
		return errors.Join(ErrInvalidKey, errors.New("key must use forward slashes"))
	}
	for _, seg := range strings.Split(s, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return errors.Join(ErrInvalidKey, errors.New("key contains an empty or relative segment"))
		}
	}
	if path.Clean(s) != s {
		return errors.Join(ErrInvalidKey, errors.New("key is not a clean path"))
	}
	return nil
}

// Name returns the last path segment of the key.
func (k Key) Name() string {
	return path.Base(string(k))
}

// Parent returns the key of the containing folder, or the empty key for
// top-level resources.
func (k Key) Parent() Key {
	dir := path.Dir(string(k))
	if dir == "." {
		return ""
	}
	return Key(dir)
}
