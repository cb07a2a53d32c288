// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package entities

import (
	"github.com/samber/oops"

	"github.com/holomush/entitystore/internal/entity"
	"github.com/holomush/entitystore/internal/jsondoc"
)

// GetPropertyValue returns a copy of the value at path inside the component
// at key. An empty path returns the whole component.
func (s *Service) GetPropertyValue(key entity.ComponentKey, path string) (any, error) {
	e, err := s.registry.AcquireEntity(key.Resource)
	if err != nil {
		return nil, err
	}
	if err := s.checkIndex(e, key.Index); err != nil {
		return nil, err
	}
	full, err := propertyPointer(key, path)
	if err != nil {
		return nil, err
	}
	return e.Value(full)
}

// GetPropertyAsJSON returns the value at path as compact JSON.
func (s *Service) GetPropertyAsJSON(key entity.ComponentKey, path string) (string, error) {
	v, err := s.GetPropertyValue(key, path)
	if err != nil {
		return "", err
	}
	return jsondoc.Compact(v)
}

// SetProperty writes value at path inside the component at key. value may
// be any JSON-marshalable Go value; TextMarshaler types are stored as
// strings. insert adds a member or array element instead of replacing one.
func (s *Service) SetProperty(key entity.ComponentKey, path string, value any, insert bool) error {
	e, err := s.registry.AcquireEntity(key.Resource)
	if err != nil {
		return err
	}
	if err := s.checkIndex(e, key.Index); err != nil {
		return err
	}
	full, err := propertyPointer(key, path)
	if err != nil {
		return err
	}
	tree, err := jsondoc.FromValue(value)
	if err != nil {
		return oops.Code("PROPERTY_VALUE_INVALID").
			With("component", key.String()).
			With("path", path).
			Wrap(err)
	}

	op := entity.ReplaceOp(full, tree)
	if insert {
		op = entity.AddOp(full, tree)
	}
	if _, err := s.applyPatch(e, op, 0); err != nil {
		return oops.With("component", key.String()).Wrapf(err, "set property %s", path)
	}
	return nil
}

// GetProperty decodes the value at path inside the component at key into T.
func GetProperty[T any](s *Service, key entity.ComponentKey, path string) (T, error) {
	var out T
	v, err := s.GetPropertyValue(key, path)
	if err != nil {
		return out, err
	}
	if err := jsondoc.Into(v, &out); err != nil {
		return out, oops.Code("PROPERTY_TYPE_MISMATCH").
			With("component", key.String()).
			With("path", path).
			Wrapf(err, "property cannot be read as %T", out)
	}
	return out, nil
}

// GetPropertyOr is GetProperty with a fallback for any failure.
func GetPropertyOr[T any](s *Service, key entity.ComponentKey, path string, fallback T) T {
	v, err := GetProperty[T](s, key, path)
	if err != nil {
		return fallback
	}
	return v
}

// propertyPointer joins a component-relative path onto the component's
// pointer.
func propertyPointer(key entity.ComponentKey, path string) (string, error) {
	base := componentPointer(key.Index)
	if path == "" {
		return base, nil
	}
	if _, err := entity.ParsePointer(path); err != nil {
		return "", oops.With("component", key.String()).Wrapf(err, "invalid property path")
	}
	return base + path, nil
}
