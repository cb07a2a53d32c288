// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package entity

import (
	"fmt"

	"github.com/holomush/entitystore/internal/resource"
)

// ComponentKey addresses one component of one entity.
type ComponentKey struct {
	Resource resource.Key
	Index    int
}

func (k ComponentKey) String() string {
	return fmt.Sprintf("%s[%d]", k.Resource, k.Index)
}

// RootPath is the property path reported for whole-component changes.
const RootPath = "/"

// ComponentChangedMessage is sent after a patch changes an entity. A
// PropertyPath of "/" means components were added, removed or replaced.
type ComponentChangedMessage struct {
	Key           ComponentKey
	ComponentType string
	PropertyPath  string
	Operation     OpKind
}

// Structural reports whether the change affects the component list.
func (m ComponentChangedMessage) Structural() bool {
	return m.PropertyPath == RootPath
}

// EntityCreatedMessage is sent when an entity is synthesized because no
// usable data file existed.
type EntityCreatedMessage struct {
	Resource resource.Key
}

// EntityDestroyedMessage is sent when a cached entity is dropped, either by
// cleanup or because its data moved to another resource.
type EntityDestroyedMessage struct {
	Resource resource.Key
}
