// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package entity

import "errors"

// Sentinel errors, matched with errors.Is.
var (
	ErrNothingToUndo            = errors.New("nothing to undo")
	ErrNothingToRedo            = errors.New("nothing to redo")
	ErrComponentIndexOutOfRange = errors.New("component index out of range")
	ErrPropertyNotFound         = errors.New("property not found")
	ErrUnsupportedOperation     = errors.New("unsupported patch operation")
	ErrValidationFailed         = errors.New("validation failed")
	ErrProjectLocked            = errors.New("project is locked by another process")
)
