// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package entity

import "sync/atomic"

// Sequence hands out undo group ids. Ids start at 1 and are never reused.
// Zero means "no group".
type Sequence struct {
	last atomic.Int64
}

// NewSequence returns a sequence whose first id is 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns the next id.
func (s *Sequence) Next() int64 {
	return s.last.Add(1)
}
