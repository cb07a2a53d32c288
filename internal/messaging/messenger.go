// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package messaging provides an in-process message bus. Registered handlers
// run synchronously inside Send; channel subscribers receive messages
// asynchronously and may miss them when their buffer is full.
package messaging

import (
	"fmt"
	"log/slog"
	"sync"
)

// defaultBuffer is the channel capacity used by Subscribe when buffer <= 0.
const defaultBuffer = 100

type registration struct {
	recipient any
	handle    func(any)
}

// Messenger distributes messages to registered handlers and channel
// subscribers. It is safe for concurrent use.
type Messenger struct {
	mu            sync.RWMutex
	registrations []registration
	subs          []chan any
}

// New creates an empty messenger.
func New() *Messenger {
	return &Messenger{}
}

// Register adds a handler for messages of type T on behalf of recipient.
// recipient must be comparable; it is the handle used by Unregister.
// A recipient may register handlers for several message types.
func Register[T any](m *Messenger, recipient any, handler func(T)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.registrations = append(m.registrations, registration{
		recipient: recipient,
		handle: func(msg any) {
			if typed, ok := msg.(T); ok {
				handler(typed)
			}
		},
	})
}

// Unregister removes every handler registered by recipient.
func (m *Messenger) Unregister(recipient any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.registrations[:0]
	for _, r := range m.registrations {
		if r.recipient != recipient {
			kept = append(kept, r)
		}
	}
	// Clear the tail so dropped handlers can be collected.
	for i := len(kept); i < len(m.registrations); i++ {
		m.registrations[i] = registration{}
	}
	m.registrations = kept
}

// IsRegistered reports whether recipient has at least one handler.
func (m *Messenger) IsRegistered(recipient any) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.registrations {
		if r.recipient == recipient {
			return true
		}
	}
	return false
}

// Send delivers msg to every matching handler, in registration order, then
// offers it to channel subscribers without blocking.
//
// Handlers are invoked without the lock held, so they may register or
// unregister recipients. A handler added during Send does not see the
// message being sent. Channel sends happen under the read lock so that
// Unsubscribe cannot close a channel mid-send.
func (m *Messenger) Send(msg any) {
	m.mu.RLock()
	regs := make([]registration, len(m.registrations))
	copy(regs, m.registrations)
	m.mu.RUnlock()

	for _, r := range regs {
		r.handle(msg)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- msg:
		default:
			slog.Warn("message dropped: subscriber buffer full",
				"message_type", fmt.Sprintf("%T", msg),
			)
		}
	}
}

// Subscribe returns a channel that receives every message sent after the
// call. buffer <= 0 selects the default capacity.
func (m *Messenger) Subscribe(buffer int) chan any {
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan any, buffer)
	m.subs = append(m.subs, ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (m *Messenger) Unsubscribe(ch chan any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subs {
		if sub == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}
