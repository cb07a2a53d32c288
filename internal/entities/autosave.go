// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package entities

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/holomush/entitystore/internal/entity"
	"github.com/holomush/entitystore/internal/messaging"
	"github.com/holomush/entitystore/pkg/errutil"
)

// Default autosave settings.
const (
	DefaultAutosaveDebounce    = 2 * time.Second
	DefaultAutosaveMaxAttempts = 3
	defaultRetryBase           = 200 * time.Millisecond
)

// Saver writes pending entity changes. *Service implements it.
type Saver interface {
	SaveEntities(ctx context.Context) error
}

// AutosaveConfig tunes an Autosaver. Zero values select the defaults.
type AutosaveConfig struct {
	Debounce    time.Duration
	MaxAttempts uint64
	RetryBase   time.Duration
	Logger      *slog.Logger
}

// Autosaver saves entities once changes stop arriving for the debounce
// interval.
type Autosaver struct {
	saver     Saver
	messenger *messaging.Messenger
	cfg       AutosaveConfig
	logger    *slog.Logger
}

// NewAutosaver creates an autosaver. Call Run to start it.
func NewAutosaver(saver Saver, messenger *messaging.Messenger, cfg AutosaveConfig) *Autosaver {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultAutosaveDebounce
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultAutosaveMaxAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Autosaver{saver: saver, messenger: messenger, cfg: cfg, logger: logger}
}

// Run saves after each burst of component changes until ctx is cancelled.
// Changes still pending at cancellation are saved before Run returns.
func (a *Autosaver) Run(ctx context.Context) error {
	ch := a.messenger.Subscribe(0)
	defer a.messenger.Unsubscribe(ch)

	timer := time.NewTimer(a.cfg.Debounce)
	timer.Stop()
	defer timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			if pending {
				a.save(context.WithoutCancel(ctx))
			}
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if _, changed := msg.(entity.ComponentChangedMessage); changed {
				pending = true
				timer.Reset(a.cfg.Debounce)
			}
		case <-timer.C:
			pending = false
			a.save(ctx)
		}
	}
}

func (a *Autosaver) save(ctx context.Context) {
	backoff := retry.WithMaxRetries(a.cfg.MaxAttempts-1, retry.NewExponential(a.cfg.RetryBase))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := a.saver.SaveEntities(ctx); err != nil {
			if ctx.Err() != nil {
				return err
			}
			a.logger.Warn("autosave attempt failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		errutil.LogError(a.logger, "autosave failed", err)
		return
	}
	a.logger.Debug("autosave complete", "attempts", attempt)
}
