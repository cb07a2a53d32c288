// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads entitystore settings from defaults, an optional YAML
// file and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/entitystore/internal/entities"
	"github.com/holomush/entitystore/internal/logging"
)

// Flag names bound to configuration keys.
const (
	FlagProject         = "project"
	FlagLogFormat       = "log-format"
	FlagLogLevel        = "log-level"
	FlagUndoMaxDepth    = "undo-max-depth"
	FlagSaveParallelism = "save-parallelism"
	FlagMetricsAddr     = "metrics-addr"
)

var flagKeys = map[string]string{
	FlagProject:         "project",
	FlagLogFormat:       "log-format",
	FlagLogLevel:        "log-level",
	FlagUndoMaxDepth:    "undo.max-depth",
	FlagSaveParallelism: "save.parallelism",
	FlagMetricsAddr:     "metrics.addr",
}

// Config holds entitystore settings.
type Config struct {
	Project   string   `koanf:"project"`
	LogFormat string   `koanf:"log-format"`
	LogLevel  string   `koanf:"log-level"`
	Undo      Undo     `koanf:"undo"`
	Autosave  Autosave `koanf:"autosave"`
	Save      Save     `koanf:"save"`
	Metrics   Metrics  `koanf:"metrics"`
}

// Undo bounds per-entity history.
type Undo struct {
	// MaxDepth of zero keeps unbounded history.
	MaxDepth int `koanf:"max-depth"`
}

// Autosave configures the entities.Autosaver for hosts that embed
// entities.Service and mutate entities in a long-running process. It is set
// from the config file only; entityctl commands save explicitly.
type Autosave struct {
	Enabled     bool          `koanf:"enabled"`
	Debounce    time.Duration `koanf:"debounce"`
	MaxAttempts int           `koanf:"max-attempts"`
}

// Options converts the settings for entities.NewAutosaver.
func (a Autosave) Options(logger *slog.Logger) entities.AutosaveConfig {
	return entities.AutosaveConfig{
		Debounce:    a.Debounce,
		MaxAttempts: uint64(max(a.MaxAttempts, 0)), //nolint:gosec // clamped non-negative
		Logger:      logger,
	}
}

// Save controls entity persistence.
type Save struct {
	// Parallelism of zero uses GOMAXPROCS.
	Parallelism int `koanf:"parallelism"`
}

// Metrics configures the metrics and health endpoint served while watching.
type Metrics struct {
	// Addr is a "host:port" listen address. Empty disables the endpoint.
	Addr string `koanf:"addr"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Project:   ".",
		LogFormat: "json",
		LogLevel:  "info",
		Undo:      Undo{MaxDepth: 100},
		Autosave: Autosave{
			Enabled:     true,
			Debounce:    entities.DefaultAutosaveDebounce,
			MaxAttempts: entities.DefaultAutosaveMaxAttempts,
		},
	}
}

func defaults() map[string]any {
	d := Default()
	return map[string]any{
		"project":               d.Project,
		"log-format":            d.LogFormat,
		"log-level":             d.LogLevel,
		"undo.max-depth":        d.Undo.MaxDepth,
		"autosave.enabled":      d.Autosave.Enabled,
		"autosave.debounce":     d.Autosave.Debounce,
		"autosave.max-attempts": d.Autosave.MaxAttempts,
		"save.parallelism":      d.Save.Parallelism,
		"metrics.addr":          d.Metrics.Addr,
	}
}

// RegisterFlags adds the configuration flags to fs with the built-in defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringP(FlagProject, "p", d.Project, "project root directory")
	fs.String(FlagLogFormat, d.LogFormat, "log format (json, text)")
	fs.String(FlagLogLevel, d.LogLevel, "log level (debug, info, warn, error)")
	fs.Int(FlagUndoMaxDepth, d.Undo.MaxDepth, "undo history depth per entity (0 for unbounded)")
	fs.Int(FlagSaveParallelism, d.Save.Parallelism, "concurrent entity file writes (0 for GOMAXPROCS)")
	fs.String(FlagMetricsAddr, d.Metrics.Addr, "serve metrics and health probes on this address while watching")
}

// Load builds a Config from defaults, the YAML file at path and any flags
// changed on the command line. A missing file is not an error. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("key", key).Wrap(err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrapf(err, "parse config file")
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").Wrapf(err, "apply flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").Wrapf(err, "decode config")
	}
	return &cfg, nil
}

// Validate checks that the settings are usable.
func (c *Config) Validate() error {
	if c.Project == "" {
		return fmt.Errorf("project is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("log-format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Undo.MaxDepth < 0 {
		return fmt.Errorf("undo.max-depth must not be negative, got %d", c.Undo.MaxDepth)
	}
	if c.Autosave.Enabled {
		if c.Autosave.Debounce <= 0 {
			return fmt.Errorf("autosave.debounce must be positive, got %s", c.Autosave.Debounce)
		}
		if c.Autosave.MaxAttempts < 1 {
			return fmt.Errorf("autosave.max-attempts must be at least 1, got %d", c.Autosave.MaxAttempts)
		}
	}
	if c.Save.Parallelism < 0 {
		return fmt.Errorf("save.parallelism must not be negative, got %d", c.Save.Parallelism)
	}
	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics.addr must be host:port, got %q", c.Metrics.Addr)
		}
	}
	return nil
}
