// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
project: /srv/story
log-format: text
undo:
  max-depth: 10
autosave:
  debounce: 5s
save:
  parallelism: 2
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/srv/story", cfg.Project)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10, cfg.Undo.MaxDepth)
	assert.Equal(t, 5*time.Second, cfg.Autosave.Debounce)
	assert.True(t, cfg.Autosave.Enabled)
	assert.Equal(t, 2, cfg.Save.Parallelism)
}

func TestLoad_ChangedFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "log-level: warn\nundo:\n  max-depth: 10\n")
	flags := newFlags(t, "--undo-max-depth=3", "--save-parallelism=4", "--metrics-addr=:9100")

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Undo.MaxDepth)
	assert.Equal(t, 4, cfg.Save.Parallelism)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	// Unchanged flags keep the file's value rather than the flag default.
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestAutosave_Options(t *testing.T) {
	path := writeConfig(t, "autosave:\n  debounce: 250ms\n  max-attempts: 5\n")
	cfg, err := Load(path, newFlags(t))
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	opts := cfg.Autosave.Options(logger)
	assert.Equal(t, 250*time.Millisecond, opts.Debounce)
	assert.Equal(t, uint64(5), opts.MaxAttempts)
	assert.Same(t, logger, opts.Logger)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "undo: [unterminated")
	_, err := Load(path, nil)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "empty project", mutate: func(c *Config) { c.Project = "" }, wantErr: "project is required"},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: "log-format"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "invalid log level"},
		{name: "negative undo depth", mutate: func(c *Config) { c.Undo.MaxDepth = -1 }, wantErr: "undo.max-depth"},
		{name: "zero debounce", mutate: func(c *Config) { c.Autosave.Debounce = 0 }, wantErr: "autosave.debounce"},
		{name: "zero attempts", mutate: func(c *Config) { c.Autosave.MaxAttempts = 0 }, wantErr: "autosave.max-attempts"},
		{
			name: "autosave settings ignored when disabled",
			mutate: func(c *Config) {
				c.Autosave.Enabled = false
				c.Autosave.Debounce = 0
			},
		},
		{name: "metrics address", mutate: func(c *Config) { c.Metrics.Addr = "127.0.0.1:9100" }},
		{name: "bad metrics address", mutate: func(c *Config) { c.Metrics.Addr = "9100" }, wantErr: "metrics.addr"},
		{name: "negative parallelism", mutate: func(c *Config) { c.Save.Parallelism = -4 }, wantErr: "save.parallelism"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
