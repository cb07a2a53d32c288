// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/entitystore/internal/component"
	"github.com/holomush/entitystore/internal/component/builtin"
	"github.com/holomush/entitystore/internal/config"
	"github.com/holomush/entitystore/internal/entities"
	"github.com/holomush/entitystore/internal/entity"
	"github.com/holomush/entitystore/internal/logging"
	"github.com/holomush/entitystore/internal/messaging"
	"github.com/holomush/entitystore/internal/resource"
	"github.com/holomush/entitystore/internal/xdg"
	"github.com/holomush/entitystore/pkg/errutil"
)

// rootOptions carries state resolved before any subcommand runs.
type rootOptions struct {
	configFile string
	cfg        *config.Config
	logger     *slog.Logger
}

// NewRootCmd creates the root command for the entityctl CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "entityctl",
		Short: "Inspect and edit entitystore projects",
		Long: `entityctl works on the entity data kept alongside a project's
resources: list component types, inspect and validate entities, apply edits
and keep the store in sync while files change.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.resolve(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file path (default "+xdg.ConfigFile()+")")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newComponentsCmd())
	cmd.AddCommand(newSchemaCmd())
	cmd.AddCommand(newInspectCmd(opts))
	cmd.AddCommand(newValidateCmd(opts))
	cmd.AddCommand(newCleanupCmd(opts))
	cmd.AddCommand(newAddCmd(opts))
	cmd.AddCommand(newSetCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))

	return cmd
}

func (o *rootOptions) resolve(cmd *cobra.Command) error {
	path := o.configFile
	if path == "" {
		path = xdg.ConfigFile()
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	o.cfg = cfg
	o.logger = logging.Setup("entityctl", version, cfg.LogFormat, level, cmd.ErrOrStderr())
	return nil
}

// store is an entity service wired over a project folder.
type store struct {
	resources *resource.FolderRegistry
	registry  *entity.Registry
	svc       *entities.Service
	logger    *slog.Logger
}

func (o *rootOptions) openStore() (*store, error) {
	root, err := filepath.Abs(o.cfg.Project)
	if err != nil {
		return nil, oops.Code("PROJECT_INVALID").With("project", o.cfg.Project).Wrap(err)
	}

	m := messaging.New()
	resources := resource.NewFolderRegistry(root,
		resource.WithExclude(entity.DefaultDataFolder),
		resource.WithSender(m),
	)
	if err := resources.Refresh(); err != nil {
		return nil, err
	}

	configs := component.NewConfigRegistry(builtin.Descriptors())
	registry := entity.NewRegistry(entity.RegistryConfig{
		ProjectDir:      root,
		Resources:       resources,
		Messenger:       m,
		Configs:         configs,
		UndoDepth:       o.cfg.Undo.MaxDepth,
		SaveParallelism: o.cfg.Save.Parallelism,
		Logger:          o.logger,
	})
	svc := entities.New(entities.Config{
		Configs:   configs,
		Registry:  registry,
		Messenger: m,
		Logger:    o.logger,
	})
	if err := svc.Initialize(); err != nil {
		return nil, err
	}

	o.logger.Debug("project opened", "root", root, "resources", len(resources.Keys()))
	return &store{
		resources: resources,
		registry:  registry,
		svc:       svc,
		logger:    o.logger,
	}, nil
}

func (s *store) close() {
	if err := s.svc.Close(); err != nil {
		errutil.LogError(s.logger, "failed to close project", err)
	}
}

func newConfigRegistry() (*component.ConfigRegistry, error) {
	configs := component.NewConfigRegistry(builtin.Descriptors())
	if err := configs.Initialize(); err != nil {
		return nil, err
	}
	return configs, nil
}
