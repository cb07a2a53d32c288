// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/holomush/entitystore/internal/observability"
	"github.com/holomush/entitystore/internal/resource"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep entity data in sync with the project folder",
		Long: `Watches the project for file changes and drops entity data for removed
resources. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return opts.watch(ctx)
		},
	}
}

func (o *rootOptions) watch(ctx context.Context) error {
	s, err := o.openStore()
	if err != nil {
		return err
	}
	defer s.close()

	var ready atomic.Bool
	g, ctx := errgroup.WithContext(ctx)
	if o.cfg.Metrics.Addr != "" {
		server := observability.NewServer(o.cfg.Metrics.Addr, nil, ready.Load, o.logger)
		g.Go(func() error {
			return server.Run(ctx)
		})
	}
	g.Go(func() error {
		return resource.NewWatcher(s.resources).Run(ctx)
	})

	ready.Store(true)
	o.logger.Info("watching project", "root", s.resources.Root())
	if err := g.Wait(); err != nil {
		return err
	}
	return s.svc.SaveEntities(context.WithoutCancel(ctx))
}
