// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check every entity file against the entity and component schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.openStore()
			if err != nil {
				return err
			}
			defer s.close()

			keys, err := s.registry.EntityFiles()
			if err != nil {
				return err
			}

			var rows [][]string
			for _, key := range keys {
				if _, err := s.registry.LoadEntityFile(s.svc.GetEntityDataPath(key)); err != nil {
					rows = append(rows, []string{string(key), err.Error()})
				}
			}

			if len(rows) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d entity files valid\n", len(keys))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Resource", "Error"}, rows, nil))
			return oops.Code("VALIDATION_FAILED").
				With("invalid", len(rows)).
				Errorf("%d of %d entity files are invalid", len(rows), len(keys))
		},
	}
}

func newCleanupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete entity files whose resource no longer exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.openStore()
			if err != nil {
				return err
			}
			defer s.close()

			before, err := s.registry.EntityFiles()
			if err != nil {
				return err
			}
			if err := s.registry.CleanupEntities(); err != nil {
				return err
			}
			after, err := s.registry.EntityFiles()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "removed %d orphaned entity files\n", len(before)-len(after))
			return nil
		},
	}
}
