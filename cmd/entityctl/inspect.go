// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/holomush/entitystore/internal/resource"
)

func newInspectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <resource>",
		Short: "Show the components attached to a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res := resource.Key(args[0])
			if err := res.Validate(); err != nil {
				return err
			}

			s, err := opts.openStore()
			if err != nil {
				return err
			}
			defer s.close()

			proxies, err := s.svc.GetComponents(res)
			if err != nil {
				return err
			}
			annotations, err := s.svc.AnnotateEntity(res)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(proxies))
			for i, p := range proxies {
				a, err := annotations.ComponentAnnotation(i)
				if err != nil {
					return err
				}
				problems := make([]string, 0, len(a.Errors))
				for _, e := range a.Errors {
					problems = append(problems, fmt.Sprintf("%s: %s", e.Severity, e.Message))
				}
				resolved := "yes"
				if !p.Resolved() {
					resolved = "no"
				}
				rows = append(rows, []string{
					strconv.Itoa(i),
					p.ComponentType(),
					resolved,
					strings.Join(problems, "; "),
				})
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", res, s.svc.GetEntityDataRelativePath(res))
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Index", "Type", "Resolved", "Problems"},
				rows,
				[]columnAlignment{alignRight},
			))
			return nil
		},
	}
}
