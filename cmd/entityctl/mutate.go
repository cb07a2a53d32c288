// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/entitystore/internal/entity"
	"github.com/holomush/entitystore/internal/resource"
)

func newAddCmd(opts *rootOptions) *cobra.Command {
	var index int

	cmd := &cobra.Command{
		Use:   "add <resource> <component-type>",
		Short: "Add a component to a resource and save",
		Long: `Adds a new component initialised from the type's prototype. The component
is appended unless --index is given.`,
		Args: cobra.ExactArgs(2),
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

			at := index
			if at < 0 {
				if at, err = s.svc.GetComponentCount(res); err != nil {
					return err
				}
			}
			key := entity.ComponentKey{Resource: res, Index: at}
			if err := s.svc.AddComponent(key, args[1]); err != nil {
				return err
			}
			if err := s.svc.SaveEntities(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "added %s to %s\n", args[1], key)
			return nil
		},
	}

	cmd.Flags().IntVar(&index, "index", -1, "insert position (default: append)")
	return cmd
}

func newSetCmd(opts *rootOptions) *cobra.Command {
	var insert bool

	cmd := &cobra.Command{
		Use:   "set <resource> <index> <path> <json-value>",
		Short: "Set a component property and save",
		Example: `  entityctl set scenes/intro.md 0 /status '"Final"'
  entityctl set notes.md 1 /labels/0 '"todo"' --insert`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			res := resource.Key(args[0])
			if err := res.Validate(); err != nil {
				return err
			}
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return oops.Code("ARGUMENT_INVALID").With("index", args[1]).Wrapf(err, "component index must be an integer")
			}
			var value any
			if err := json.Unmarshal([]byte(args[3]), &value); err != nil {
				return oops.Code("ARGUMENT_INVALID").With("value", args[3]).Wrapf(err, "value must be JSON")
			}

			s, err := opts.openStore()
			if err != nil {
				return err
			}
			defer s.close()

			key := entity.ComponentKey{Resource: res, Index: index}
			if err := s.svc.SetProperty(key, args[2], value, insert); err != nil {
				return err
			}
			if err := s.svc.SaveEntities(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "set %s%s\n", key, args[2])
			return nil
		},
	}

	cmd.Flags().BoolVar(&insert, "insert", false, "insert into an array instead of replacing")
	return cmd
}
