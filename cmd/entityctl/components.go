// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/entitystore/internal/entity"
)

func newComponentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "components",
		Short: "List registered component types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configs, err := newConfigRegistry()
			if err != nil {
				return err
			}
			var rows [][]string
			for _, c := range configs.Configs() {
				rows = append(rows, []string{
					c.Type,
					strconv.Itoa(c.Version),
					strings.Join(c.ComponentSchema.TagList(), ", "),
					strings.Join(c.ComponentSchema.PropertyNames(), ", "),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Type", "Version", "Tags", "Properties"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}
}

func newSchemaCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "schema [component-type]",
		Short: "Print the entity document schema or a component's schema",
		Long: `Without arguments, prints the JSON Schema every entity file must satisfy.
With a component type, prints that component's source schema.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				out []byte
				err error
			)
			if len(args) == 0 {
				out, err = entity.GenerateSchema()
			} else {
				out, err = componentSource(args[0])
			}
			if err != nil {
				return err
			}

			if outPath == "" {
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
				return oops.Code("SCHEMA_WRITE_FAILED").With("path", outPath).Wrap(err)
			}
			if err := os.WriteFile(outPath, out, 0o600); err != nil {
				return oops.Code("SCHEMA_WRITE_FAILED").With("path", outPath).Wrap(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the schema to this file")
	return cmd
}

func componentSource(componentType string) ([]byte, error) {
	configs, err := newConfigRegistry()
	if err != nil {
		return nil, err
	}
	cfg, err := configs.GetComponentConfig(componentType)
	if err != nil {
		return nil, err
	}
	return cfg.Source(), nil
}
