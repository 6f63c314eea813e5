// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config file inspection and creation.

package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ckt1031/simple-chat/internal/config"
)

func configCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Aliases: []string{"cfg"},
		Short:   "Show or create the config file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with secrets redacted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := s.config()
				if err != nil {
					return err
				}
				if s.jsonOut {
					return NewJSONResponse("config show", cfg.Redacted()).Print(s.out)
				}
				fmt.Fprint(s.out, cfg.String())
				return nil
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file path",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := s.resolvedConfigPath()
				if err != nil {
					return err
				}
				_, statErr := os.Stat(path)
				exists := statErr == nil
				return s.emit("config path", map[string]any{"path": path, "exists": exists}, func() {
					fmt.Fprintln(s.out, path)
				})
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the config file and environment overrides",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := s.config(); err != nil {
					return err
				}
				return s.emit("config validate", map[string]string{"path": s.configPath}, func() {
					fmt.Fprintf(s.out, "%s %s is valid\n", SuccessStyle.Render("✓"), s.configPath)
				})
			},
		},
		configInitCmd(s),
	)
	return cmd
}

func configInitCmd(s *session) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := s.resolvedConfigPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return &UsageError{Reason: fmt.Sprintf("%s already exists; pass --force to overwrite", path)}
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.SaveTOML(config.Default(filepath.Dir(path)), path); err != nil {
				return err
			}
			return s.emit("config init", map[string]string{"path": path}, func() {
				fmt.Fprintf(s.out, "%s Wrote %s\n", SuccessStyle.Render("✓"), path)
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}
