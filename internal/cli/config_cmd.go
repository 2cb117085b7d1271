// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-desk/internal/config"
)

func newConfigCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit the configuration file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration, environment overrides included",
			Args:  exactArgs(0),
			RunE: func(cmd *cobra.Command, _ []string) error {
				path, err := configPath(global)
				if err != nil {
					return err
				}
				cfg, err := config.Load(path)
				if err != nil {
					return err
				}
				data, err := cfg.Encode()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the configuration file path",
			Args:  exactArgs(0),
			RunE: func(cmd *cobra.Command, _ []string) error {
				path, err := configPath(global)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			},
		},
		newConfigInitCommand(global),
		&cobra.Command{
			Use:   "get KEY",
			Short: "Print one setting, e.g. ollama.enabled",
			Args:  exactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := configPath(global)
				if err != nil {
					return err
				}
				cfg, err := config.Load(path)
				if err != nil {
					return err
				}
				v, err := cfg.Get(args[0])
				if err != nil {
					return usageErrorf("%v", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set KEY VALUE",
			Short: "Change one setting in the configuration file",
			Example: `  rigdesk config set ollama.enabled true
  rigdesk config set transport.request_timeout 90s
  rigdesk config set models gpt-4o,gpt-4o-mini`,
			Args: exactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := configPath(global)
				if err != nil {
					return err
				}
				cfg, err := readFileConfig(path)
				if err != nil {
					return err
				}
				if err := cfg.Set(args[0], args[1]); err != nil {
					return usageErrorf("%v", err)
				}
				if err := cfg.Validate(); err != nil {
					return err
				}
				if err := config.SaveTOML(cfg, path); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Set ")+args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "keys",
			Short: "List the settable keys",
			Args:  exactArgs(0),
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(config.Keys(), "\n"))
			},
		},
	)
	return cmd
}

func newConfigInitCommand(global *globalOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := configPath(global)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return usageErrorf("%s already exists; use --force to overwrite", path)
			}
			if err := config.SaveTOML(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Wrote ")+path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configPath(global *globalOptions) (string, error) {
	if global.configPath != "" {
		return global.configPath, nil
	}
	return config.ConfigPath()
}

// readFileConfig reads the file alone, without environment overrides, so
// that saving it back does not persist them.
func readFileConfig(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return config.Parse(data)
}
