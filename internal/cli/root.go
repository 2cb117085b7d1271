// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "rigdesk",
		Short: "Chat with OpenAI-compatible endpoints and a local Ollama server",
		Long: `rigdesk sends prompts to an OpenAI-compatible chat completions endpoint or
to a local Ollama server. Models whose name starts with "ollama:" go to Ollama,
everything else to the endpoint of the selected profile.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Message: err.Error()}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default ~/.rigdesk/config.toml)")
	pf.StringVarP(&opts.profile, "profile", "p", "", "profile to use instead of the default")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		newAskCommand(opts),
		newChatCommand(opts),
		newProfilesCommand(opts),
		newModelsCommand(opts),
		newPingCommand(opts),
		newConfigCommand(opts),
		newConversationsCommand(opts),
		newUsageCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	root := NewRootCommand()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	verbose, _ := root.PersistentFlags().GetBool("verbose")
	fmt.Fprintln(os.Stderr, FormatError(err, verbose))
	return ExitCode(err)
}

// exactArgs is cobra.ExactArgs returning a UsageError.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageErrorf("%s expects %d argument(s), got %d", cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}
