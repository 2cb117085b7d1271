// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jeranaias/rigrun-desk/internal/model"
	"github.com/jeranaias/rigrun-desk/internal/profile"
)

func newProfilesCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "profiles",
		Aliases: []string{"profile"},
		Short:   "Manage endpoint profiles",
		Long: `A profile is a named endpoint, model and parameter set. Its API key is kept
in the encrypted vault; set RIGDESK_VAULT_PASSPHRASE to avoid the prompt.`,
	}
	cmd.AddCommand(
		newProfilesListCommand(global),
		newProfilesShowCommand(global),
		newProfilesAddCommand(global),
		newProfilesEditCommand(global),
		newProfilesDupCommand(global),
		newProfilesRemoveCommand(global),
		newProfilesDefaultCommand(global),
		newProfilesSetKeyCommand(global),
	)
	return cmd
}

// withProfiles opens the app without selecting a profile and runs fn.
func withProfiles(ctx context.Context, global *globalOptions, vault bool, fn func(*App) error) error {
	app, err := openApp(ctx, global, needs{vault: vault, noSelect: true})
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

// =============================================================================
// LIST / SHOW
// =============================================================================

func newProfilesListCommand(global *globalOptions) *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List profiles",
		Args:    exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withProfiles(ctx, global, false, func(app *App) error {
				var (
					ps  []profile.Profile
					err error
				)
				if search != "" {
					ps, err = app.Profiles.Search(ctx, search)
				} else {
					ps, err = app.Profiles.List(ctx)
				}
				if err != nil {
					return err
				}
				printProfiles(cmd.OutOrStdout(), ps)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "only profiles whose name, model or endpoint contains this text")
	return cmd
}

func printProfiles(w io.Writer, ps []profile.Profile) {
	if len(ps) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No profiles. Create one with: rigdesk profiles add NAME"))
		return
	}
	fmt.Fprintf(w, "  %s %s %s %s\n",
		column("ID", 8), column("NAME", 20), column("MODEL", 24), "ENDPOINT")
	for _, p := range ps {
		fmt.Fprintf(w, "%s %s %s %s %s\n",
			marker(p.IsDefault), column(p.ID, 8), column(p.Name, 20), column(p.ModelName, 24), p.APIEndpoint)
	}
}

func newProfilesShowCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show PROFILE",
		Short: "Show a profile",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withProfiles(ctx, global, false, func(app *App) error {
				p, err := app.Profiles.Find(ctx, args[0])
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintln(w, TitleStyle.Render(p.Name))
				fmt.Fprintln(w, FormatKeyValue("ID", p.ID))
				fmt.Fprintln(w, FormatKeyValue("Default", strconv.FormatBool(p.IsDefault)))
				fmt.Fprintln(w, FormatKeyValue("Model", p.ModelName))
				fmt.Fprintln(w, FormatKeyValue("Endpoint", p.APIEndpoint))
				fmt.Fprintln(w, FormatKeyValue("Temperature", strconv.FormatFloat(p.Parameters.Temperature, 'g', -1, 64)))
				fmt.Fprintln(w, FormatKeyValue("Max tokens", strconv.Itoa(p.Parameters.MaxTokens)))
				fmt.Fprintln(w, FormatKeyValue("Top P", strconv.FormatFloat(p.Parameters.TopP, 'g', -1, 64)))
				fmt.Fprintln(w, FormatKeyValue("Freq penalty", strconv.FormatFloat(p.Parameters.FrequencyPenalty, 'g', -1, 64)))
				fmt.Fprintln(w, FormatKeyValue("Pres penalty", strconv.FormatFloat(p.Parameters.PresencePenalty, 'g', -1, 64)))
				fmt.Fprintln(w, FormatKeyValue("Updated", p.UpdatedAt.Local().Format("2006-01-02 15:04")))
				return nil
			})
		},
	}
}

// =============================================================================
// ADD / EDIT
// =============================================================================

// profileFlags are the editable fields shared by add and edit.
type profileFlags struct {
	name      string
	endpoint  string
	model     string
	params    model.GenerationParameters
	isDefault bool
}

func (f *profileFlags) register(fs *pflag.FlagSet, withName bool) {
	d := model.DefaultParameters()
	if withName {
		fs.StringVar(&f.name, "name", "", "new name")
	}
	fs.StringVar(&f.endpoint, "endpoint", "", "chat completions URL (default OpenAI)")
	fs.StringVarP(&f.model, "model", "m", "", `model selector, e.g. "gpt-4o" or "ollama:llama2"`)
	fs.Float64Var(&f.params.Temperature, "temperature", d.Temperature, "sampling temperature (0-2)")
	fs.IntVar(&f.params.MaxTokens, "max-tokens", d.MaxTokens, "maximum tokens to generate")
	fs.Float64Var(&f.params.TopP, "top-p", d.TopP, "nucleus sampling (0-1)")
	fs.Float64Var(&f.params.FrequencyPenalty, "frequency-penalty", d.FrequencyPenalty, "frequency penalty (-2 to 2)")
	fs.Float64Var(&f.params.PresencePenalty, "presence-penalty", d.PresencePenalty, "presence penalty (-2 to 2)")
	fs.BoolVar(&f.isDefault, "default", false, "make this the default profile")
}

// apply copies the flags the user set onto p.
func (f *profileFlags) apply(fs *pflag.FlagSet, p *profile.Profile) {
	fs.Visit(func(fl *pflag.Flag) {
		switch fl.Name {
		case "name":
			p.Name = f.name
		case "endpoint":
			p.APIEndpoint = f.endpoint
		case "model":
			p.ModelName = f.model
		case "temperature":
			p.Parameters.Temperature = f.params.Temperature
		case "max-tokens":
			p.Parameters.MaxTokens = f.params.MaxTokens
		case "top-p":
			p.Parameters.TopP = f.params.TopP
		case "frequency-penalty":
			p.Parameters.FrequencyPenalty = f.params.FrequencyPenalty
		case "presence-penalty":
			p.Parameters.PresencePenalty = f.params.PresencePenalty
		case "default":
			p.IsDefault = f.isDefault
		}
	})
}

func newProfilesAddCommand(global *globalOptions) *cobra.Command {
	flags := &profileFlags{}
	var keyStdin, noKey bool
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Create a profile",
		Example: `  rigdesk profiles add work --model gpt-4o
  rigdesk profiles add local --model ollama:llama2 --no-key
  echo "$KEY" | rigdesk profiles add azure --endpoint https://example.openai.azure.com/v1/chat/completions --key-stdin`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			key, err := readAPIKey(cmd.InOrStdin(), keyStdin, noKey)
			if err != nil {
				return err
			}
			return withProfiles(ctx, global, key != "", func(app *App) error {
				p := profile.New(args[0], "", flags.model)
				flags.apply(cmd.Flags(), &p)
				created, err := app.Profiles.Create(ctx, p, key)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Created ")+created.Name+DimStyle.Render(" ("+created.ID+")"))
				return nil
			})
		},
	}
	flags.register(cmd.Flags(), false)
	cmd.Flags().BoolVar(&keyStdin, "key-stdin", false, "read the API key from stdin")
	cmd.Flags().BoolVar(&noKey, "no-key", false, "do not store an API key")
	return cmd
}

func newProfilesEditCommand(global *globalOptions) *cobra.Command {
	flags := &profileFlags{}
	cmd := &cobra.Command{
		Use:   "edit PROFILE",
		Short: "Change a profile",
		Example: `  rigdesk profiles edit work --model gpt-4o-mini --temperature 0.2
  rigdesk profiles edit work --name personal`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if cmd.Flags().NFlag() == 0 {
				return usageErrorf("nothing to change; see rigdesk profiles edit --help")
			}
			return withProfiles(ctx, global, false, func(app *App) error {
				p, err := app.Profiles.Find(ctx, args[0])
				if err != nil {
					return err
				}
				flags.apply(cmd.Flags(), &p)
				updated, err := app.Profiles.Update(ctx, p)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Updated ")+updated.Name)
				return nil
			})
		},
	}
	flags.register(cmd.Flags(), true)
	return cmd
}

// =============================================================================
// DUP / RM / DEFAULT / SET-KEY
// =============================================================================

func newProfilesDupCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "dup PROFILE",
		Aliases: []string{"duplicate"},
		Short:   "Copy a profile, including its API key",
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withProfiles(ctx, global, true, func(app *App) error {
				p, err := app.Profiles.Find(ctx, args[0])
				if err != nil {
					return err
				}
				dup, err := app.Profiles.Duplicate(ctx, p.ID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Created ")+dup.Name+DimStyle.Render(" ("+dup.ID+")"))
				return nil
			})
		},
	}
}

func newProfilesRemoveCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm PROFILE",
		Aliases: []string{"remove", "delete"},
		Short:   "Delete a profile and its API key",
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withProfiles(ctx, global, true, func(app *App) error {
				p, err := app.Profiles.Find(ctx, args[0])
				if err != nil {
					return err
				}
				if err := app.Profiles.Delete(ctx, p.ID); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Deleted ")+p.Name)
				return nil
			})
		},
	}
}

func newProfilesDefaultCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "default PROFILE",
		Aliases: []string{"use"},
		Short:   "Make a profile the default",
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withProfiles(ctx, global, false, func(app *App) error {
				p, err := app.Profiles.Find(ctx, args[0])
				if err != nil {
					return err
				}
				if err := app.Profiles.SetDefault(ctx, p.ID); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Default profile: ")+p.Name)
				return nil
			})
		},
	}
}

func newProfilesSetKeyCommand(global *globalOptions) *cobra.Command {
	var keyStdin, remove bool
	cmd := &cobra.Command{
		Use:   "set-key PROFILE",
		Short: "Store or remove the API key of a profile",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			key, err := readAPIKey(cmd.InOrStdin(), keyStdin, remove)
			if err != nil {
				return err
			}
			return withProfiles(ctx, global, true, func(app *App) error {
				p, err := app.Profiles.Find(ctx, args[0])
				if err != nil {
					return err
				}
				if err := app.Profiles.SetAPIKey(ctx, p.ID, key); err != nil {
					return err
				}
				if key == "" {
					fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Removed API key of ")+p.Name)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Stored API key of ")+p.Name)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&keyStdin, "stdin", false, "read the key from stdin")
	cmd.Flags().BoolVar(&remove, "clear", false, "remove the stored key")
	return cmd
}

// readAPIKey reads a key from stdin or a hidden prompt. skip returns "".
func readAPIKey(in io.Reader, fromStdin, skip bool) (string, error) {
	switch {
	case skip:
		return "", nil
	case fromStdin:
		data, err := io.ReadAll(io.LimitReader(in, 64*1024))
		if err != nil {
			return "", fmt.Errorf("read api key: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	case !IsTTY():
		return "", nil
	}
	key, err := readSecret("API key (empty for none)")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(key), nil
}
