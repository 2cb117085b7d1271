// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-desk/internal/router"
)

func newModelsCommand(global *globalOptions) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List selectable models",
		Long: `List the models that can be selected. Ollama models (prefixed "ollama:")
appear when the Ollama backend is enabled.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx, global, needs{})
			if err != nil {
				return err
			}
			defer app.Close()

			snap := app.Router.Snapshot()
			if refresh {
				if !snap.OllamaEnabled {
					return usageErrorf("the Ollama backend is disabled; nothing to refresh")
				}
				if err := app.Router.RefreshOllamaModels(ctx); err != nil {
					return err
				}
			} else {
				app.Router.WaitRefresh()
			}

			w := cmd.OutOrStdout()
			for _, m := range app.Router.AvailableModels() {
				backend := router.Resolve(m).Backend
				fmt.Fprintf(w, "%s %s %s\n", marker(m == snap.Selector), column(m, 40), DimStyle.Render(backend.String()))
			}
			if !snap.OllamaEnabled {
				fmt.Fprintln(w, DimStyle.Render("Ollama is disabled; enable it with: rigdesk config set ollama.enabled true"))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch the Ollama model list now and report failures")
	return cmd
}

func newPingCommand(global *globalOptions) *cobra.Command {
	var modelName string
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Test the connection to the active backend",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx, global, needs{vault: true})
			if err != nil {
				return err
			}
			defer app.Close()

			if modelName != "" {
				app.Router.SelectModel(modelName)
			}
			snap := app.Router.Snapshot()
			route := app.Router.Route()
			endpoint := snap.OpenAI.Endpoint
			if route.Backend == router.BackendOllama {
				endpoint = snap.OllamaEndpoint
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, FormatKeyValue("Backend", route.Backend.String()))
			fmt.Fprintln(w, FormatKeyValue("Model", snap.Selector))
			fmt.Fprintln(w, FormatKeyValue("Endpoint", endpoint))

			start := time.Now()
			if err := app.Router.TestConnection(ctx); err != nil {
				fmt.Fprintln(w, FormatKeyValue("Status", ErrorStyle.Render("FAILED")))
				return err
			}
			fmt.Fprintln(w, FormatKeyValue("Status", SuccessStyle.Render("OK")+DimStyle.Render(fmt.Sprintf(" (%s)", time.Since(start).Round(time.Millisecond)))))
			return nil
		},
	}
	cmd.Flags().StringVarP(&modelName, "model", "m", "", "model selector to test")
	return cmd
}
