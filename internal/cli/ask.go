// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-desk/internal/model"
)

type askOptions struct {
	model  string
	stream bool
	raw    bool
	system string
}

func newAskCommand(global *globalOptions) *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send one prompt and print the answer",
		Long: `Send one prompt and print the answer. Without arguments the prompt is read
from stdin.`,
		Example: `  rigdesk ask "What is a goroutine?"
  rigdesk ask --model ollama:llama2 "Summarize RFC 2119"
  git diff | rigdesk ask --no-stream "Review this change"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runAsk(ctx, cmd, global, opts, prompt)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.model, "model", "m", "", "model selector (prefix with ollama: for local models)")
	f.BoolVar(&opts.stream, "stream", true, "print the answer as it arrives")
	f.BoolVar(&opts.raw, "raw", false, "print the answer without markdown rendering")
	f.StringVar(&opts.system, "system", "", "system prompt (default from config)")
	cmd.Flags().BoolP("no-stream", "n", false, "wait for the whole answer")
	return cmd
}

func runAsk(ctx context.Context, cmd *cobra.Command, global *globalOptions, opts *askOptions, prompt string) error {
	if noStream, _ := cmd.Flags().GetBool("no-stream"); noStream {
		opts.stream = false
	}

	app, err := openApp(ctx, global, needs{vault: true})
	if err != nil {
		return err
	}
	defer app.Close()

	if opts.model != "" {
		app.Router.SelectModel(opts.model)
	}

	system := opts.system
	if system == "" {
		system = app.Config.Chat.SystemPrompt
	}
	var messages []model.Message
	if system != "" {
		messages = append(messages, model.NewSystemMessage(system))
	}
	messages = append(messages, model.NewUserMessage(prompt))

	out := cmd.OutOrStdout()
	if opts.stream {
		reply, err := app.stream(ctx, out, messages)
		if reply != "" && !strings.HasSuffix(reply, "\n") {
			fmt.Fprintln(out)
		}
		return err
	}

	reply, err := app.send(ctx, messages)
	if err != nil {
		return err
	}
	if opts.raw || !isTerminalWriter(out) {
		_, err = fmt.Fprintln(out, reply)
		return err
	}
	_, err = fmt.Fprint(out, renderMarkdown(reply))
	return err
}

// readPrompt joins args, or reads stdin when there are none.
func readPrompt(in io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if f, ok := in.(*os.File); ok && f == os.Stdin && IsTTY() {
		return "", usageErrorf("no prompt given; pass it as an argument or on stdin")
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", usageErrorf("empty prompt")
	}
	return prompt, nil
}

// =============================================================================
// MARKDOWN
// =============================================================================

// renderMarkdown renders text with glamour, falling back to the raw text.
func renderMarkdown(text string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return text + "\n"
	}
	out, err := r.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}
