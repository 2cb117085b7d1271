// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-desk/internal/backend"
	"github.com/jeranaias/rigrun-desk/internal/config"
	"github.com/jeranaias/rigrun-desk/internal/model"
	"github.com/jeranaias/rigrun-desk/internal/router"
	"github.com/jeranaias/rigrun-desk/internal/storage"
	"github.com/jeranaias/rigrun-desk/internal/util"
)

type chatOptions struct {
	model  string
	resume string
	noSave bool
}

func newChatCommand(global *globalOptions) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session. Type /help for the available commands.
Ctrl+C cancels the answer being received, Ctrl+D exits.`,
		Example: `  rigdesk chat
  rigdesk chat --model ollama:mistral
  rigdesk chat --resume 1`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), global, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.model, "model", "m", "", "model selector")
	f.StringVarP(&opts.resume, "resume", "r", "", "resume a saved conversation (id or list index)")
	f.BoolVar(&opts.noSave, "no-save", false, "do not save the conversation")
	return cmd
}

// =============================================================================
// SESSION
// =============================================================================

// chatSession holds the state of one REPL.
type chatSession struct {
	app    *App
	out    io.Writer
	conv   *model.Conversation
	save   bool
	budget int

	// lastInput is resent by /retry.
	lastInput string
}

// lineReader is the part of liner the loop uses.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

func runChat(ctx context.Context, in io.Reader, out io.Writer, global *globalOptions, opts *chatOptions) error {
	app, err := openApp(ctx, global, needs{vault: true, conversations: true})
	if err != nil {
		return err
	}
	defer app.Close()

	if opts.model != "" {
		app.Router.SelectModel(opts.model)
	}

	s := &chatSession{
		app:    app,
		out:    out,
		save:   !opts.noSave,
		budget: app.Config.Chat.ContextTokens,
	}
	if opts.resume != "" {
		if s.conv, err = loadConversation(app.Conversations, opts.resume); err != nil {
			return err
		}
		if s.conv.Model != "" && opts.model == "" {
			app.Router.SelectModel(s.conv.Model)
		}
	} else {
		s.conv = model.NewConversation(app.Router.Snapshot().Selector)
		if app.Config.Chat.SystemPrompt != "" {
			s.conv.Append(model.NewSystemMessage(app.Config.Chat.SystemPrompt))
		}
	}

	unsubscribe := app.Router.Subscribe(func(ev router.Event) {
		switch ev.Type {
		case router.EventRefreshFailed:
			app.Logger.Warn("ollama model refresh failed", zap.Error(ev.Err))
		case router.EventSelectionChanged:
			app.Logger.Info("model selection changed", zap.String("model", ev.Snapshot.Selector))
		}
	})
	defer unsubscribe()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	s.watchConfig(watchCtx)

	if f, ok := in.(*os.File); ok && f == os.Stdin && IsTTY() {
		line := liner.NewLiner()
		line.SetCtrlCAborts(true)
		line.SetCompleter(s.complete)
		historyPath, _ := app.Config.HistoryPath()
		loadHistory(line, historyPath)
		defer func() {
			saveHistory(line, historyPath)
			line.Close()
		}()
		s.banner()
		return s.loop(ctx, line)
	}
	return s.loop(ctx, newPlainReader(in))
}

// loop reads input until /quit, EOF or cancellation.
func (s *chatSession) loop(ctx context.Context, r lineReader) error {
	defer s.persist()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		input, err := r.Prompt("> ")
		if errors.Is(err, liner.ErrPromptAborted) {
			fmt.Fprintln(s.out, DimStyle.Render("(Ctrl+D or /quit to exit)"))
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(s.out)
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := s.command(ctx, input); quit {
				return nil
			}
			continue
		}
		s.turn(ctx, input)
	}
}

// turn sends one user message and prints the streamed reply. Ctrl+C while
// the reply is arriving closes the stream and keeps what was received.
func (s *chatSession) turn(ctx context.Context, input string) {
	s.lastInput = input
	s.conv.AppendUser(input)

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		select {
		case <-interrupts:
			cancel()
		case <-turnCtx.Done():
		}
	}()

	reply, err := s.app.stream(turnCtx, s.out, s.history())
	if reply != "" {
		fmt.Fprintln(s.out)
	}

	switch {
	case err == nil:
		s.conv.AppendAssistant(reply)
	case turnCtx.Err() != nil && ctx.Err() == nil:
		fmt.Fprintln(s.out, WarningStyle.Render("[cancelled]"))
		if reply != "" {
			s.conv.AppendAssistant(reply)
		} else {
			s.conv.RemoveLast()
		}
	default:
		// Drop the unanswered message so the history stays alternating.
		s.conv.RemoveLast()
		fmt.Fprintln(s.out, FormatError(err, false))
		if backend.Retryable(err) {
			fmt.Fprintln(s.out, DimStyle.Render("Type /retry to send it again."))
		}
		return
	}
	if s.save {
		s.persist()
	}
}

// history returns the messages for the next call, trimmed to the budget.
func (s *chatSession) history() []model.Message {
	c := s.conv.Clone()
	if dropped := c.TrimToBudget(s.budget); dropped > 0 {
		s.app.Logger.Debug("trimmed history", zap.Int("dropped", dropped))
	}
	return c.History()
}

func (s *chatSession) persist() {
	if !s.save || s.app.Conversations == nil || !hasUserMessage(s.conv) {
		return
	}
	s.conv.Model = s.app.Router.Snapshot().Selector
	if err := s.app.Conversations.Save(s.conv); err != nil {
		fmt.Fprintln(s.out, FormatError(err, false))
	}
}

// watchConfig applies Ollama settings from the config file while chatting.
func (s *chatSession) watchConfig(ctx context.Context) {
	if _, err := os.Stat(s.app.ConfigPath); err != nil {
		return
	}
	logger := s.app.Logger
	go func() {
		err := config.Watch(ctx, s.app.ConfigPath, config.WatchOptions{Logger: logger}, func(cfg *config.Config, err error) {
			if err != nil {
				logger.Warn("config reload failed", zap.Error(err))
				return
			}
			s.app.Router.UpdateOllamaEndpoint(cfg.Ollama.Endpoint)
			s.app.Router.SetOllamaEnabled(cfg.Ollama.Enabled)
			s.app.Router.SetRemoteModels(cfg.Models)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("config watch stopped", zap.Error(err))
		}
	}()
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

var chatCommands = []string{
	"/help", "/model", "/models", "/ollama", "/clear", "/retry",
	"/save", "/export", "/history", "/quit",
}

// command runs a slash command and reports whether the session should end.
func (s *chatSession) command(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	name, args := fields[0], fields[1:]

	switch name {
	case "/quit", "/q", "/exit":
		return true

	case "/help", "/h":
		s.help()

	case "/model", "/m":
		if len(args) == 0 {
			route := s.app.Router.Route()
			fmt.Fprintf(s.out, "%s (%s)\n", s.app.Router.Snapshot().Selector, route.Backend)
			return false
		}
		s.app.Router.SelectModel(args[0])
		s.conv.Model = args[0]
		fmt.Fprintln(s.out, SuccessStyle.Render("Model: ")+args[0])

	case "/models":
		current := s.app.Router.Snapshot().Selector
		for _, m := range s.app.Router.AvailableModels() {
			fmt.Fprintf(s.out, "%s %s\n", marker(m == current), m)
		}

	case "/ollama":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			fmt.Fprintln(s.out, WarningStyle.Render("usage: /ollama on|off"))
			return false
		}
		s.app.Router.SetOllamaEnabled(args[0] == "on")
		if args[0] == "on" {
			if err := s.app.Router.RefreshOllamaModels(ctx); err != nil {
				fmt.Fprintln(s.out, FormatError(err, false))
			}
		}
		fmt.Fprintln(s.out, SuccessStyle.Render("Ollama "+args[0]))

	case "/clear", "/c":
		s.persist()
		s.conv = model.NewConversation(s.app.Router.Snapshot().Selector)
		if p := s.app.Config.Chat.SystemPrompt; p != "" {
			s.conv.Append(model.NewSystemMessage(p))
		}
		fmt.Fprintln(s.out, DimStyle.Render("Started a new conversation."))

	case "/retry":
		if s.lastInput == "" {
			fmt.Fprintln(s.out, WarningStyle.Render("Nothing to retry."))
			return false
		}
		if last, ok := s.conv.Last(); ok && last.Role == model.RoleAssistant {
			fmt.Fprintln(s.out, WarningStyle.Render("The last message was answered."))
			return false
		}
		s.turn(ctx, s.lastInput)

	case "/save":
		if s.app.Conversations == nil {
			return false
		}
		s.conv.Model = s.app.Router.Snapshot().Selector
		if err := s.app.Conversations.Save(s.conv); err != nil {
			fmt.Fprintln(s.out, FormatError(err, false))
			return false
		}
		s.save = true
		fmt.Fprintln(s.out, SuccessStyle.Render("Saved ")+s.conv.ID)

	case "/export":
		path := s.conv.ID + ".md"
		if len(args) > 0 {
			path = args[0]
		}
		if err := util.AtomicWriteFile(path, []byte(storage.ExportMarkdown(s.conv)), 0600); err != nil {
			fmt.Fprintln(s.out, FormatError(err, false))
			return false
		}
		fmt.Fprintln(s.out, SuccessStyle.Render("Exported ")+path)

	case "/history":
		for _, msg := range s.conv.History() {
			fmt.Fprintf(s.out, "%s %s\n", LabelStyle.Render(msg.Role.DisplayName()), msg.Preview(70))
		}
		fmt.Fprintln(s.out, DimStyle.Render(fmt.Sprintf("~%d tokens", s.conv.EstimateTokens())))

	default:
		fmt.Fprintln(s.out, WarningStyle.Render("Unknown command "+name+"; type /help"))
	}
	return false
}

func (s *chatSession) help() {
	rows := [][2]string{
		{"/model [NAME]", "show or switch the model"},
		{"/models", "list selectable models"},
		{"/ollama on|off", "toggle the Ollama backend"},
		{"/clear", "start a new conversation"},
		{"/retry", "resend the last unanswered message"},
		{"/save", "save the conversation"},
		{"/export [PATH]", "write the conversation as markdown"},
		{"/history", "show the conversation"},
		{"/quit", "exit"},
	}
	for _, r := range rows {
		fmt.Fprintf(s.out, "  %s %s\n", HighlightStyle.Render(util.PadWidth(r[0], 16)), r[1])
	}
}

func (s *chatSession) banner() {
	snap := s.app.Router.Snapshot()
	fmt.Fprintln(s.out, TitleStyle.Render("rigdesk chat"))
	fmt.Fprintln(s.out, FormatKeyValue("Model", snap.Selector))
	if id, ok := s.app.Profiles.Selected(); ok {
		if p, err := s.app.Profiles.Get(context.Background(), id); err == nil {
			fmt.Fprintln(s.out, FormatKeyValue("Profile", p.Name))
		}
	}
	fmt.Fprintln(s.out, DimStyle.Render("Type /help for commands, Ctrl+D to exit."))
	fmt.Fprintln(s.out)
}

func (s *chatSession) complete(line string) []string {
	if !strings.HasPrefix(line, "/") {
		return nil
	}
	if rest, ok := strings.CutPrefix(line, "/model "); ok {
		var out []string
		for _, m := range s.app.Router.AvailableModels() {
			if strings.HasPrefix(m, rest) {
				out = append(out, "/model "+m)
			}
		}
		return out
	}
	var out []string
	for _, c := range chatCommands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

// loadConversation resolves an id or a 1-based index into the saved list.
func loadConversation(store *storage.ConversationStore, ref string) (*model.Conversation, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		return store.LoadByIndex(n - 1)
	}
	return store.Load(ref)
}

func hasUserMessage(c *model.Conversation) bool {
	for _, m := range c.Messages {
		if m.Role == model.RoleUser {
			return true
		}
	}
	return false
}

func loadHistory(line *liner.State, path string) {
	if path == "" {
		return
	}
	if f, err := os.Open(path); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
}

func saveHistory(line *liner.State, path string) {
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = line.WriteHistory(f)
}

// plainReader reads lines without editing, for piped input.
type plainReader struct {
	scanner *bufio.Scanner
}

func newPlainReader(r io.Reader) *plainReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &plainReader{scanner: sc}
}

func (p *plainReader) Prompt(string) (string, error) {
	if p.scanner.Scan() {
		return p.scanner.Text(), nil
	}
	if err := p.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (p *plainReader) AppendHistory(string) {}
