// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-desk/internal/backend"
	"github.com/jeranaias/rigrun-desk/internal/config"
	"github.com/jeranaias/rigrun-desk/internal/logging"
	"github.com/jeranaias/rigrun-desk/internal/model"
	"github.com/jeranaias/rigrun-desk/internal/profile"
	"github.com/jeranaias/rigrun-desk/internal/router"
	"github.com/jeranaias/rigrun-desk/internal/storage"
	"github.com/jeranaias/rigrun-desk/internal/telemetry"
	"github.com/jeranaias/rigrun-desk/internal/util"
)

// vaultIterations is the PBKDF2 cost for new vaults. Tests lower it.
var vaultIterations = profile.DefaultIterations

// =============================================================================
// GLOBAL OPTIONS
// =============================================================================

// globalOptions are the persistent root flags.
type globalOptions struct {
	configPath string
	profile    string
	verbose    bool
}

// needs lists the optional parts a command uses.
type needs struct {
	// vault opens the encrypted key store. Without it keys read as empty
	// and are never written.
	vault bool
	// conversations opens the chat store.
	conversations bool
	// noSelect skips selecting the default profile, for commands that
	// manage profiles rather than use one.
	noSelect bool
}

// =============================================================================
// APP
// =============================================================================

// App wires the core components for one command invocation.
type App struct {
	Config        *config.Config
	ConfigPath    string
	Logger        *zap.Logger
	Router        *router.ConfigurationManager
	Profiles      *profile.Manager
	Conversations *storage.ConversationStore
	Usage         *telemetry.UsageTracker

	closers []func() error
}

// openApp loads configuration and builds the router, the profile layer and
// whatever else n asks for. The default (or --profile) profile is selected.
func openApp(ctx context.Context, opts *globalOptions, n needs) (_ *App, err error) {
	app := &App{ConfigPath: opts.configPath}
	defer func() {
		if err != nil {
			err = multierr.Append(err, app.Close())
		}
	}()

	if app.ConfigPath == "" {
		if app.ConfigPath, err = config.ConfigPath(); err != nil {
			return nil, err
		}
	}
	if app.Config, err = config.Load(app.ConfigPath); err != nil {
		return nil, err
	}
	cfg := app.Config

	if app.Logger, err = newLogger(cfg, opts.verbose); err != nil {
		return nil, err
	}
	app.onClose(func() error {
		// Sync fails on terminals; nothing useful to report.
		_ = app.Logger.Sync()
		return nil
	})

	shutdown, err := telemetry.SetupTracing(ctx, telemetry.TracingOptions{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
	})
	if err != nil {
		return nil, err
	}
	app.onClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})

	dataDir, err := cfg.DataDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, util.DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	app.Router = router.New(router.Options{
		Configuration: router.Configuration{
			Endpoint:  cfg.OpenAI.Endpoint,
			ModelName: cfg.DefaultModel,
		},
		OllamaEndpoint: cfg.Ollama.Endpoint,
		OllamaEnabled:  cfg.Ollama.Enabled,
		Models:         cfg.Models,
		DefaultModel:   cfg.DefaultModel,
		Transport:      newTransport(cfg, app.Logger),
		Logger:         app.Logger,
	})
	app.onClose(app.Router.Close)

	if err := app.openProfiles(ctx, opts, n); err != nil {
		return nil, err
	}

	if n.conversations {
		dir, err := cfg.ConversationsDir()
		if err != nil {
			return nil, err
		}
		app.Conversations, err = storage.NewConversationStore(storage.Options{
			Dir:              dir,
			MaxConversations: cfg.Storage.MaxConversations,
			Logger:           app.Logger,
		})
		if err != nil {
			return nil, err
		}
	}

	usagePath, err := cfg.UsagePath()
	if err != nil {
		return nil, err
	}
	if app.Usage, err = telemetry.OpenUsageTracker(usagePath); err != nil {
		// A damaged usage file must not block chatting.
		app.Logger.Warn("usage tracking disabled", zap.Error(err))
		app.Usage, _ = telemetry.OpenUsageTracker("")
	}
	app.onClose(app.Usage.Close)

	return app, nil
}

func (a *App) openProfiles(ctx context.Context, opts *globalOptions, n needs) error {
	path, err := a.Config.ProfilesPath()
	if err != nil {
		return err
	}
	store, err := profile.OpenSQLiteStore(path)
	if err != nil {
		return err
	}
	a.onClose(store.Close)

	var vault profile.Vault = profile.NewMemoryVault()
	if n.vault {
		if vault, err = a.openVault(); err != nil {
			return err
		}
	}

	a.Profiles, err = profile.NewManager(profile.Options{
		Store:  store,
		Vault:  vault,
		Router: a.Router,
		Logger: a.Logger,
	})
	if err != nil {
		return err
	}

	if n.noSelect {
		return nil
	}
	if opts.profile != "" {
		p, err := a.Profiles.Find(ctx, opts.profile)
		if err != nil {
			return err
		}
		_, err = a.Profiles.Select(ctx, p.ID)
		return err
	}
	if _, err := a.Profiles.Load(ctx); err != nil && !errors.Is(err, profile.ErrNoProfiles) {
		return err
	}
	return nil
}

// openVault opens the encrypted vault with the passphrase from the
// environment or a prompt. Without either, keys live in memory for this run.
func (a *App) openVault() (profile.Vault, error) {
	path, err := a.Config.VaultPath()
	if err != nil {
		return nil, err
	}

	passphrase := os.Getenv(config.EnvVaultPassphrase)
	if passphrase == "" {
		if !IsTTY() {
			a.Logger.Warn("no vault passphrase; API keys are not persisted",
				zap.String("env", config.EnvVaultPassphrase))
			return profile.NewMemoryVault(), nil
		}
		if passphrase, err = readSecret("Vault passphrase"); err != nil {
			return nil, err
		}
	}

	return profile.OpenFileVault(path, passphrase, profile.FileVaultOptions{Iterations: vaultIterations})
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases everything in reverse order of opening.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}

// =============================================================================
// CALLS
// =============================================================================

// stream sends messages through the router and copies fragments to w as
// they arrive. It returns the text received, which is partial on error.
func (a *App) stream(ctx context.Context, w io.Writer, messages []model.Message) (string, error) {
	start := time.Now()
	selector := a.Router.Snapshot().Selector

	s, err := a.Router.Stream(ctx, messages)
	if err != nil {
		a.record(selector, messages, "", start, err)
		return "", err
	}
	defer s.Close()

	var reply []byte
	for fragment, err := range s.All() {
		if err != nil {
			a.record(selector, messages, string(reply), start, err)
			return string(reply), err
		}
		reply = append(reply, fragment...)
		if _, err := io.WriteString(w, fragment); err != nil {
			return string(reply), err
		}
	}
	a.record(selector, messages, string(reply), start, nil)
	return string(reply), nil
}

// send is the blocking counterpart of stream.
func (a *App) send(ctx context.Context, messages []model.Message) (string, error) {
	start := time.Now()
	selector := a.Router.Snapshot().Selector
	reply, err := a.Router.Send(ctx, messages)
	a.record(selector, messages, reply, start, err)
	return reply, err
}

func (a *App) record(selector string, prompt []model.Message, reply string, start time.Time, err error) {
	if a.Usage == nil {
		return
	}
	a.Usage.Record(telemetry.Call{
		Model:            selector,
		PromptTokens:     model.EstimateHistoryTokens(prompt),
		CompletionTokens: model.EstimateTokens(reply),
		Duration:         time.Since(start),
		Failed:           err != nil,
	})
}

// =============================================================================
// CONSTRUCTION HELPERS
// =============================================================================

func newLogger(cfg *config.Config, verbose bool) (*zap.Logger, error) {
	if cfg.Log.File == "" && !cfg.Log.Development {
		return logging.Quiet(verbose), nil
	}
	opts := logging.Options{
		Level:       cfg.Log.Level,
		File:        cfg.Log.File,
		Development: cfg.Log.Development,
	}
	if verbose {
		opts.Level = "debug"
	}
	return logging.New(opts)
}

func newTransport(cfg *config.Config, logger *zap.Logger) *backend.Transport {
	resource := cfg.Transport.ResourceTimeout.Duration
	if resource == 0 {
		// Zero in the file means no stream deadline; the transport reads
		// zero as "default" and negative as "none".
		resource = -1
	}
	return backend.NewTransport(backend.TransportConfig{
		RequestTimeout:    cfg.Transport.RequestTimeout.Duration,
		ResourceTimeout:   resource,
		RequestsPerSecond: cfg.Transport.RequestsPerSecond,
		Burst:             cfg.Transport.Burst,
		Logger:            logger,
	})
}
