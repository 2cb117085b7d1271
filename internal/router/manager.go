// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-desk/internal/backend"
	"github.com/jeranaias/rigrun-desk/internal/model"
	"github.com/jeranaias/rigrun-desk/internal/ollama"
	"github.com/jeranaias/rigrun-desk/internal/openai"
)

// DefaultRefreshTimeout bounds one asynchronous Ollama catalog refresh.
const DefaultRefreshTimeout = 15 * time.Second

// ErrOllamaDisabled is the cause of the requestFailed error returned when an
// Ollama selector is used while the Ollama backend is off.
var ErrOllamaDisabled = errors.New("ollama backend is disabled")

// Backend is the surface the router dispatches to. Both *openai.Client and
// *ollama.Client implement it.
type Backend interface {
	Send(ctx context.Context, messages []model.Message, params model.GenerationParameters, modelName string) (string, error)
	Stream(ctx context.Context, messages []model.Message, params model.GenerationParameters, modelName string) (*backend.Stream, error)
	TestConnection(ctx context.Context) error
}

// ============================================================================
// CONFIGURATION
// ============================================================================

// Configuration is the OpenAI-side settings pushed by the profile layer.
type Configuration struct {
	Endpoint   string
	APIKey     string
	ModelName  string
	Parameters model.GenerationParameters
}

// Snapshot is the complete configuration one call is made with.
type Snapshot struct {
	OpenAI         openai.Target
	OllamaEndpoint string
	OllamaEnabled  bool
	Selector       string
	Parameters     model.GenerationParameters
}

// Options configures New.
type Options struct {
	// Configuration is the initial OpenAI-side configuration.
	Configuration Configuration

	// OllamaEndpoint (default: ollama.DefaultEndpoint).
	OllamaEndpoint string
	OllamaEnabled  bool

	// Models seeds the non-Ollama part of the catalog.
	Models []string

	// DefaultModel is the fallback selection when an Ollama selection is
	// dropped. Defaults to the first catalog entry.
	DefaultModel string

	RefreshTimeout time.Duration
	Transport      *backend.Transport
	Logger         *zap.Logger
}

// state is the immutable value behind the atomic pointer.
type state struct {
	snap   Snapshot
	openai *openai.Client
	ollama *ollama.Client // nil while disabled

	// ollamaGen changes whenever the Ollama client is replaced, so a refresh
	// that started against an old client can be discarded.
	ollamaGen uint64
}

// ============================================================================
// CONFIGURATION MANAGER
// ============================================================================

// ConfigurationManager owns the backend clients and routes calls to them.
type ConfigurationManager struct {
	current atomic.Pointer[state]

	// writeMu serializes writers, including catalog updates from refreshes.
	writeMu sync.Mutex

	catalog        *catalog
	subs           subscribers
	defaultModel   string
	refreshTimeout time.Duration
	transport      *backend.Transport
	logger         *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a manager. If Ollama starts enabled a catalog refresh is
// started immediately.
func New(opts Options) *ConfigurationManager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Transport == nil {
		opts.Transport = backend.NewTransport(backend.TransportConfig{Logger: opts.Logger})
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = DefaultRefreshTimeout
	}
	if opts.OllamaEndpoint == "" {
		opts.OllamaEndpoint = ollama.DefaultEndpoint
	}

	cfg := opts.Configuration
	if cfg.Endpoint == "" {
		cfg.Endpoint = openai.DefaultEndpoint
	}
	if cfg.Parameters == (model.GenerationParameters{}) {
		cfg.Parameters = model.DefaultParameters()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &ConfigurationManager{
		catalog:        newCatalog(opts.Models),
		defaultModel:   opts.DefaultModel,
		refreshTimeout: opts.RefreshTimeout,
		transport:      opts.Transport,
		logger:         opts.Logger.Named("router"),
		ctx:            ctx,
		cancel:         cancel,
	}
	m.subs.logger = m.logger

	if cfg.ModelName == "" {
		cfg.ModelName = m.fallbackSelector()
	}

	m.current.Store(m.newState(Snapshot{
		OpenAI:         openai.Target{Endpoint: cfg.Endpoint, APIKey: cfg.APIKey},
		OllamaEndpoint: opts.OllamaEndpoint,
		OllamaEnabled:  opts.OllamaEnabled,
		Selector:       cfg.ModelName,
		Parameters:     cfg.Parameters,
	}, 1))

	if opts.OllamaEnabled {
		m.refreshAsync()
	}
	return m
}

// Close stops pending catalog refreshes and waits for them.
func (m *ConfigurationManager) Close() error {
	m.cancel()
	m.wg.Wait()
	return nil
}

// WaitRefresh blocks until in-flight catalog refreshes have finished.
func (m *ConfigurationManager) WaitRefresh() {
	m.wg.Wait()
}

// Snapshot returns the current configuration.
func (m *ConfigurationManager) Snapshot() Snapshot {
	return m.current.Load().snap
}

// AvailableModels returns the selectable models, remote entries first.
func (m *ConfigurationManager) AvailableModels() []string {
	return m.catalog.list()
}

// Subscribe registers fn for change events and returns a function that
// removes it. fn runs synchronously on the goroutine that made the change.
func (m *ConfigurationManager) Subscribe(fn func(Event)) (unsubscribe func()) {
	return m.subs.add(fn)
}

// ============================================================================
// TRANSITIONS
// ============================================================================

// UpdateConfiguration replaces endpoint, key, selector and parameters. It
// takes effect for every call started afterwards.
func (m *ConfigurationManager) UpdateConfiguration(cfg Configuration) {
	m.writeMu.Lock()
	cur := m.current.Load()
	snap := cur.snap
	snap.OpenAI = openai.Target{Endpoint: cfg.Endpoint, APIKey: cfg.APIKey}
	snap.Selector = cfg.ModelName
	snap.Parameters = cfg.Parameters
	m.current.Store(m.newState(snap, cur.ollamaGen))
	m.writeMu.Unlock()

	m.logger.Info("configuration updated",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("model", cfg.ModelName),
		zap.String("key", backend.KeyFingerprint(cfg.APIKey)))
	m.subs.emit(Event{Type: EventConfigurationChanged, Snapshot: snap})
}

// SelectModel changes only the selector.
func (m *ConfigurationManager) SelectModel(selector string) {
	m.writeMu.Lock()
	cur := m.current.Load()
	snap := cur.snap
	snap.Selector = selector
	m.current.Store(m.newState(snap, cur.ollamaGen))
	m.writeMu.Unlock()

	m.subs.emit(Event{Type: EventSelectionChanged, Snapshot: snap})
}

// SetOllamaEnabled attaches or detaches the Ollama backend. Enabling starts
// an asynchronous catalog refresh. Disabling strips the Ollama catalog
// entries and moves an Ollama selection to a non-Ollama default.
func (m *ConfigurationManager) SetOllamaEnabled(enabled bool) {
	m.writeMu.Lock()
	cur := m.current.Load()
	if cur.snap.OllamaEnabled == enabled {
		m.writeMu.Unlock()
		return
	}

	snap := cur.snap
	snap.OllamaEnabled = enabled
	fellBack := false
	if !enabled {
		m.catalog.clearLocal()
		if IsOllama(snap.Selector) {
			snap.Selector = m.fallbackSelector()
			fellBack = true
		}
	}
	m.current.Store(m.newState(snap, cur.ollamaGen+1))
	m.writeMu.Unlock()

	m.logger.Info("ollama toggled", zap.Bool("enabled", enabled), zap.String("endpoint", snap.OllamaEndpoint))
	m.subs.emit(Event{Type: EventOllamaToggled, Snapshot: snap})

	if enabled {
		m.refreshAsync()
		return
	}
	m.subs.emit(Event{Type: EventModelsChanged, Snapshot: snap, Models: m.catalog.list()})
	if fellBack {
		m.subs.emit(Event{Type: EventSelectionChanged, Snapshot: snap})
	}
}

// UpdateOllamaEndpoint points the Ollama backend at a new server and, when
// Ollama is enabled, refreshes the catalog from it. Models listed by the
// previous server are dropped at once.
func (m *ConfigurationManager) UpdateOllamaEndpoint(endpoint string) {
	m.writeMu.Lock()
	cur := m.current.Load()
	snap := cur.snap
	changed := snap.OllamaEndpoint != endpoint
	snap.OllamaEndpoint = endpoint
	if changed {
		m.catalog.clearLocal()
	}
	m.current.Store(m.newState(snap, cur.ollamaGen+1))
	m.writeMu.Unlock()

	m.subs.emit(Event{Type: EventConfigurationChanged, Snapshot: snap})
	if changed {
		m.subs.emit(Event{Type: EventModelsChanged, Snapshot: snap, Models: m.catalog.list()})
	}
	if snap.OllamaEnabled {
		m.refreshAsync()
	}
}

// SetRemoteModels replaces the non-Ollama catalog entries.
func (m *ConfigurationManager) SetRemoteModels(models []string) {
	m.writeMu.Lock()
	m.catalog.setRemote(models)
	snap := m.current.Load().snap
	m.writeMu.Unlock()

	m.subs.emit(Event{Type: EventModelsChanged, Snapshot: snap, Models: m.catalog.list()})
}

// RefreshOllamaModels lists the Ollama models and merges them into the
// catalog as "ollama:{name}" entries. Non-Ollama entries are untouched. A
// result from a client that was replaced meanwhile is discarded.
func (m *ConfigurationManager) RefreshOllamaModels(ctx context.Context) error {
	st := m.current.Load()
	if st.ollama == nil {
		return backend.RequestFailed(ErrOllamaDisabled)
	}

	names, err := st.ollama.ListModels(ctx)
	if err != nil {
		m.logger.Warn("ollama model refresh failed", zap.String("endpoint", st.snap.OllamaEndpoint), zap.Error(err))
		m.subs.emit(Event{Type: EventRefreshFailed, Snapshot: st.snap, Err: err})
		return err
	}

	m.writeMu.Lock()
	cur := m.current.Load()
	if cur.ollamaGen != st.ollamaGen || cur.ollama == nil {
		m.writeMu.Unlock()
		m.logger.Debug("discarding stale ollama model list")
		return nil
	}
	m.catalog.setLocal(names)
	snap := cur.snap
	m.writeMu.Unlock()

	m.logger.Info("ollama models refreshed", zap.Int("count", len(names)))
	m.subs.emit(Event{Type: EventModelsChanged, Snapshot: snap, Models: m.catalog.list()})
	return nil
}

// ============================================================================
// DISPATCH
// ============================================================================

// Send routes a blocking request by the current selector.
func (m *ConfigurationManager) Send(ctx context.Context, messages []model.Message) (string, error) {
	st := m.current.Load()
	route := Resolve(st.snap.Selector)
	b, err := st.backendFor(route)
	if err != nil {
		return "", err
	}
	return b.Send(ctx, messages, st.snap.Parameters, route.Model)
}

// Stream routes a streaming request by the current selector.
func (m *ConfigurationManager) Stream(ctx context.Context, messages []model.Message) (*backend.Stream, error) {
	st := m.current.Load()
	route := Resolve(st.snap.Selector)
	b, err := st.backendFor(route)
	if err != nil {
		return nil, err
	}
	return b.Stream(ctx, messages, st.snap.Parameters, route.Model)
}

// TestConnection probes the backend the current selector routes to.
func (m *ConfigurationManager) TestConnection(ctx context.Context) error {
	st := m.current.Load()
	b, err := st.backendFor(Resolve(st.snap.Selector))
	if err != nil {
		return err
	}
	return b.TestConnection(ctx)
}

// Route returns the route of the current selector.
func (m *ConfigurationManager) Route() Route {
	return Resolve(m.current.Load().snap.Selector)
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *state) backendFor(route Route) (Backend, error) {
	switch route.Backend {
	case BackendOllama:
		if s.ollama == nil {
			return nil, backend.RequestFailed(ErrOllamaDisabled)
		}
		return s.ollama, nil
	default:
		return s.openai, nil
	}
}

// newState builds fresh clients for snap. Clients are cheap; they share the
// transport and its connection pool.
func (m *ConfigurationManager) newState(snap Snapshot, gen uint64) *state {
	route := Resolve(snap.Selector)

	st := &state{snap: snap, ollamaGen: gen}

	openaiModel := ""
	if route.Backend == BackendOpenAI {
		openaiModel = route.Model
	}
	st.openai = openai.New(openai.Config{
		Endpoint:  snap.OpenAI.Endpoint,
		APIKey:    snap.OpenAI.APIKey,
		Model:     openaiModel,
		Transport: m.transport,
		Logger:    m.logger,
	})
	// Endpoints are used verbatim; the constructors' defaults apply only in New.
	st.openai.UpdateConfiguration(snap.OpenAI.Endpoint, snap.OpenAI.APIKey)

	if snap.OllamaEnabled {
		st.ollama = ollama.New(ollama.Config{
			Endpoint:  snap.OllamaEndpoint,
			Transport: m.transport,
			Logger:    m.logger,
		})
		st.ollama.UpdateEndpoint(snap.OllamaEndpoint)
		if route.Backend == BackendOllama {
			st.ollama.UpdateModelName(route.Model)
		}
	}
	return st
}

// fallbackSelector picks the non-Ollama selection used when an Ollama
// selection is dropped.
func (m *ConfigurationManager) fallbackSelector() string {
	if m.defaultModel != "" && !IsOllama(m.defaultModel) {
		return m.defaultModel
	}
	if first, ok := m.catalog.firstRemote(); ok {
		return first
	}
	return openai.DefaultModel
}

func (m *ConfigurationManager) refreshAsync() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(m.ctx, m.refreshTimeout)
		defer cancel()
		// Failures are logged and emitted as events by RefreshOllamaModels.
		_ = m.RefreshOllamaModels(ctx)
	}()
}
