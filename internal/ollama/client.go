// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-desk/internal/backend"
	"github.com/jeranaias/rigrun-desk/internal/model"
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// DefaultEndpoint uses an explicit IPv4 address instead of localhost to avoid
// IPv6 resolution issues on Windows.
const DefaultEndpoint = "http://127.0.0.1:11434"

// DefaultModel is used for connection probes when none is set.
const DefaultModel = "llama2"

const probeMaxTokens = 5

// Config holds configuration options for the Ollama client.
type Config struct {
	// Endpoint is the Ollama base URL (default: DefaultEndpoint).
	Endpoint string

	// Model is used by TestConnection (default: DefaultModel).
	Model string

	// Transport is shared with other clients. A default one is created if nil.
	Transport *backend.Transport

	Logger *zap.Logger
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API.
//
// The Client is thread-safe for concurrent use. Each call reads the target
// once when it starts.
type Client struct {
	target    atomic.Pointer[Target]
	modelName atomic.Pointer[string]
	transport *backend.Transport
	logger    *zap.Logger
}

// New creates a new Ollama client.
func New(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Transport == nil {
		cfg.Transport = backend.NewTransport(backend.TransportConfig{Logger: cfg.Logger})
	}

	c := &Client{
		transport: cfg.Transport,
		logger:    cfg.Logger.Named("ollama"),
	}
	c.target.Store(&Target{Endpoint: cfg.Endpoint})
	c.modelName.Store(&cfg.Model)
	return c
}

// Target returns the current target.
func (c *Client) Target() Target {
	return *c.target.Load()
}

// Model returns the model used for connection probes.
func (c *Client) Model() string {
	return *c.modelName.Load()
}

// =============================================================================
// GENERATE OPERATIONS
// =============================================================================

// Send generates a complete answer for the flattened history.
func (c *Client) Send(ctx context.Context, messages []model.Message, params model.GenerationParameters, modelName string) (string, error) {
	req := BuildGenerateRequest(c.Target(), messages, params, modelName, false)

	body, err := c.transport.Do(ctx, req, "ollama.generate")
	if err != nil {
		return "", err
	}
	return DecodeGenerate(body)
}

// Stream generates an answer incrementally. The caller must drain or Close
// the returned stream.
func (c *Client) Stream(ctx context.Context, messages []model.Message, params model.GenerationParameters, modelName string) (*backend.Stream, error) {
	req := BuildGenerateRequest(c.Target(), messages, params, modelName, true)
	return c.transport.Open(ctx, req, "ollama.generate_stream", DecodeStreamLine)
}

// TestConnection sends a short probe through Send and discards the answer.
func (c *Client) TestConnection(ctx context.Context) error {
	probe := []model.Message{model.NewUserMessage("Hello")}
	params := model.DefaultParameters()
	params.MaxTokens = probeMaxTokens

	_, err := c.Send(ctx, probe, params, c.Model())
	if err != nil {
		c.logger.Info("connection test failed", zap.String("endpoint", c.Target().Endpoint), zap.Error(err))
	}
	return err
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels returns the names of the locally available models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	infos, err := c.ListModelDetails(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names, nil
}

// ListModelDetails returns the full /api/tags entries.
func (c *Client) ListModelDetails(ctx context.Context) ([]ModelInfo, error) {
	body, err := c.transport.Do(ctx, BuildTagsRequest(c.Target()), "ollama.tags")
	if err != nil {
		return nil, err
	}
	return DecodeTags(body)
}

// =============================================================================
// RECONFIGURATION
// =============================================================================

// UpdateEndpoint points subsequent calls at a new server.
func (c *Client) UpdateEndpoint(endpoint string) {
	c.target.Store(&Target{Endpoint: endpoint})
}

// UpdateModelName sets the model used for connection probes.
func (c *Client) UpdateModelName(name string) {
	c.modelName.Store(&name)
}
