// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openai

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-desk/internal/backend"
	"github.com/jeranaias/rigrun-desk/internal/model"
)

// Configuration defaults.
const (
	// DefaultEndpoint is the OpenAI chat completions URL.
	DefaultEndpoint = "https://api.openai.com/v1/chat/completions"

	// DefaultModel is used for connection probes when none is set.
	DefaultModel = "gpt-3.5-turbo"

	probeMaxTokens = 5
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// Config holds the options for New.
type Config struct {
	// Endpoint is the full chat completions URL (default: DefaultEndpoint).
	Endpoint string

	APIKey string

	// Model is used by TestConnection (default: DefaultModel).
	Model string

	// Transport is shared with other clients. A default one is created if nil.
	Transport *backend.Transport

	Logger *zap.Logger
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to an OpenAI-compatible endpoint.
//
// The Client is safe for concurrent use. Reconfiguration swaps the held
// target atomically; each call reads it once at start, so in-flight requests
// keep the target they started with.
type Client struct {
	target    atomic.Pointer[Target]
	modelName atomic.Pointer[string]
	transport *backend.Transport
	logger    *zap.Logger
}

// New creates a client from cfg.
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
		logger:    cfg.Logger.Named("openai"),
	}
	c.target.Store(&Target{Endpoint: cfg.Endpoint, APIKey: cfg.APIKey})
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
// CHAT OPERATIONS
// =============================================================================

// Send performs a blocking chat completion and returns the answer text.
// modelName is sent verbatim.
func (c *Client) Send(ctx context.Context, messages []model.Message, params model.GenerationParameters, modelName string) (string, error) {
	target := c.Target()
	req := BuildChatRequest(target, messages, params, modelName, false)

	body, err := c.transport.Do(ctx, req, "openai.chat")
	if err != nil {
		return "", err
	}
	return DecodeCompletion(body)
}

// Stream performs a streaming chat completion. Fragments are decoded as the
// server sends them; the caller must drain or Close the stream.
func (c *Client) Stream(ctx context.Context, messages []model.Message, params model.GenerationParameters, modelName string) (*backend.Stream, error) {
	target := c.Target()
	req := BuildChatRequest(target, messages, params, modelName, true)
	return c.transport.Open(ctx, req, "openai.chat_stream", DecodeStreamLine)
}

// TestConnection sends a short probe and reports whether it succeeded. The
// answer is discarded.
func (c *Client) TestConnection(ctx context.Context) error {
	probe := []model.Message{model.NewUserMessage("Hello")}
	params := model.DefaultParameters()
	params.MaxTokens = probeMaxTokens

	_, err := c.Send(ctx, probe, params, c.Model())
	if err != nil {
		c.logger.Info("connection test failed",
			zap.String("key", backend.KeyFingerprint(c.Target().APIKey)),
			zap.Error(err))
	}
	return err
}

// =============================================================================
// RECONFIGURATION
// =============================================================================

// UpdateConfiguration replaces endpoint and key for subsequent calls.
func (c *Client) UpdateConfiguration(endpoint, apiKey string) {
	c.target.Store(&Target{Endpoint: endpoint, APIKey: apiKey})
}

// UpdateEndpoint replaces the endpoint and keeps the key.
func (c *Client) UpdateEndpoint(endpoint string) {
	t := c.Target()
	t.Endpoint = endpoint
	c.target.Store(&t)
}

// UpdateModelName sets the model used for connection probes.
func (c *Client) UpdateModelName(name string) {
	c.modelName.Store(&name)
}
