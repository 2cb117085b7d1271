// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"strings"

	"github.com/jeranaias/rigrun-desk/internal/backend"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Has reports whether field failed validation.
func (e ValidateErrors) Has(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate returns ValidateErrors listing every invalid field, or nil.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Version != CurrentVersion {
		add("version", "unsupported version %q, expected %q", c.Version, CurrentVersion)
	}

	seen := make(map[string]bool)
	for _, m := range c.Models {
		switch {
		case strings.TrimSpace(m) == "":
			add("models", "empty model name")
		case seen[m]:
			add("models", "duplicate model %q", m)
		}
		seen[m] = true
	}

	if _, err := backend.ValidateEndpoint(c.OpenAI.Endpoint); err != nil {
		add("openai.endpoint", "%v", err)
	}
	if _, err := backend.ValidateEndpoint(c.Ollama.Endpoint); err != nil {
		add("ollama.endpoint", "%v", err)
	}

	if c.Transport.RequestTimeout.Duration <= 0 {
		add("transport.request_timeout", "must be positive")
	}
	if c.Transport.ResourceTimeout.Duration < 0 {
		add("transport.resource_timeout", "cannot be negative")
	}
	if c.Transport.RequestsPerSecond < 0 {
		add("transport.requests_per_second", "cannot be negative")
	}
	if c.Transport.Burst < 0 {
		add("transport.burst", "cannot be negative")
	}
	if c.Transport.RequestsPerSecond > 0 && c.Transport.Burst == 0 {
		add("transport.burst", "must be at least 1 when requests_per_second is set")
	}

	if c.Chat.ContextTokens < 0 {
		add("chat.context_tokens", "cannot be negative")
	}

	if !validLevels[strings.ToLower(c.Log.Level)] {
		add("log.level", "invalid level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	if ep := c.Telemetry.OTLPEndpoint; ep != "" && strings.Contains(ep, "://") {
		add("telemetry.otlp_endpoint", "must be host:port without a scheme")
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}
