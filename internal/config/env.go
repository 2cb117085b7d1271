// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variables read by rigdesk.
const (
	EnvConfig          = "RIGDESK_CONFIG"
	EnvOpenAIEndpoint  = "RIGDESK_OPENAI_ENDPOINT"
	EnvOllamaURL       = "RIGDESK_OLLAMA_URL"
	EnvOllamaEnabled   = "RIGDESK_OLLAMA_ENABLED"
	EnvModel           = "RIGDESK_MODEL"
	EnvDataDir         = "RIGDESK_DATA_DIR"
	EnvLogLevel        = "RIGDESK_LOG_LEVEL"
	EnvOTLPEndpoint    = "RIGDESK_OTLP_ENDPOINT"
	EnvVaultPassphrase = "RIGDESK_VAULT_PASSPHRASE" // read by the CLI, never stored
)

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RIGDESK_OPENAI_ENDPOINT: overrides openai.endpoint
//   - RIGDESK_OLLAMA_URL: overrides ollama.endpoint
//   - RIGDESK_OLLAMA_ENABLED: "1"/"true"/"0"/"false", overrides ollama.enabled
//   - RIGDESK_MODEL: overrides default_model
//   - RIGDESK_DATA_DIR: overrides storage.data_dir
//   - RIGDESK_LOG_LEVEL: overrides log.level
//   - RIGDESK_OTLP_ENDPOINT: overrides telemetry.otlp_endpoint
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv(EnvOpenAIEndpoint); v != "" {
		c.OpenAI.Endpoint = v
	}
	if v := os.Getenv(EnvOllamaURL); v != "" {
		c.Ollama.Endpoint = v
	}
	if v := os.Getenv(EnvOllamaEnabled); v != "" {
		enabled, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvOllamaEnabled, err)
		}
		c.Ollama.Enabled = enabled
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.DefaultModel = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvOTLPEndpoint); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	return nil
}

// parseBool accepts the strconv forms plus yes/no and on/off.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(s))
}
