// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jeranaias/rigrun-desk/internal/ollama"
	"github.com/jeranaias/rigrun-desk/internal/openai"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

// =============================================================================
// DEFAULTS AND LOADING
// =============================================================================

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, CurrentVersion, cfg.Version)
	assert.Equal(t, openai.DefaultModel, cfg.DefaultModel)
	assert.Equal(t, openai.DefaultEndpoint, cfg.OpenAI.Endpoint)
	assert.Equal(t, ollama.DefaultEndpoint, cfg.Ollama.Endpoint)
	assert.False(t, cfg.Ollama.Enabled)
	assert.Equal(t, 60*time.Second, cfg.Transport.RequestTimeout.Duration)
	assert.Equal(t, 10*time.Minute, cfg.Transport.ResourceTimeout.Duration)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Models, cfg.Models)

	_, err = LoadFromPath(filepath.Join(t.TempDir(), "absent.toml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
default_model = "ollama:llama2"
models = ["gpt-4o"]

[ollama]
enabled = true

[transport]
resource_timeout = "0s"
requests_per_second = 2.5
burst = 3
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "ollama:llama2", cfg.DefaultModel)
	assert.Equal(t, []string{"gpt-4o"}, cfg.Models)
	assert.True(t, cfg.Ollama.Enabled)
	assert.Equal(t, ollama.DefaultEndpoint, cfg.Ollama.Endpoint)
	assert.Zero(t, cfg.Transport.ResourceTimeout.Duration, "explicit zero disables the stream deadline")
	assert.Equal(t, 60*time.Second, cfg.Transport.RequestTimeout.Duration)
	assert.Equal(t, 2.5, cfg.Transport.RequestsPerSecond)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"syntax", "default_model = "},
		{"unknown key", "[openai]\nkey = \"sk\"\n"},
		{"bad duration", "[transport]\nrequest_timeout = \"soon\"\n"},
		{"invalid value", "[log]\nlevel = \"chatty\"\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromPath(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Models = []string{"a", "b"}
	cfg.Ollama.Enabled = true
	cfg.Transport.ResourceTimeout = Duration{90 * time.Second}
	cfg.Chat.SystemPrompt = "Be brief."

	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	require.NoError(t, SaveTOML(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# rigdesk configuration file")
	assert.Contains(t, string(data), `resource_timeout = "1m30s"`)

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte("[chat]\ncontext_tokens = 100\n"))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Chat.ContextTokens)

	_, err = Parse([]byte("version = \"2\"\n"))
	assert.Error(t, err)
}

func TestPaths(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataDir = "/data/rigdesk"

	p, err := cfg.ProfilesPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/rigdesk", "profiles.db"), p)

	p, err = cfg.ConversationsDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/rigdesk", "conversations"), p)

	t.Setenv(EnvConfig, "/etc/rigdesk.toml")
	p, err = ConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/etc/rigdesk.toml", p)
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvOpenAIEndpoint, "https://proxy.example.com/v1/chat/completions")
	t.Setenv(EnvOllamaURL, "http://gpu-box:11434")
	t.Setenv(EnvOllamaEnabled, "yes")
	t.Setenv(EnvModel, "ollama:mistral")
	t.Setenv(EnvDataDir, "/tmp/rd")
	t.Setenv(EnvLogLevel, "DEBUG")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, "https://proxy.example.com/v1/chat/completions", cfg.OpenAI.Endpoint)
	assert.Equal(t, "http://gpu-box:11434", cfg.Ollama.Endpoint)
	assert.True(t, cfg.Ollama.Enabled)
	assert.Equal(t, "ollama:mistral", cfg.DefaultModel)
	assert.Equal(t, "/tmp/rd", cfg.Storage.DataDir)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestApplyEnvOverrides_BadBool(t *testing.T) {
	t.Setenv(EnvOllamaEnabled, "maybe")
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Version = "0"
	cfg.Models = []string{"a", "a", " "}
	cfg.OpenAI.Endpoint = "ftp://nope"
	cfg.Transport.RequestTimeout = Duration{}
	cfg.Transport.RequestsPerSecond = 1
	cfg.Transport.Burst = 0
	cfg.Log.Level = "loud"
	cfg.Telemetry.OTLPEndpoint = "http://collector:4318"

	err := cfg.Validate()
	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))

	for _, field := range []string{
		"version", "models", "openai.endpoint", "transport.request_timeout",
		"transport.burst", "log.level", "telemetry.otlp_endpoint",
	} {
		assert.True(t, verrs.Has(field), field)
	}
	assert.False(t, verrs.Has("ollama.endpoint"))
}

// =============================================================================
// GET / SET
// =============================================================================

func TestGetSet(t *testing.T) {
	cfg := Default()

	tests := []struct {
		key, value string
	}{
		{"default_model", "ollama:phi3"},
		{"ollama.enabled", "true"},
		{"transport.request_timeout", "30s"},
		{"transport.requests_per_second", "1.5"},
		{"storage.max_conversations", "7"},
		{"models", "a,b"},
	}
	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			require.NoError(t, cfg.Set(tc.key, tc.value))
			got, err := cfg.Get(tc.key)
			require.NoError(t, err)
			assert.Equal(t, tc.value, got)
		})
	}

	assert.Equal(t, []string{"a", "b"}, cfg.Models)
	assert.Equal(t, 30*time.Second, cfg.Transport.RequestTimeout.Duration)

	assert.Error(t, cfg.Set("nope", "x"))
	assert.Error(t, cfg.Set("ollama", "x"))
	assert.Error(t, cfg.Set("ollama.enabled", "maybe"))
	assert.Error(t, cfg.Set("default_model.x", "y"))
	_, err := cfg.Get("")
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "ollama.enabled")
	assert.Contains(t, keys, "transport.resource_timeout")
	assert.Contains(t, keys, "models")
	assert.NotContains(t, keys, "transport")

	cfg := Default()
	for _, k := range keys {
		_, err := cfg.Get(k)
		assert.NoError(t, err, k)
	}
}

// =============================================================================
// WATCH
// =============================================================================

func TestWatch_ReloadsOnAtomicSave(t *testing.T) {
	path := writeConfig(t, "[ollama]\nenabled = false\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	err := Watch(ctx, path, WatchOptions{Debounce: 20 * time.Millisecond, Logger: zaptest.NewLogger(t)},
		func(cfg *Config, err error) {
			if err == nil {
				changes <- cfg
			}
		})
	require.NoError(t, err)

	cfg := Default()
	cfg.Ollama.Enabled = true
	require.NoError(t, SaveTOML(cfg, path))

	select {
	case got := <-changes:
		assert.True(t, got.Ollama.Enabled)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatch_ReportsInvalidFile(t *testing.T) {
	path := writeConfig(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make(chan error, 4)
	require.NoError(t, Watch(ctx, path, WatchOptions{Debounce: 20 * time.Millisecond},
		func(cfg *Config, err error) {
			if err != nil {
				errs <- err
			}
		}))

	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"chatty\"\n"), 0600))

	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "log.level")
	case <-time.After(5 * time.Second):
		t.Fatal("no reload error observed")
	}
}
