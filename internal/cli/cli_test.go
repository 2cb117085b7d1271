// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-desk/internal/backend"
	"github.com/jeranaias/rigrun-desk/internal/config"
	"github.com/jeranaias/rigrun-desk/internal/profile"
	"github.com/jeranaias/rigrun-desk/internal/storage"
)

// =============================================================================
// FIXTURES
// =============================================================================

// chatServer is a fake chat completions endpoint.
type chatServer struct {
	*httptest.Server
	reply  string
	status int

	mu     sync.Mutex
	auth   []string
	models []string
}

func newChatServer(t *testing.T, reply string) *chatServer {
	t.Helper()
	s := &chatServer{reply: reply}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model  string `json:"model"`
			Stream bool   `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		s.mu.Lock()
		s.auth = append(s.auth, strings.TrimSpace(r.Header.Get("Authorization")))
		s.models = append(s.models, body.Model)
		status := s.status
		s.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"nope"}}`)
			return
		}
		if !body.Stream {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, s.reply)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, word := range strings.SplitAfter(s.reply, " ") {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", word)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *chatServer) setStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *chatServer) endpoint() string {
	return s.URL + "/v1/chat/completions"
}

func (s *chatServer) seen() (auth, models []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auth...), append([]string(nil), s.models...)
}

// setupEnv points config and data at a temp dir and writes a config whose
// fallback endpoint is srv.
func setupEnv(t *testing.T, srv *chatServer) string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")

	t.Setenv(config.EnvConfig, cfgPath)
	t.Setenv(config.EnvDataDir, filepath.Join(dir, "data"))
	t.Setenv(config.EnvVaultPassphrase, "correct horse")
	for _, env := range []string{config.EnvOpenAIEndpoint, config.EnvOllamaURL, config.EnvOllamaEnabled, config.EnvModel, config.EnvLogLevel, config.EnvOTLPEndpoint} {
		t.Setenv(env, "")
	}

	prev := vaultIterations
	vaultIterations = 1000
	t.Cleanup(func() { vaultIterations = prev })

	cfg := config.Default()
	cfg.DefaultModel = "gpt-test"
	cfg.Models = []string{"gpt-test", "gpt-4o"}
	if srv != nil {
		cfg.OpenAI.Endpoint = srv.endpoint()
	}
	require.NoError(t, config.SaveTOML(cfg, cfgPath))
	return cfgPath
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, err := run(t, stdin, args...)
	require.NoError(t, err, out)
	return out
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestVersion(t *testing.T) {
	out := mustRun(t, "", "version")
	assert.Contains(t, out, "rigdesk version "+Version)
	assert.Contains(t, out, "Git commit:")
}

func TestConfig_InitGetSet(t *testing.T) {
	setupEnv(t, nil)
	path := filepath.Join(t.TempDir(), "fresh.toml")

	out := mustRun(t, "", "--config", path, "config", "init")
	assert.Contains(t, out, path)

	_, err := run(t, "", "--config", path, "config", "init")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, ExitCode(err))

	assert.Equal(t, "false\n", mustRun(t, "", "--config", path, "config", "get", "ollama.enabled"))
	mustRun(t, "", "--config", path, "config", "set", "ollama.enabled", "yes")
	assert.Equal(t, "true\n", mustRun(t, "", "--config", path, "config", "get", "ollama.enabled"))

	mustRun(t, "", "--config", path, "config", "set", "models", "a, b")
	assert.Equal(t, "a,b\n", mustRun(t, "", "--config", path, "config", "get", "models"))

	_, err = run(t, "", "--config", path, "config", "set", "no.such.key", "1")
	assert.Equal(t, ExitUsageError, ExitCode(err))

	_, err = run(t, "", "--config", path, "config", "set", "log.level", "chatty")
	assert.Equal(t, ExitConfigError, ExitCode(err))

	assert.Equal(t, path+"\n", mustRun(t, "", "--config", path, "config", "path"))
	assert.Contains(t, mustRun(t, "", "config", "keys"), "transport.request_timeout")
}

func TestConfig_SetDoesNotPersistEnvOverrides(t *testing.T) {
	cfgPath := setupEnv(t, nil)
	t.Setenv(config.EnvModel, "from-env")

	assert.Equal(t, "from-env\n", mustRun(t, "", "config", "get", "default_model"))
	mustRun(t, "", "config", "set", "chat.context_tokens", "100")

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "from-env")
	assert.Contains(t, string(data), "context_tokens = 100")
}

func TestProfiles_Lifecycle(t *testing.T) {
	srv := newChatServer(t, "ok")
	setupEnv(t, srv)

	out := mustRun(t, "", "profiles", "list")
	assert.Contains(t, out, "No profiles")

	mustRun(t, "sk-work", "profiles", "add", "work", "--endpoint", srv.endpoint(), "--model", "gpt-4o", "--key-stdin")
	mustRun(t, "", "profiles", "add", "local", "--model", "ollama:llama2", "--no-key", "--temperature", "0.1")

	out = mustRun(t, "", "profiles", "list")
	assert.Contains(t, out, "work")
	assert.Contains(t, out, "ollama:llama2")

	out = mustRun(t, "", "profiles", "show", "local")
	assert.Contains(t, out, "0.1")
	assert.Contains(t, out, "false")

	mustRun(t, "", "profiles", "default", "local")
	assert.Contains(t, mustRun(t, "", "profiles", "show", "local"), "true")

	mustRun(t, "", "profiles", "edit", "local", "--name", "laptop", "--max-tokens", "512")
	out = mustRun(t, "", "profiles", "show", "laptop")
	assert.Contains(t, out, "512")

	mustRun(t, "", "profiles", "dup", "work")
	assert.Contains(t, mustRun(t, "", "profiles", "list", "--search", "copy"), "work Copy")

	mustRun(t, "", "profiles", "rm", "work Copy")
	assert.NotContains(t, mustRun(t, "", "profiles", "list"), "work Copy")

	_, err := run(t, "", "profiles", "show", "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, profile.ErrNotFound))
	assert.Equal(t, ExitNotFoundError, ExitCode(err))

	_, err = run(t, "", "profiles", "edit", "laptop")
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestAsk_StreamsThroughDefaultProfile(t *testing.T) {
	srv := newChatServer(t, "Hello there friend")
	setupEnv(t, srv)
	mustRun(t, "sk-work", "profiles", "add", "work", "--endpoint", srv.endpoint(), "--model", "gpt-4o", "--key-stdin")

	out := mustRun(t, "", "ask", "hi")
	assert.Equal(t, "Hello there friend\n", out)

	auth, models := srv.seen()
	assert.Equal(t, []string{"Bearer sk-work"}, auth)
	assert.Equal(t, []string{"gpt-4o"}, models)
}

func TestAsk_BlockingAndModelOverride(t *testing.T) {
	srv := newChatServer(t, "# Title")
	setupEnv(t, srv)

	out := mustRun(t, "", "ask", "--no-stream", "--model", "gpt-test", "hi")
	assert.Equal(t, "# Title\n", out)

	auth, models := srv.seen()
	assert.Equal(t, []string{"Bearer"}, auth, "no profile means an empty key")
	assert.Equal(t, []string{"gpt-test"}, models)
}

func TestAsk_PromptFromStdin(t *testing.T) {
	srv := newChatServer(t, "done")
	setupEnv(t, srv)
	assert.Equal(t, "done\n", mustRun(t, "  piped prompt \n", "ask"))

	_, err := run(t, "   ", "ask")
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestAsk_AuthenticationFailure(t *testing.T) {
	srv := newChatServer(t, "")
	srv.setStatus(http.StatusUnauthorized)
	setupEnv(t, srv)

	_, err := run(t, "", "ask", "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrAuthenticationFailed))
	assert.Equal(t, ExitAuthError, ExitCode(err))
	assert.Contains(t, FormatError(err, false), "Authentication failed")
}

func TestAsk_OllamaDisabled(t *testing.T) {
	srv := newChatServer(t, "")
	setupEnv(t, srv)

	_, err := run(t, "", "ask", "--model", "ollama:llama2", "hi")
	require.Error(t, err)
	assert.Contains(t, FormatError(err, false), "ollama.enabled")
	assert.Equal(t, ExitNetworkError, ExitCode(err))
}

func TestChat_PipedSession(t *testing.T) {
	srv := newChatServer(t, "Hi human")
	setupEnv(t, srv)

	out := mustRun(t, "hello there\n/model gpt-4o\nsecond\n/history\n/quit\n", "chat")
	assert.Contains(t, out, "Hi human")
	assert.Contains(t, out, "Model: gpt-4o")

	_, models := srv.seen()
	assert.Equal(t, []string{"gpt-test", "gpt-4o"}, models)

	out = mustRun(t, "", "conversations", "list")
	assert.Contains(t, out, "hello there")
	assert.Contains(t, out, "4 msgs")

	out = mustRun(t, "", "conversations", "search", "SECOND")
	assert.Contains(t, out, "hello there")

	out = mustRun(t, "", "conversations", "show", "1")
	assert.Contains(t, out, "**You**")
	assert.Contains(t, out, "Hi human")

	mustRun(t, "", "conversations", "rm", "1")
	assert.Contains(t, mustRun(t, "", "conversations", "list"), "No conversations")

	_, err := run(t, "", "conversations", "show", "1")
	assert.True(t, errors.Is(err, storage.ErrConversationNotFound))
}

func TestChat_FailedTurnIsDropped(t *testing.T) {
	srv := newChatServer(t, "")
	srv.setStatus(http.StatusServiceUnavailable)
	setupEnv(t, srv)

	out := mustRun(t, "hello\n", "chat")
	assert.Contains(t, out, "(503)")
	assert.Contains(t, out, "/retry")
	assert.Contains(t, mustRun(t, "", "conversations", "list"), "No conversations")
}

func TestChat_NoSave(t *testing.T) {
	srv := newChatServer(t, "ok")
	setupEnv(t, srv)

	mustRun(t, "hello\n", "chat", "--no-save")
	assert.Contains(t, mustRun(t, "", "conversations", "list"), "No conversations")
}

func TestPing(t *testing.T) {
	srv := newChatServer(t, "pong")
	setupEnv(t, srv)

	out := mustRun(t, "", "ping")
	assert.Contains(t, out, "OpenAI")
	assert.Contains(t, out, "OK")

	srv.setStatus(http.StatusTooManyRequests)
	out, err := run(t, "", "ping")
	require.Error(t, err)
	assert.Contains(t, out, "FAILED")
	assert.True(t, errors.Is(err, backend.ErrRateLimited))
}

func TestModels(t *testing.T) {
	setupEnv(t, nil)

	out := mustRun(t, "", "models")
	assert.Contains(t, out, "gpt-test")
	assert.Contains(t, out, "gpt-4o")
	assert.Contains(t, out, "Ollama is disabled")

	_, err := run(t, "", "models", "--refresh")
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestUsage(t *testing.T) {
	srv := newChatServer(t, "some answer")
	setupEnv(t, srv)

	assert.Contains(t, mustRun(t, "", "usage"), "No requests recorded")

	mustRun(t, "", "ask", "hi")
	out := mustRun(t, "", "usage", "--days", "1")
	assert.Contains(t, out, "gpt-test")
	assert.Contains(t, out, "total")

	_, err := run(t, "", "usage", "--days", "0")
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestSelectProfileFlag(t *testing.T) {
	srv := newChatServer(t, "ok")
	setupEnv(t, srv)
	mustRun(t, "sk-a", "profiles", "add", "alpha", "--endpoint", srv.endpoint(), "--model", "gpt-a", "--key-stdin")
	mustRun(t, "sk-b", "profiles", "add", "beta", "--endpoint", srv.endpoint(), "--model", "gpt-b", "--key-stdin")

	mustRun(t, "", "--profile", "beta", "ask", "hi")
	auth, models := srv.seen()
	assert.Equal(t, []string{"Bearer sk-b"}, auth)
	assert.Equal(t, []string{"gpt-b"}, models)

	_, err := run(t, "", "--profile", "gamma", "ask", "hi")
	assert.Equal(t, ExitNotFoundError, ExitCode(err))
}

func TestSetKey(t *testing.T) {
	srv := newChatServer(t, "ok")
	setupEnv(t, srv)
	mustRun(t, "", "profiles", "add", "work", "--endpoint", srv.endpoint(), "--no-key")

	mustRun(t, "sk-new", "profiles", "set-key", "work", "--stdin")
	mustRun(t, "", "ask", "one")
	mustRun(t, "", "profiles", "set-key", "work", "--clear")
	mustRun(t, "", "ask", "two")

	auth, _ := srv.seen()
	assert.Equal(t, []string{"Bearer sk-new", "Bearer"}, auth)
}

// =============================================================================
// HELPERS
// =============================================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"usage", usageErrorf("bad"), ExitUsageError},
		{"cancelled", backend.RequestFailed(context.Canceled), ExitCancelled},
		{"auth", backend.ErrorFromStatus(401, nil, nil), ExitAuthError},
		{"server", backend.ServerError(502), ExitNetworkError},
		{"invalid url", backend.InvalidURL("::", nil), ExitConfigError},
		{"not found", fmt.Errorf("wrapped: %w", profile.ErrNotFound), ExitNotFoundError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestFormatError(t *testing.T) {
	err := backend.ServerError(500)
	assert.Contains(t, FormatError(err, false), "(500)")
	assert.Contains(t, FormatError(errors.New("plain"), false), "plain")
}

func TestReadPrompt(t *testing.T) {
	p, err := readPrompt(strings.NewReader("ignored"), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "a b", p)

	p, err = readPrompt(strings.NewReader("from stdin\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, "from stdin", p)
}
