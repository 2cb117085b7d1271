// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/rigrun-desk/internal/ollama"
	"github.com/jeranaias/rigrun-desk/internal/openai"
	"github.com/jeranaias/rigrun-desk/internal/util"
)

// CurrentVersion is the config file format version.
const CurrentVersion = "1"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete application configuration.
type Config struct {
	Version      string   `toml:"version"`
	DefaultModel string   `toml:"default_model"`
	Models       []string `toml:"models"`

	OpenAI    OpenAIConfig    `toml:"openai"`
	Ollama    OllamaConfig    `toml:"ollama"`
	Transport TransportConfig `toml:"transport"`
	Storage   StorageConfig   `toml:"storage"`
	Chat      ChatConfig      `toml:"chat"`
	Log       LogConfig       `toml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// OpenAIConfig is the fallback OpenAI-compatible endpoint used before any
// profile is selected.
type OpenAIConfig struct {
	Endpoint string `toml:"endpoint"`
}

// OllamaConfig controls the local backend.
type OllamaConfig struct {
	Endpoint string `toml:"endpoint"`
	Enabled  bool   `toml:"enabled"`
}

// TransportConfig tunes the shared HTTP transport.
type TransportConfig struct {
	RequestTimeout Duration `toml:"request_timeout"`
	// ResourceTimeout bounds a whole streamed response; 0 means no limit.
	ResourceTimeout   Duration `toml:"resource_timeout"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
}

// StorageConfig locates persisted data.
type StorageConfig struct {
	DataDir          string `toml:"data_dir"`
	MaxConversations int    `toml:"max_conversations"`
}

// ChatConfig controls the interactive chat.
type ChatConfig struct {
	// ContextTokens is the estimated token budget of the history sent with
	// each turn; 0 sends everything.
	ContextTokens int    `toml:"context_tokens"`
	SystemPrompt  string `toml:"system_prompt"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level       string `toml:"level"`
	File        string `toml:"file"`
	Development bool   `toml:"development"`
}

// TelemetryConfig enables OTLP trace export when Endpoint is set.
type TelemetryConfig struct {
	OTLPEndpoint string `toml:"otlp_endpoint"`
	Insecure     bool   `toml:"insecure"`
	ServiceName  string `toml:"service_name"`
}

// Duration is a time.Duration written as a Go duration string ("60s").
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version:      CurrentVersion,
		DefaultModel: openai.DefaultModel,
		Models:       []string{"gpt-3.5-turbo", "gpt-4o-mini", "gpt-4o"},
		OpenAI:       OpenAIConfig{Endpoint: openai.DefaultEndpoint},
		Ollama:       OllamaConfig{Endpoint: ollama.DefaultEndpoint},
		Transport: TransportConfig{
			RequestTimeout:  Duration{60 * time.Second},
			ResourceTimeout: Duration{10 * time.Minute},
			Burst:           1,
		},
		Storage: StorageConfig{
			DataDir:          "~/.rigdesk",
			MaxConversations: 100,
		},
		Chat: ChatConfig{ContextTokens: 6000},
		Log:  LogConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			ServiceName: "rigdesk",
		},
	}
}

// fillDefaults restores defaults for values a file explicitly blanked.
func fillDefaults(cfg *Config) {
	d := Default()
	if cfg.Version == "" {
		cfg.Version = d.Version
	}
	if cfg.OpenAI.Endpoint == "" {
		cfg.OpenAI.Endpoint = d.OpenAI.Endpoint
	}
	if cfg.Ollama.Endpoint == "" {
		cfg.Ollama.Endpoint = d.Ollama.Endpoint
	}
	if cfg.Transport.RequestTimeout.Duration == 0 {
		cfg.Transport.RequestTimeout = d.Transport.RequestTimeout
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = d.Storage.DataDir
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = d.Telemetry.ServiceName
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns ~/.rigdesk.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigdesk"), nil
}

// ConfigPath returns the config file path: $RIGDESK_CONFIG if set, else
// ~/.rigdesk/config.toml.
func ConfigPath() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DataDir returns the expanded storage directory.
func (c *Config) DataDir() (string, error) {
	return util.ExpandHome(c.Storage.DataDir)
}

// ProfilesPath is the SQLite profile database.
func (c *Config) ProfilesPath() (string, error) {
	return c.dataFile("profiles.db")
}

// VaultPath is the encrypted secret file.
func (c *Config) VaultPath() (string, error) {
	return c.dataFile("vault.json")
}

// ConversationsDir holds saved chats.
func (c *Config) ConversationsDir() (string, error) {
	return c.dataFile("conversations")
}

// HistoryPath is the chat line-editor history.
func (c *Config) HistoryPath() (string, error) {
	return c.dataFile("history")
}

// UsagePath is the local usage summary.
func (c *Config) UsagePath() (string, error) {
	return c.dataFile("usage.json")
}

func (c *Config) dataFile(name string) (string, error) {
	dir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// =============================================================================
// LOAD
// =============================================================================

// Load reads path (ConfigPath when empty). A missing file yields the
// defaults. Environment overrides are applied and the result validated.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		if path, err = ConfigPath(); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	if err := decodeFile(cfg, path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return finish(cfg)
}

// LoadFromPath is Load for a file that must exist.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := decodeFile(cfg, path); err != nil {
		return nil, err
	}
	return finish(cfg)
}

// Parse decodes TOML text on top of the defaults without env overrides.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode TOML: %w", err)
	}
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// decodeFile decodes path over cfg so keys missing from the file keep their
// current values.
func decodeFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	ensureSecurePermissions(path)

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys in %s: %v", path, undecoded)
	}
	return nil
}

func finish(cfg *Config) (*Config, error) {
	fillDefaults(cfg)
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ensureSecurePermissions tightens the file to 0600. Failure is not fatal;
// some filesystems cannot change modes.
func ensureSecurePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil || info.Mode().Perm() == 0600 {
		return
	}
	_ = os.Chmod(path, 0600)
}

// =============================================================================
// SAVE
// =============================================================================

const fileHeader = `# rigdesk configuration file
# Generated by rigdesk - edit with care
#
# Environment variables (RIGDESK_*) override values in this file.

`

// Save writes cfg to ConfigPath.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg to path atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	data, err := cfg.Encode()
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Encode renders cfg as commented TOML.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Models = append([]string(nil), c.Models...)
	return &clone
}
