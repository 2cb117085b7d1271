// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for rigdesk.
//
// The configuration is a TOML file with built-in defaults, environment
// variable overrides and validation.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGDESK_*)
//   - ~/.rigdesk/config.toml (or the --config path)
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	timeout := cfg.Transport.RequestTimeout.Duration
//
// Watch reloads the file when it changes on disk.
package config
