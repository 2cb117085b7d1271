// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package profile manages named backend profiles.
//
// A profile binds a display name to an endpoint, a model selector and
// generation parameters. Profiles are persisted in a Store (SQLite by
// default); API keys never live in the profile record but in a Vault under
// the key derived by a KeyFunc.
//
// The Manager enforces the profile invariants:
//   - exactly one profile is the default while any exist
//   - the selected profile and the last profile cannot be deleted
//
// Selecting a profile pushes its complete configuration into a Configurer,
// normally the *router.ConfigurationManager.
package profile
