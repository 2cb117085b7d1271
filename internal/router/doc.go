// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router dispatches chat requests to the OpenAI-compatible or the
// Ollama backend and holds the live backend configuration.
//
// The model selector decides the backend: "ollama:llama2" goes to Ollama as
// model "llama2", anything else goes to the OpenAI-compatible endpoint
// unchanged. Resolve is the only place this decision is made.
//
// # Key Types
//
//   - ConfigurationManager: copy-on-write configuration plus dispatch
//   - Snapshot: the configuration a single call is made with
//   - Route: backend and model name for a selector
//   - Event: change notification delivered to subscribers
//
// # Usage
//
//	mgr := router.New(router.Options{Transport: transport})
//	defer mgr.Close()
//
//	mgr.UpdateConfiguration(router.Configuration{
//	    Endpoint:   "https://api.openai.com/v1/chat/completions",
//	    APIKey:     key,
//	    ModelName:  "gpt-4o-mini",
//	    Parameters: model.DefaultParameters(),
//	})
//	mgr.SetOllamaEnabled(true)
//
//	stream, err := mgr.Stream(ctx, history)
//
// # Concurrency
//
// Configuration changes are expected from one control goroutine. Every call
// loads the snapshot once, so a request never mixes fields from before and
// after a change. Errors from the backends are returned unchanged and the
// router never retries.
package router
