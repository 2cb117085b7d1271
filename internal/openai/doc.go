// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package openai implements the client for OpenAI-compatible chat completion
// endpoints.
//
// The endpoint is the full completions URL (for example
// https://api.openai.com/v1/chat/completions); nothing is appended to it.
// Requests carry a static bearer token.
//
// # Usage
//
//	client := openai.New(openai.Config{
//	    Endpoint:  "https://api.openai.com/v1/chat/completions",
//	    APIKey:    key,
//	    Transport: transport,
//	})
//	answer, err := client.Send(ctx, history, params, "gpt-4o-mini")
//
// Streaming responses are server-sent events. Each "data:" line carries a
// chunk; "data: [DONE]" ends the stream and is never emitted.
package openai
