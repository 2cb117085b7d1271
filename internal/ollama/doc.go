// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// Chat history is flattened into a single prompt for /api/generate, one
// "role: content" line per message. Streaming responses are newline-delimited
// JSON; there is no end marker, the stream ends when the server closes the
// body.
//
// # Key Types
//
//   - Client: send, stream, connection probe and model listing
//   - GenerateRequest / GenerateResponse: /api/generate wire types
//   - ModelInfo: one entry of /api/tags
//
// # Usage
//
//	client := ollama.New(ollama.Config{Endpoint: "http://127.0.0.1:11434"})
//	names, err := client.ListModels(ctx)
//
//	stream, err := client.Stream(ctx, history, params, "llama2")
//	if err != nil {
//	    return err
//	}
//	for fragment, err := range stream.All() {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(fragment)
//	}
package ollama
