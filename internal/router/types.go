// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"fmt"
	"strings"
)

// OllamaPrefix marks a selector routed to the Ollama backend.
const OllamaPrefix = "ollama:"

// ============================================================================
// BACKEND KIND
// ============================================================================

// BackendKind identifies a backend.
type BackendKind int

const (
	// BackendOpenAI is the OpenAI-compatible HTTP endpoint.
	BackendOpenAI BackendKind = iota
	// BackendOllama is the local Ollama server.
	BackendOllama
)

// String returns the human-readable name of the backend.
func (k BackendKind) String() string {
	switch k {
	case BackendOpenAI:
		return "OpenAI"
	case BackendOllama:
		return "Ollama"
	default:
		return fmt.Sprintf("Backend(%d)", k)
	}
}

// ============================================================================
// ROUTE
// ============================================================================

// Route is the result of resolving a model selector.
type Route struct {
	Backend BackendKind
	Model   string
}

// Resolve maps a selector to its backend and wire model name. Selectors with
// the Ollama prefix are stripped of it (possibly leaving ""); everything else
// is passed through verbatim.
func Resolve(selector string) Route {
	if name, ok := strings.CutPrefix(selector, OllamaPrefix); ok {
		return Route{Backend: BackendOllama, Model: name}
	}
	return Route{Backend: BackendOpenAI, Model: selector}
}

// IsOllama reports whether selector routes to Ollama.
func IsOllama(selector string) bool {
	return strings.HasPrefix(selector, OllamaPrefix)
}

// OllamaSelector returns the selector for a local model name.
func OllamaSelector(name string) string {
	return OllamaPrefix + name
}
