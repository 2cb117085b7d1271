// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/jeranaias/rigrun-desk/internal/backend"
	"github.com/jeranaias/rigrun-desk/internal/model"
)

// API paths relative to the endpoint.
const (
	generatePath = "/api/generate"
	tagsPath     = "/api/tags"
)

// FlattenPrompt collapses a history into the single prompt /api/generate
// takes: one "role: content" entry per message, newline separated, oldest
// first. The same history always yields the same prompt.
func FlattenPrompt(messages []model.Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

// BuildGenerateRequest builds a /api/generate request. It performs no I/O and
// cannot fail.
func BuildGenerateRequest(target Target, messages []model.Message, params model.GenerationParameters, modelName string, stream bool) backend.Request {
	body := GenerateRequest{
		Model:       modelName,
		Prompt:      FlattenPrompt(messages),
		Stream:      stream,
		Temperature: params.Temperature,
		NumPredict:  params.MaxTokens,
		TopP:        params.TopP,
	}
	data, _ := json.Marshal(body)

	header := http.Header{}
	header.Set("Content-Type", "application/json")

	return backend.Request{
		Method: http.MethodPost,
		URL:    backend.JoinPath(target.Endpoint, generatePath),
		Header: header,
		Body:   data,
	}
}

// BuildTagsRequest builds the model catalog request.
func BuildTagsRequest(target Target) backend.Request {
	return backend.Request{
		Method: http.MethodGet,
		URL:    backend.JoinPath(target.Endpoint, tagsPath),
		Header: http.Header{},
	}
}
