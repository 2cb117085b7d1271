// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openai

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-desk/internal/backend"
	"github.com/jeranaias/rigrun-desk/internal/model"
)

// =============================================================================
// BUILDER TESTS
// =============================================================================

func TestBuildChatRequest(t *testing.T) {
	target := Target{Endpoint: "https://api.example.com/v1/chat/completions", APIKey: "sk-test"}
	params := model.GenerationParameters{Temperature: 0.7, MaxTokens: 100, TopP: 1.0, FrequencyPenalty: 0.1, PresencePenalty: -0.2}
	messages := []model.Message{model.NewUserMessage("Hello")}

	req := BuildChatRequest(target, messages, params, "gpt-3.5-turbo", false)

	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, target.Endpoint, req.URL)
	assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, "gpt-3.5-turbo", body["model"])
	assert.Equal(t, []any{map[string]any{"role": "user", "content": "Hello"}}, body["messages"])
	assert.Equal(t, 0.7, body["temperature"])
	assert.Equal(t, float64(100), body["max_tokens"])
	assert.Equal(t, 1.0, body["top_p"])
	assert.Equal(t, 0.1, body["frequency_penalty"])
	assert.Equal(t, -0.2, body["presence_penalty"])
	assert.Equal(t, false, body["stream"])
	assert.Len(t, body, 8, "no extra fields on the wire")
}

func TestBuildChatRequest_FieldOrder(t *testing.T) {
	req := BuildChatRequest(Target{Endpoint: "http://h"}, []model.Message{model.NewUserMessage("Hello")},
		model.GenerationParameters{Temperature: 0.7, MaxTokens: 100, TopP: 1}, "m", false)

	assert.Equal(t,
		`{"model":"m","messages":[{"role":"user","content":"Hello"}],"temperature":0.7,"max_tokens":100,"top_p":1,"frequency_penalty":0,"presence_penalty":0,"stream":false}`,
		string(req.Body))
}

func TestBuildChatRequest_StreamOnlyDiffersInFlag(t *testing.T) {
	target := Target{Endpoint: "http://h", APIKey: "k"}
	messages := []model.Message{model.NewSystemMessage("be brief"), model.NewUserMessage("Hi")}
	params := model.DefaultParameters()

	blocking := BuildChatRequest(target, messages, params, "m", false)
	streaming := BuildChatRequest(target, messages, params, "m", true)

	var a, b map[string]any
	require.NoError(t, json.Unmarshal(blocking.Body, &a))
	require.NoError(t, json.Unmarshal(streaming.Body, &b))
	assert.Equal(t, true, b["stream"])
	b["stream"] = false
	assert.Equal(t, a, b)
	assert.Equal(t, "text/event-stream", streaming.Header.Get("Accept"))
}

// =============================================================================
// DECODER TESTS
// =============================================================================

func TestDecodeCompletion(t *testing.T) {
	text, err := DecodeCompletion([]byte(`{"choices":[{"message":{"role":"assistant","content":"Paris"}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "Paris", text)

	text, err = DecodeCompletion([]byte(`{"choices":[{"message":{"role":"assistant","content":""}}]}`))
	require.NoError(t, err, "empty content is a legitimate answer")
	assert.Equal(t, "", text)
}

func TestDecodeCompletion_Invalid(t *testing.T) {
	bodies := []string{
		`not json`,
		`{}`,
		`{"choices":[]}`,
		`{"choices":[{}]}`,
		`{"choices":[{"message":{"role":"assistant"}}]}`,
	}
	for _, body := range bodies {
		_, err := DecodeCompletion([]byte(body))
		assert.True(t, errors.Is(err, backend.ErrInvalidResponse), "body %s", body)
	}
}

func TestDecodeStreamLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		fragment string
		done     bool
		kind     backend.Kind
	}{
		{"content", `data: {"choices":[{"delta":{"content":"Hi"}}]}`, "Hi", false, 0},
		{"no space after colon", `data:{"choices":[{"delta":{"content":"Hi"}}]}`, "Hi", false, 0},
		{"done", `data: [DONE]`, "", true, 0},
		{"done padded", `data:  [DONE]  `, "", true, 0},
		{"empty content", `data: {"choices":[{"delta":{"content":""}}]}`, "", false, 0},
		{"role only", `data: {"choices":[{"delta":{"role":"assistant"}}]}`, "", false, 0},
		{"no choices", `data: {"choices":[]}`, "", false, 0},
		{"comment", `: keep-alive`, "", false, 0},
		{"event line", `event: message`, "", false, 0},
		{"blank", ``, "", false, 0},
		{"malformed", `data: {"choices":`, "", false, backend.KindInvalidResponse},
		{"error object", `data: {"error":{"message":"overloaded"}}`, "", false, backend.KindRequestFailed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fragment, done, err := DecodeStreamLine([]byte(tc.line))
			if tc.kind != 0 {
				require.Error(t, err)
				assert.Equal(t, tc.kind, backend.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.fragment, fragment)
			assert.Equal(t, tc.done, done)
		})
	}
}
