// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openai

import (
	"encoding/json"
	"net/http"

	"github.com/jeranaias/rigrun-desk/internal/backend"
	"github.com/jeranaias/rigrun-desk/internal/model"
)

// UserAgent is sent with every request.
const UserAgent = "rigdesk/1.0"

// BuildChatRequest builds a chat completion request. It performs no I/O and
// cannot fail; the body differs between blocking and streaming only in the
// stream flag.
func BuildChatRequest(target Target, messages []model.Message, params model.GenerationParameters, modelName string, stream bool) backend.Request {
	body := ChatRequest{
		Model:            modelName,
		Messages:         toWire(messages),
		Temperature:      params.Temperature,
		MaxTokens:        params.MaxTokens,
		TopP:             params.TopP,
		FrequencyPenalty: params.FrequencyPenalty,
		PresencePenalty:  params.PresencePenalty,
		Stream:           stream,
	}

	// Marshal cannot fail for these field types.
	data, _ := json.Marshal(body)

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Authorization", "Bearer "+target.APIKey)
	header.Set("User-Agent", UserAgent)
	if stream {
		header.Set("Accept", "text/event-stream")
		header.Set("Cache-Control", "no-cache")
	}

	return backend.Request{
		Method: http.MethodPost,
		URL:    target.Endpoint,
		Header: header,
		Body:   data,
	}
}

func toWire(messages []model.Message) []ChatMessage {
	out := make([]ChatMessage, len(messages))
	for i, m := range messages {
		out[i] = ChatMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}
