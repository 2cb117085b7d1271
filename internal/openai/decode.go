// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openai

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/jeranaias/rigrun-desk/internal/backend"
)

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// DecodeCompletion extracts choices[0].message.content from a blocking
// response. A missing path is invalidResponse; an empty string is a valid
// empty answer.
func DecodeCompletion(body []byte) (string, error) {
	var resp ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", backend.InvalidResponse("malformed completion body", err)
	}
	if len(resp.Choices) == 0 {
		return "", backend.InvalidResponse("completion has no choices", nil)
	}
	msg := resp.Choices[0].Message
	if msg == nil || msg.Content == nil {
		return "", backend.InvalidResponse("completion has no message content", nil)
	}
	return *msg.Content, nil
}

// DecodeStreamLine decodes one SSE line. Non-data lines (comments, event,
// id, retry, keep-alive blanks) produce nothing. A "[DONE]" payload ends the
// stream. Chunks without choices or without delta content produce an empty
// fragment, which the stream skips.
func DecodeStreamLine(line []byte) (string, bool, error) {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, dataPrefix) {
		return "", false, nil
	}

	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 {
		return "", false, nil
	}
	if bytes.Equal(payload, doneMarker) {
		return "", true, nil
	}

	var chunk StreamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return "", false, backend.InvalidResponse("malformed stream chunk", err)
	}
	if chunk.Error != nil {
		return "", false, backend.RequestFailed(errors.New(chunk.Error.Message))
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == nil {
		return "", false, nil
	}
	return *chunk.Choices[0].Delta.Content, false, nil
}
