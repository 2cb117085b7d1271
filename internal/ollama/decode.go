// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/jeranaias/rigrun-desk/internal/backend"
)

// DecodeGenerate extracts the response field of a blocking /api/generate
// body. A missing field is invalidResponse; an error field is requestFailed.
func DecodeGenerate(body []byte) (string, error) {
	var resp GenerateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", backend.InvalidResponse("malformed generate body", err)
	}
	if resp.Error != "" {
		return "", backend.RequestFailed(errors.New(resp.Error))
	}
	if resp.Response == nil {
		return "", backend.InvalidResponse("generate body has no response field", nil)
	}
	return *resp.Response, nil
}

// DecodeStreamLine decodes one NDJSON line. It never reports done; the
// stream ends at end of body.
func DecodeStreamLine(line []byte) (string, bool, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return "", false, nil
	}
	text, err := DecodeGenerate(line)
	return text, false, err
}

// DecodeTags extracts model names from a /api/tags body.
func DecodeTags(body []byte) ([]ModelInfo, error) {
	var resp ListModelsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, backend.InvalidResponse("malformed tags body", err)
	}
	if resp.Models == nil {
		return nil, backend.InvalidResponse("tags body has no models field", nil)
	}
	return resp.Models, nil
}
