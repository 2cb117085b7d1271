// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"time"

	"github.com/dustin/go-humanize"
)

// Target is the Ollama server a client talks to.
type Target struct {
	Endpoint string
}

// GenerateRequest is the request body for /api/generate. Sampling fields are
// top-level, not nested under options. Field order is the wire order.
type GenerateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
	TopP        float64 `json:"top_p"`
}

// GenerateResponse is one /api/generate body or stream line. Response is a
// pointer so a missing field can be told apart from an empty one.
type GenerateResponse struct {
	Model      string    `json:"model,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	Response   *string   `json:"response"`
	Done       bool      `json:"done"`
	DoneReason string    `json:"done_reason,omitempty"`
	EvalCount  int       `json:"eval_count,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// ModelInfo is one installed model as listed by /api/tags.
type ModelInfo struct {
	Name       string       `json:"name"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details,omitempty"`
}

// ModelDetails is the optional metadata block of a tag entry.
type ModelDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// ListModelsResponse is the /api/tags body.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// FormatSize renders the on-disk size with binary units ("3.6 GiB").
func (m ModelInfo) FormatSize() string {
	if m.Size < 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(m.Size))
}
