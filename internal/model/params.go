// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
)

// GenerationParameters are the sampling settings sent with each request.
// They are stored as given; Validate is for callers that accept user input.
type GenerationParameters struct {
	Temperature      float64 `json:"temperature" toml:"temperature"`
	MaxTokens        int     `json:"max_tokens" toml:"max_tokens"`
	TopP             float64 `json:"top_p" toml:"top_p"`
	FrequencyPenalty float64 `json:"frequency_penalty" toml:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty" toml:"presence_penalty"`
}

// DefaultParameters returns the parameters used for new profiles.
func DefaultParameters() GenerationParameters {
	return GenerationParameters{
		Temperature:      0.7,
		MaxTokens:        2048,
		TopP:             1.0,
		FrequencyPenalty: 0,
		PresencePenalty:  0,
	}
}

// ParameterError describes one out-of-range parameter.
type ParameterError struct {
	Field   string
	Message string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks every parameter against the ranges both backends accept.
// All violations are returned joined.
func (p GenerationParameters) Validate() error {
	var errs []error
	if p.Temperature < 0 || p.Temperature > 2 {
		errs = append(errs, &ParameterError{Field: "temperature", Message: "must be between 0 and 2"})
	}
	if p.MaxTokens <= 0 {
		errs = append(errs, &ParameterError{Field: "max_tokens", Message: "must be positive"})
	}
	if p.TopP < 0 || p.TopP > 1 {
		errs = append(errs, &ParameterError{Field: "top_p", Message: "must be between 0 and 1"})
	}
	if p.FrequencyPenalty < -2 || p.FrequencyPenalty > 2 {
		errs = append(errs, &ParameterError{Field: "frequency_penalty", Message: "must be between -2 and 2"})
	}
	if p.PresencePenalty < -2 || p.PresencePenalty > 2 {
		errs = append(errs, &ParameterError{Field: "presence_penalty", Message: "must be between -2 and 2"})
	}
	return errors.Join(errs...)
}
