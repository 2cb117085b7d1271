// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package profile

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-desk/internal/backend"
	"github.com/jeranaias/rigrun-desk/internal/model"
	"github.com/jeranaias/rigrun-desk/internal/openai"
)

// MaxNameLength bounds a profile name in runes.
const MaxNameLength = 64

var (
	// ErrNotFound is returned for an unknown profile id.
	ErrNotFound = errors.New("profile not found")
	// ErrDeleteSelected is returned when deleting the selected profile.
	ErrDeleteSelected = errors.New("cannot delete the selected profile")
	// ErrDeleteLast is returned when deleting the only remaining profile.
	ErrDeleteLast = errors.New("cannot delete the last profile")
	// ErrNoProfiles is returned by Load when the store is empty.
	ErrNoProfiles = errors.New("no profiles configured")
	// ErrInvalidProfile wraps every validation failure.
	ErrInvalidProfile = errors.New("invalid profile")
)

// Profile is a named, persisted configuration bundle.
type Profile struct {
	ID          string                     `json:"id"`
	Name        string                     `json:"name"`
	ModelName   string                     `json:"model_name"`
	APIEndpoint string                     `json:"api_endpoint"`
	IsDefault   bool                       `json:"is_default"`
	Parameters  model.GenerationParameters `json:"parameters"`
	CreatedAt   time.Time                  `json:"created_at"`
	UpdatedAt   time.Time                  `json:"updated_at"`
}

// New returns an unsaved profile with default parameters. An empty endpoint
// means the public OpenAI endpoint.
func New(name, endpoint, modelName string) Profile {
	if endpoint == "" {
		endpoint = openai.DefaultEndpoint
	}
	return Profile{
		ID:          uuid.NewString(),
		Name:        name,
		ModelName:   modelName,
		APIEndpoint: endpoint,
		Parameters:  model.DefaultParameters(),
	}
}

// Validate checks the user-editable fields. The model selector is kept
// verbatim, including an "ollama:" prefix, and may be empty.
func (p Profile) Validate() error {
	var errs []error

	name := strings.TrimSpace(p.Name)
	switch {
	case name == "":
		errs = append(errs, errors.New("name is required"))
	case len([]rune(name)) > MaxNameLength:
		errs = append(errs, fmt.Errorf("name is longer than %d characters", MaxNameLength))
	}

	if _, err := backend.ValidateEndpoint(p.APIEndpoint); err != nil {
		errs = append(errs, fmt.Errorf("endpoint: %w", err))
	}

	if err := p.Parameters.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidProfile, errors.Join(errs...))
}

// KeyFunc derives the vault key that holds a profile's API key.
type KeyFunc func(profileID string) string

// DefaultKeyFunc stores keys as "api-key-{id}".
func DefaultKeyFunc(profileID string) string {
	return "api-key-" + profileID
}
