// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/rigrun-desk/internal/backend"
	"github.com/jeranaias/rigrun-desk/internal/config"
	"github.com/jeranaias/rigrun-desk/internal/profile"
	"github.com/jeranaias/rigrun-desk/internal/router"
	"github.com/jeranaias/rigrun-desk/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4
	ExitNetworkError  = 5
	ExitNotFoundError = 7
	ExitCancelled     = 130
)

// UsageError is returned for invalid arguments.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

func usageErrorf(format string, args ...any) error {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	var usage *UsageError
	var verrs config.ValidateErrors
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, context.Canceled):
		return ExitCancelled
	case errors.As(err, &usage):
		return ExitUsageError
	case errors.As(err, &verrs):
		return ExitConfigError
	case errors.Is(err, profile.ErrNotFound), errors.Is(err, storage.ErrConversationNotFound):
		return ExitNotFoundError
	}

	switch backend.KindOf(err) {
	case backend.KindAuthenticationFailed:
		return ExitAuthError
	case backend.KindRequestFailed, backend.KindRateLimited, backend.KindServerError:
		return ExitNetworkError
	case backend.KindInvalidURL:
		return ExitConfigError
	}
	return ExitGeneralError
}

// FormatError returns the text shown for err. Backend errors get the
// user-facing message; verbose adds the underlying detail.
func FormatError(err error, verbose bool) string {
	var be *backend.Error
	if !errors.As(err, &be) {
		return ErrorStyle.Render("Error: ") + err.Error()
	}

	msg := backend.UserMessage(err)
	if errors.Is(err, router.ErrOllamaDisabled) {
		msg = "The Ollama backend is disabled. Enable it with: rigdesk config set ollama.enabled true"
	}
	out := ErrorStyle.Render("Error: ") + msg
	if verbose {
		out += "\n" + DimStyle.Render(err.Error())
	}
	return out
}
