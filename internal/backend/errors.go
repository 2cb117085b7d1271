// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// Kind categorizes backend errors. The set is closed.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidURL
	KindInvalidResponse
	KindRequestFailed
	KindRateLimited
	KindAuthenticationFailed
	KindServerError
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInvalidURL:
		return "invalidURL"
	case KindInvalidResponse:
		return "invalidResponse"
	case KindRequestFailed:
		return "requestFailed"
	case KindRateLimited:
		return "rateLimited"
	case KindAuthenticationFailed:
		return "authenticationFailed"
	case KindServerError:
		return "serverError"
	default:
		return "unknownError"
	}
}

// =============================================================================
// ERROR TYPE
// =============================================================================

// Error is the only error type returned by backend clients.
type Error struct {
	Kind Kind

	// StatusCode is set for errors derived from an HTTP response.
	StatusCode int

	// RetryAfter is the server's hint on 429 responses, zero if absent.
	RetryAfter time.Duration

	// Message is the server-supplied error text, if any.
	Message string

	Cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Kind == KindServerError && e.StatusCode != 0 {
		fmt.Fprintf(&b, "(%d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *Error of the same kind, which makes the
// package sentinels usable with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinel errors for errors.Is checks. They match any *Error of their kind.
var (
	ErrUnknown              = &Error{Kind: KindUnknown}
	ErrInvalidURL           = &Error{Kind: KindInvalidURL}
	ErrInvalidResponse      = &Error{Kind: KindInvalidResponse}
	ErrRequestFailed        = &Error{Kind: KindRequestFailed}
	ErrRateLimited          = &Error{Kind: KindRateLimited}
	ErrAuthenticationFailed = &Error{Kind: KindAuthenticationFailed}
	ErrServerError          = &Error{Kind: KindServerError}
)

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// InvalidURL reports an endpoint that cannot be used for a request.
func InvalidURL(raw string, cause error) *Error {
	return &Error{Kind: KindInvalidURL, Message: fmt.Sprintf("invalid endpoint %q", raw), Cause: cause}
}

// InvalidResponse reports a 2xx body that violates the backend contract.
func InvalidResponse(msg string, cause error) *Error {
	return &Error{Kind: KindInvalidResponse, Message: msg, Cause: cause}
}

// RequestFailed wraps a transport failure or unexpected status.
func RequestFailed(cause error) *Error {
	return &Error{Kind: KindRequestFailed, Cause: cause}
}

// ServerError reports a 5xx status.
func ServerError(status int) *Error {
	return &Error{Kind: KindServerError, StatusCode: status}
}

// ErrorFromStatus maps a non-2xx HTTP response to the taxonomy. body should
// be a bounded excerpt of the response; it is only used for the message.
func ErrorFromStatus(status int, header http.Header, body []byte) *Error {
	msg := apiErrorMessage(body)

	switch {
	case status == http.StatusUnauthorized:
		return &Error{Kind: KindAuthenticationFailed, StatusCode: status, Message: msg}
	case status == http.StatusTooManyRequests:
		return &Error{
			Kind:       KindRateLimited,
			StatusCode: status,
			RetryAfter: parseRetryAfter(header.Get("Retry-After")),
			Message:    msg,
		}
	case status >= 500 && status <= 599:
		return &Error{Kind: KindServerError, StatusCode: status, Message: msg}
	default:
		cause := fmt.Errorf("unexpected status %d %s", status, http.StatusText(status))
		return &Error{Kind: KindRequestFailed, StatusCode: status, Message: msg, Cause: cause}
	}
}

// ErrorFromTransport maps an error from http.Client.Do or a body read. A
// *Error passes through unchanged; everything else (timeouts, DNS, refused
// connections, cancellation) is requestFailed.
func ErrorFromTransport(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return RequestFailed(err)
}

// Classify returns err as a *Error, wrapping anything foreign as unknownError.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return &Error{Kind: KindUnknown, Cause: err}
}

// KindOf returns the kind of err, KindUnknown for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	return Classify(err).Kind
}

// =============================================================================
// CALLER GUIDANCE
// =============================================================================

// Retryable reports whether offering the user a retry makes sense.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRequestFailed, KindRateLimited, KindServerError:
		return true
	default:
		return false
	}
}

// UserMessage returns the text shown to a user for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	e := Classify(err)
	switch e.Kind {
	case KindInvalidURL:
		return "The endpoint URL is not valid. Check the profile settings."
	case KindInvalidResponse:
		return "The server sent a response that could not be understood."
	case KindRequestFailed:
		return "The request failed. Check your connection and try again."
	case KindRateLimited:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("Rate limited. Wait %s before trying again.", e.RetryAfter.Round(time.Second))
		}
		return "Rate limited. Wait a moment before trying again."
	case KindAuthenticationFailed:
		return "Authentication failed. Re-enter the API key for this profile."
	case KindServerError:
		return fmt.Sprintf("The server returned an error (%d). Try again.", e.StatusCode)
	default:
		return "An unknown error occurred."
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// apiErrorMessage pulls the error text out of the two error body shapes the
// backends use: {"error":{"message":"..."}} and {"error":"..."}.
func apiErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(envelope.Error, &text); err == nil {
		return text
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(envelope.Error, &obj); err == nil {
		return obj.Message
	}
	return ""
}

// parseRetryAfter accepts either delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
