// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend holds the pieces shared by every model backend: the error
// taxonomy, the transport-neutral wire request, the HTTP transport and the
// pull-based fragment stream.
//
// # Errors
//
// Every failure leaving a backend client is a *Error with one of a closed set
// of kinds. Callers match on kind with errors.Is against the sentinels:
//
//	if errors.Is(err, backend.ErrAuthenticationFailed) {
//	    // ask for a new API key
//	}
//
// HTTP status codes are mapped by ErrorFromStatus and transport failures by
// ErrorFromTransport. Nothing in this package retries.
//
// # Streams
//
// Transport.Open sends a request and returns a *Stream that decodes the body
// one line at a time:
//
//	stream, err := transport.Open(ctx, req, "chat", decodeLine)
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for fragment, err := range stream.All() {
//	    ...
//	}
//
// Closing a stream closes the connection and cancels the request context.
package backend
