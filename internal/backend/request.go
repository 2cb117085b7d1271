// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Request is a fully built backend request. Builders produce it without I/O
// and without failing; the endpoint is validated when it is sent.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// HTTP converts the request into an *http.Request bound to ctx.
func (r Request) HTTP(ctx context.Context) (*http.Request, error) {
	u, err := ValidateEndpoint(r.URL)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), body)
	if err != nil {
		return nil, InvalidURL(r.URL, err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

// ValidateEndpoint parses raw and checks it is an absolute http(s) URL.
func ValidateEndpoint(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, InvalidURL(raw, errors.New("empty URL"))
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, InvalidURL(raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, InvalidURL(raw, errors.New("scheme must be http or https"))
	}
	if u.Host == "" {
		return nil, InvalidURL(raw, errors.New("missing host"))
	}
	return u, nil
}

// JoinPath appends path to endpoint, dropping any trailing slash first.
func JoinPath(endpoint, path string) string {
	return strings.TrimRight(strings.TrimSpace(endpoint), "/") + path
}
