// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testTransport(t *testing.T, cfg TransportConfig) *Transport {
	t.Helper()
	cfg.Logger = zaptest.NewLogger(t)
	return NewTransport(cfg)
}

func TestTransport_DoSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"ping":true}`, string(body))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	tr := testTransport(t, TransportConfig{})
	req := Request{
		Method: http.MethodPost,
		URL:    server.URL,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(`{"ping":true}`),
	}

	body, err := tr.Do(context.Background(), req, "test")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))
}

func TestTransport_DoStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		target error
	}{
		{401, ErrAuthenticationFailed},
		{429, ErrRateLimited},
		{503, ErrServerError},
		{404, ErrRequestFailed},
	}

	for _, tc := range tests {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			tr := testTransport(t, TransportConfig{})
			_, err := tr.Do(context.Background(), Request{Method: http.MethodGet, URL: server.URL}, "test")
			assert.True(t, errors.Is(err, tc.target), "got %v", err)
		})
	}
}

func TestTransport_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	tr := testTransport(t, TransportConfig{})
	_, err = tr.Do(context.Background(), Request{Method: http.MethodGet, URL: "http://" + addr}, "test")
	assert.True(t, errors.Is(err, ErrRequestFailed))

	_, err = tr.Open(context.Background(), Request{Method: http.MethodGet, URL: "http://" + addr}, "test", plainLines)
	assert.True(t, errors.Is(err, ErrRequestFailed))
}

func TestTransport_InvalidURL(t *testing.T) {
	tr := testTransport(t, TransportConfig{})
	_, err := tr.Do(context.Background(), Request{Method: http.MethodGet, URL: "not a url"}, "test")
	assert.True(t, errors.Is(err, ErrInvalidURL))
}

func TestTransport_TimeoutIsRequestFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	tr := testTransport(t, TransportConfig{RequestTimeout: 50 * time.Millisecond})
	_, err := tr.Do(context.Background(), Request{Method: http.MethodGet, URL: server.URL}, "test")
	assert.True(t, errors.Is(err, ErrRequestFailed))
}

func TestTransport_OpenStreamsIncrementally(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "first\n")
		flusher.Flush()
		<-release
		fmt.Fprint(w, "second\n")
	}))
	defer server.Close()
	defer close(release)

	tr := testTransport(t, TransportConfig{})
	stream, err := tr.Open(context.Background(), Request{Method: http.MethodGet, URL: server.URL}, "test", plainLines)
	require.NoError(t, err)
	defer stream.Close()

	// The first fragment arrives while the server is still holding the body open.
	frag, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "first", frag)
}

func TestTransport_OpenCloseDisconnects(t *testing.T) {
	disconnected := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; ; i++ {
			if _, err := fmt.Fprintf(w, "tok%d\n", i); err != nil {
				break
			}
			flusher.Flush()
			select {
			case <-r.Context().Done():
				close(disconnected)
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
		close(disconnected)
	}))
	defer server.Close()

	tr := testTransport(t, TransportConfig{})
	stream, err := tr.Open(context.Background(), Request{Method: http.MethodGet, URL: server.URL}, "test", plainLines)
	require.NoError(t, err)

	_, err = stream.Recv()
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	select {
	case <-disconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("server never observed the client disconnect")
	}
}

func TestTransport_OpenStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer server.Close()

	tr := testTransport(t, TransportConfig{})
	_, err := tr.Open(context.Background(), Request{Method: http.MethodGet, URL: server.URL}, "test", plainLines)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthenticationFailed))
	assert.Contains(t, err.Error(), "bad key")
}

func TestTransport_ResourceTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "a\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	tr := testTransport(t, TransportConfig{ResourceTimeout: 100 * time.Millisecond})
	stream, err := tr.Open(context.Background(), Request{Method: http.MethodGet, URL: server.URL}, "test", plainLines)
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Recv()
	require.NoError(t, err)
	_, err = stream.Recv()
	assert.True(t, errors.Is(err, ErrRequestFailed))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestTransport_Pacing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	tr := testTransport(t, TransportConfig{RequestsPerSecond: 1})
	req := Request{Method: http.MethodGet, URL: server.URL}

	_, err := tr.Do(context.Background(), req, "test")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = tr.Do(ctx, req, "test")
	assert.True(t, errors.Is(err, ErrRequestFailed))
}

func TestTransport_ResponseTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", MaxResponseSize+1)))
	}))
	defer server.Close()

	tr := testTransport(t, TransportConfig{})
	_, err := tr.Do(context.Background(), Request{Method: http.MethodGet, URL: server.URL}, "test")
	assert.True(t, errors.Is(err, ErrInvalidResponse))
}

func TestRedactURLAndFingerprint(t *testing.T) {
	assert.Equal(t, "https://host/v1", redactURL("https://user:pw@host/v1?key=secret"))
	assert.Equal(t, "none", KeyFingerprint(""))
	assert.Len(t, KeyFingerprint("sk-abc"), 8)
	assert.NotContains(t, KeyFingerprint("sk-abc"), "sk")
}
