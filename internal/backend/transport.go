// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Transport defaults.
const (
	// DefaultRequestTimeout bounds a blocking request end to end.
	DefaultRequestTimeout = 60 * time.Second

	// DefaultResourceTimeout bounds a whole streaming response.
	DefaultResourceTimeout = 10 * time.Minute

	// MaxResponseSize is the maximum blocking response body size.
	MaxResponseSize = 10 * 1024 * 1024

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 64 * 1024

	tracerName = "github.com/jeranaias/rigrun-desk/internal/backend"
)

// PERFORMANCE: one pooled transport shared by every client so profile
// switches reuse warm connections.
var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ResponseHeaderTimeout: 60 * time.Second,
	TLSClientConfig: &tls.Config{
		MinVersion: tls.VersionTLS12,
	},
}

// =============================================================================
// TRANSPORT CONFIGURATION
// =============================================================================

// TransportConfig holds the transport-level knobs. Zero values take defaults.
type TransportConfig struct {
	// RequestTimeout for blocking calls (default: 60s).
	RequestTimeout time.Duration

	// ResourceTimeout for a whole stream (default: 10m, negative disables).
	ResourceTimeout time.Duration

	// RequestsPerSecond paces outgoing requests. Zero means unlimited.
	RequestsPerSecond float64

	// Burst for the pacer (default: 1).
	Burst int

	// RoundTripper overrides the shared pooled transport.
	RoundTripper http.RoundTripper

	Logger *zap.Logger
	Tracer trace.Tracer
}

// =============================================================================
// TRANSPORT
// =============================================================================

// Transport executes backend requests. It is safe for concurrent use and is
// meant to be shared by every client.
type Transport struct {
	client       *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
	resource     time.Duration
	logger       *zap.Logger
	tracer       trace.Tracer
}

// NewTransport creates a transport from cfg.
func NewTransport(cfg TransportConfig) *Transport {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ResourceTimeout == 0 {
		cfg.ResourceTimeout = DefaultResourceTimeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.RoundTripper == nil {
		cfg.RoundTripper = sharedTransport
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}

	t := &Transport{
		client: &http.Client{
			Transport: cfg.RoundTripper,
			Timeout:   cfg.RequestTimeout,
		},
		// No timeout for streaming; bounded by the resource deadline instead.
		streamClient: &http.Client{
			Transport: cfg.RoundTripper,
		},
		resource: cfg.ResourceTimeout,
		logger:   cfg.Logger,
		tracer:   cfg.Tracer,
	}
	if cfg.RequestsPerSecond > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	return t
}

// Do sends a blocking request and returns the 2xx body. Non-2xx statuses and
// transport failures are mapped to *Error.
func (t *Transport) Do(ctx context.Context, req Request, op string) (body []byte, err error) {
	ctx, span := t.startSpan(ctx, op, req)
	start := time.Now()
	status := 0
	defer func() {
		t.finishSpan(span, status, err)
		t.logCall(op, req, status, time.Since(start), err)
	}()

	httpReq, err := req.HTTP(ctx)
	if err != nil {
		return nil, err
	}
	if err := t.wait(ctx); err != nil {
		return nil, err
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, ErrorFromTransport(err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, ErrorFromStatus(resp.StatusCode, resp.Header, excerpt)
	}

	return readResponse(resp.Body)
}

// Open sends a streaming request and returns a Stream over the 2xx body.
// The returned stream owns the connection; the caller must drain or Close it.
func (t *Transport) Open(ctx context.Context, req Request, op string, decode LineDecoder) (*Stream, error) {
	ctx, span := t.startSpan(ctx, op, req)
	start := time.Now()

	var cancel context.CancelFunc
	if t.resource > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.resource)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	fail := func(status int, err error) (*Stream, error) {
		cancel()
		t.finishSpan(span, status, err)
		t.logCall(op, req, status, time.Since(start), err)
		return nil, err
	}

	httpReq, err := req.HTTP(ctx)
	if err != nil {
		return fail(0, err)
	}
	if err := t.wait(ctx); err != nil {
		return fail(0, err)
	}

	resp, err := t.streamClient.Do(httpReq)
	if err != nil {
		return fail(0, ErrorFromTransport(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return fail(resp.StatusCode, ErrorFromStatus(resp.StatusCode, resp.Header, excerpt))
	}

	status := resp.StatusCode
	stream := NewStream(ctx, resp.Body, decode, cancel)
	stream.OnDone(func(err error) {
		t.finishSpan(span, status, err)
		t.logCall(op, req, status, time.Since(start), err)
	})
	return stream, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (t *Transport) wait(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return RequestFailed(fmt.Errorf("request pacing: %w", err))
	}
	return nil
}

// readResponse reads a bounded body.
func readResponse(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, MaxResponseSize+1))
	if err != nil {
		return nil, ErrorFromTransport(err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, InvalidResponse(fmt.Sprintf("response exceeded maximum size of %d bytes", MaxResponseSize), nil)
	}
	return body, nil
}

func (t *Transport) startSpan(ctx context.Context, op string, req Request) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "backend."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", redactURL(req.URL)),
		),
	)
}

func (t *Transport) finishSpan(span trace.Span, status int, err error) {
	if status != 0 {
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindOf(err).String())
	}
	span.End()
}

// logCall logs a finished call. Headers and bodies are never logged.
func (t *Transport) logCall(op string, req Request, status int, d time.Duration, err error) {
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("method", req.Method),
		zap.String("url", redactURL(req.URL)),
		zap.Int("status", status),
		zap.Duration("duration", d),
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		t.logger.Warn("backend call failed", append(fields, zap.String("kind", KindOf(err).String()), zap.Error(err))...)
		return
	}
	t.logger.Debug("backend call", fields...)
}
