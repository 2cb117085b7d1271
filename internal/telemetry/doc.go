// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides tracing setup and local usage tracking.
//
// SetupTracing installs an OpenTelemetry tracer provider that exports the
// spans opened by the backend transport over OTLP/HTTP. Without it the
// global no-op provider is used.
//
// UsageTracker keeps per-day, per-model request counts and estimated token
// totals in a local JSON file. Message content is never stored.
//
//	tracker, err := telemetry.OpenUsageTracker(path)
//	tracker.Record(telemetry.Call{Model: "gpt-4o", PromptTokens: 120, CompletionTokens: 300})
//	summary := tracker.Summary(7)
package telemetry
