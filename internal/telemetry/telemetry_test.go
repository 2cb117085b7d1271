// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupTracing_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TracingOptions{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestUsageTracker_RecordAndSummary(t *testing.T) {
	tracker, err := OpenUsageTracker("")
	require.NoError(t, err)

	day := time.Date(2024, 7, 10, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return day }

	tracker.Record(Call{Model: "gpt-4o", PromptTokens: 10, CompletionTokens: 40, Duration: time.Second})
	tracker.Record(Call{Model: "gpt-4o", PromptTokens: 5, Duration: 3 * time.Second, Failed: true})
	tracker.Record(Call{Model: "ollama:llama2", PromptTokens: 100, CompletionTokens: 200})

	day = day.AddDate(0, 0, -3)
	tracker.Record(Call{Model: "gpt-4o", PromptTokens: 1000})
	day = day.AddDate(0, 0, 3)

	s := tracker.Summary(1)
	assert.Equal(t, 3, s.Total.Requests)
	assert.Equal(t, 1, s.Total.Failures)
	assert.Equal(t, 355, s.Total.TotalTokens())

	gpt := s.ByModel["gpt-4o"]
	assert.Equal(t, 2, gpt.Requests)
	assert.Equal(t, 2*time.Second, gpt.AverageLatency())
	assert.Equal(t, []string{"ollama:llama2", "gpt-4o"}, s.Models())

	week := tracker.Summary(7)
	assert.Equal(t, 4, week.Total.Requests)
	assert.Equal(t, []string{"gpt-4o", "ollama:llama2"}, week.Models())
}

func TestUsageTracker_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")

	tracker, err := OpenUsageTracker(path)
	require.NoError(t, err)
	day := time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return day }

	require.NoError(t, tracker.Save())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "nothing written without changes")

	tracker.Record(Call{Model: "m", PromptTokens: 7})
	require.NoError(t, tracker.Close())

	reopened, err := OpenUsageTracker(path)
	require.NoError(t, err)
	reopened.now = tracker.now
	assert.Equal(t, 7, reopened.Summary(1).Total.PromptTokens)
}

func TestUsageTracker_PrunesOldDays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	tracker, err := OpenUsageTracker(path)
	require.NoError(t, err)

	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return day }
	tracker.Record(Call{Model: "old"})

	day = day.AddDate(0, 0, RetentionDays+1)
	tracker.Record(Call{Model: "new"})
	require.NoError(t, tracker.Save())

	reopened, err := OpenUsageTracker(path)
	require.NoError(t, err)
	assert.Len(t, reopened.days, 1)
}

func TestUsageTracker_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0600))
	_, err := OpenUsageTracker(path)
	assert.Error(t, err)
}
