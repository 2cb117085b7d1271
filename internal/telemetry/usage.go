// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/jeranaias/rigrun-desk/internal/util"
)

// RetentionDays is how long daily usage is kept.
const RetentionDays = 90

const dayLayout = "2006-01-02"

// =============================================================================
// TYPES
// =============================================================================

// Call describes one completed backend call.
type Call struct {
	// Model is the selector the call was routed by.
	Model            string
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
	Failed           bool
}

// ModelUsage aggregates calls to one model.
type ModelUsage struct {
	Requests         int           `json:"requests"`
	Failures         int           `json:"failures"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	Duration         time.Duration `json:"duration_ns"`
}

func (u *ModelUsage) add(o ModelUsage) {
	u.Requests += o.Requests
	u.Failures += o.Failures
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.Duration += o.Duration
}

// TotalTokens is prompt plus completion.
func (u ModelUsage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens
}

// AverageLatency is the mean call duration.
func (u ModelUsage) AverageLatency() time.Duration {
	if u.Requests == 0 {
		return 0
	}
	return u.Duration / time.Duration(u.Requests)
}

// Summary aggregates usage over a window.
type Summary struct {
	Days    int                   `json:"days"`
	Total   ModelUsage            `json:"total"`
	ByModel map[string]ModelUsage `json:"by_model"`
}

// Models returns the model names by descending token use.
func (s Summary) Models() []string {
	names := make([]string, 0, len(s.ByModel))
	for name := range s.ByModel {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := s.ByModel[names[i]].TotalTokens(), s.ByModel[names[j]].TotalTokens()
		if a != b {
			return a > b
		}
		return names[i] < names[j]
	})
	return names
}

// =============================================================================
// USAGE TRACKER
// =============================================================================

// UsageTracker records calls per day and model. It is safe for concurrent use.
type UsageTracker struct {
	mu    sync.Mutex
	path  string
	days  map[string]map[string]ModelUsage
	now   func() time.Time
	dirty bool
}

// OpenUsageTracker loads the usage file at path. A missing file starts
// empty; an empty path keeps usage in memory only.
func OpenUsageTracker(path string) (*UsageTracker, error) {
	t := &UsageTracker{
		path: path,
		days: make(map[string]map[string]ModelUsage),
		now:  time.Now,
	}
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read usage: %w", err)
	}
	if err := json.Unmarshal(data, &t.days); err != nil {
		return nil, fmt.Errorf("decode usage %s: %w", path, err)
	}
	if t.days == nil {
		t.days = make(map[string]map[string]ModelUsage)
	}
	return t, nil
}

// Record adds one call to today's totals.
func (t *UsageTracker) Record(c Call) {
	usage := ModelUsage{
		Requests:         1,
		PromptTokens:     c.PromptTokens,
		CompletionTokens: c.CompletionTokens,
		Duration:         c.Duration,
	}
	if c.Failed {
		usage.Failures = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	day := t.now().Format(dayLayout)
	models := t.days[day]
	if models == nil {
		models = make(map[string]ModelUsage)
		t.days[day] = models
	}
	u := models[c.Model]
	u.add(usage)
	models[c.Model] = u
	t.dirty = true
}

// Summary aggregates the last days days, today included.
func (t *UsageTracker) Summary(days int) Summary {
	if days <= 0 {
		days = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{Days: days, ByModel: make(map[string]ModelUsage)}
	today := t.now()
	for i := 0; i < days; i++ {
		for model, u := range t.days[today.AddDate(0, 0, -i).Format(dayLayout)] {
			m := s.ByModel[model]
			m.add(u)
			s.ByModel[model] = m
			s.Total.add(u)
		}
	}
	return s
}

// Save prunes days past RetentionDays and writes the file if anything
// changed.
func (t *UsageTracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.path == "" || !t.dirty {
		return nil
	}

	cutoff := t.now().AddDate(0, 0, -RetentionDays).Format(dayLayout)
	for day := range t.days {
		if day < cutoff {
			delete(t.days, day)
		}
	}

	data, err := json.MarshalIndent(t.days, "", "  ")
	if err != nil {
		return fmt.Errorf("encode usage: %w", err)
	}
	if err := util.AtomicWriteFile(t.path, data, 0600); err != nil {
		return fmt.Errorf("save usage: %w", err)
	}
	t.dirty = false
	return nil
}

// Close saves pending changes.
func (t *UsageTracker) Close() error {
	return t.Save()
}
