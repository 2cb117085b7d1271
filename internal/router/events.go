// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"sync"

	"go.uber.org/zap"
)

// EventType identifies what changed.
type EventType int

const (
	// EventConfigurationChanged follows UpdateConfiguration and endpoint changes.
	EventConfigurationChanged EventType = iota
	// EventSelectionChanged follows a selector change, including the fallback
	// applied when Ollama is disabled.
	EventSelectionChanged
	// EventOllamaToggled follows SetOllamaEnabled.
	EventOllamaToggled
	// EventModelsChanged follows any catalog change.
	EventModelsChanged
	// EventRefreshFailed reports a failed Ollama catalog refresh.
	EventRefreshFailed
)

func (t EventType) String() string {
	switch t {
	case EventConfigurationChanged:
		return "configuration_changed"
	case EventSelectionChanged:
		return "selection_changed"
	case EventOllamaToggled:
		return "ollama_toggled"
	case EventModelsChanged:
		return "models_changed"
	case EventRefreshFailed:
		return "refresh_failed"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers after a change has been applied.
type Event struct {
	Type     EventType
	Snapshot Snapshot
	// Models is the catalog, set for EventModelsChanged.
	Models []string
	// Err is set for EventRefreshFailed.
	Err error
}

// subscribers is a callback list. Callbacks run synchronously on the
// goroutine that made the change and must not block.
type subscribers struct {
	mu     sync.Mutex
	next   int
	fns    map[int]func(Event)
	logger *zap.Logger
}

func (s *subscribers) add(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(Event))
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

func (s *subscribers) emit(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	s.logger.Debug("router event", zap.Stringer("type", ev.Type))
	for _, fn := range fns {
		fn(ev)
	}
}
