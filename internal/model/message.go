// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-desk/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role is the author of a message, as sent on the wire.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the wire value.
func (r Role) String() string {
	return string(r)
}

// DisplayName is the label shown next to a message.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// ParseRole converts a wire role into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAssistant:
		return RoleAssistant, nil
	case RoleSystem:
		return RoleSystem, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single chat turn. Messages are passed by value and never
// modified after creation; a streamed answer becomes a new Message once the
// stream is drained.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message with a fresh ID and the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage is NewMessage(RoleUser, content).
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// EstimateTokens returns the heuristic token count of the message content.
func (m Message) EstimateTokens() int {
	return EstimateTokens(m.Content)
}

// Preview collapses whitespace and truncates to maxLen runes.
func (m Message) Preview(maxLen int) string {
	return util.TruncateRunes(strings.Join(strings.Fields(m.Content), " "), maxLen)
}
