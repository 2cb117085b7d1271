// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// MaxMessages is the maximum number of messages kept in a conversation.
// Older non-system messages are pruned past this point.
const MaxMessages = 1000

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a chat session with its history and metadata.
// It is not safe for concurrent mutation.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Model is the selector the conversation was held with.
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// NewConversation creates an empty conversation for the given selector.
func NewConversation(selector string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        "conv_" + uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Model:     selector,
		Messages:  make([]Message, 0),
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// Append adds a message to the end of the history.
func (c *Conversation) Append(msg Message) {
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
	c.updateTitle()
	c.pruneOldMessages()
}

// AppendUser appends a new user message and returns it.
func (c *Conversation) AppendUser(content string) Message {
	msg := NewUserMessage(content)
	c.Append(msg)
	return msg
}

// AppendAssistant appends a new assistant message and returns it.
func (c *Conversation) AppendAssistant(content string) Message {
	msg := NewAssistantMessage(content)
	c.Append(msg)
	return msg
}

// History returns a copy of the messages, oldest first.
func (c *Conversation) History() []Message {
	out := make([]Message, len(c.Messages))
	copy(out, c.Messages)
	return out
}

// Last returns the most recent message.
func (c *Conversation) Last() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// RemoveLast drops the most recent message. Used when a request fails and the
// prompt should not stay in the history.
func (c *Conversation) RemoveLast() {
	if len(c.Messages) == 0 {
		return
	}
	c.Messages = c.Messages[:len(c.Messages)-1]
	c.UpdatedAt = time.Now()
}

// Clear removes every message but keeps the identity.
func (c *Conversation) Clear() {
	c.Messages = c.Messages[:0]
	c.UpdatedAt = time.Now()
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.Messages)
}

// =============================================================================
// TOKEN BUDGET
// =============================================================================

// EstimateTokens estimates the token count of the whole history.
func (c *Conversation) EstimateTokens() int {
	return EstimateHistoryTokens(c.Messages)
}

// TrimToBudget drops the oldest non-system messages until the estimate fits in
// maxTokens. System messages and the newest message are always kept, so the
// result can still exceed the budget. Returns the number of dropped messages.
func (c *Conversation) TrimToBudget(maxTokens int) int {
	if maxTokens <= 0 || len(c.Messages) == 0 {
		return 0
	}

	total := c.EstimateTokens()
	if total <= maxTokens {
		return 0
	}

	last := len(c.Messages) - 1
	drop := make(map[int]bool)
	for i := 0; i < last && total > maxTokens; i++ {
		if c.Messages[i].Role == RoleSystem {
			continue
		}
		drop[i] = true
		total -= c.Messages[i].EstimateTokens() + messageOverhead
	}

	if len(drop) == 0 {
		return 0
	}

	kept := make([]Message, 0, len(c.Messages)-len(drop))
	for i, msg := range c.Messages {
		if !drop[i] {
			kept = append(kept, msg)
		}
	}
	c.Messages = kept
	return len(drop)
}

// =============================================================================
// TITLE AND METADATA
// =============================================================================

// updateTitle derives a title from the first user message if none is set.
func (c *Conversation) updateTitle() {
	if c.Title != "" {
		return
	}
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			c.Title = msg.Preview(50)
			return
		}
	}
}

// GetTitle returns the title or a placeholder.
func (c *Conversation) GetTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return "New Conversation"
}

// Preview returns a short preview of the latest user message.
func (c *Conversation) Preview() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i].Preview(100)
		}
	}
	if len(c.Messages) == 0 {
		return "Empty conversation"
	}
	return c.Messages[0].Preview(100)
}

// ConversationMeta holds lightweight metadata for listing.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Preview      string    `json:"preview"`
}

// Meta returns the listing metadata for the conversation.
func (c *Conversation) Meta() ConversationMeta {
	return ConversationMeta{
		ID:           c.ID,
		Title:        c.GetTitle(),
		Model:        c.Model,
		MessageCount: len(c.Messages),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		Preview:      c.Preview(),
	}
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	clone := *c
	clone.Messages = c.History()
	return &clone
}

// pruneOldMessages drops the oldest non-system messages until at most
// MaxMessages of them remain. Surviving messages keep their order.
func (c *Conversation) pruneOldMessages() {
	if len(c.Messages) <= MaxMessages {
		return
	}

	excess := -MaxMessages
	for _, msg := range c.Messages {
		if msg.Role != RoleSystem {
			excess++
		}
	}
	if excess <= 0 {
		return
	}

	kept := make([]Message, 0, len(c.Messages)-excess)
	for _, msg := range c.Messages {
		if excess > 0 && msg.Role != RoleSystem {
			excess--
			continue
		}
		kept = append(kept, msg)
	}
	c.Messages = kept
}
