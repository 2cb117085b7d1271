// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewMessage(t *testing.T) {
	a := NewUserMessage("Hello")
	b := NewUserMessage("Hello")

	assert.Equal(t, RoleUser, a.Role)
	assert.Equal(t, "Hello", a.Content)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.Timestamp.IsZero())
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"user", RoleUser, false},
		{"Assistant", RoleAssistant, false},
		{" system ", RoleSystem, false},
		{"tool", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseRole(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMessage_Preview(t *testing.T) {
	msg := NewUserMessage("line one\nline   two")
	assert.Equal(t, "line one line two", msg.Preview(50))
	assert.Equal(t, "line ...", msg.Preview(8))
}

// =============================================================================
// TOKEN TESTS
// =============================================================================

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
		{"héllo", 2},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, EstimateTokens(tc.text), "text %q", tc.text)
	}
}

func TestConversation_TrimToBudget(t *testing.T) {
	conv := NewConversation("gpt-4o-mini")
	conv.Append(NewSystemMessage("sys"))
	conv.AppendUser(strings.Repeat("a", 40))
	conv.AppendAssistant(strings.Repeat("b", 40))
	conv.AppendUser(strings.Repeat("c", 8))

	require.Equal(t, 39, conv.EstimateTokens())

	dropped := conv.TrimToBudget(25)
	assert.Equal(t, 1, dropped)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, RoleSystem, conv.Messages[0].Role)
	assert.Equal(t, RoleAssistant, conv.Messages[1].Role)
	assert.LessOrEqual(t, conv.EstimateTokens(), 25)
}

func TestConversation_TrimToBudget_KeepsNewest(t *testing.T) {
	conv := NewConversation("m")
	conv.AppendUser(strings.Repeat("a", 40))
	conv.AppendUser(strings.Repeat("b", 400))

	dropped := conv.TrimToBudget(10)
	assert.Equal(t, 1, dropped)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, strings.Repeat("b", 400), conv.Messages[0].Content)
}

func TestConversation_TrimToBudget_NoOp(t *testing.T) {
	conv := NewConversation("m")
	conv.AppendUser("hi")
	assert.Equal(t, 0, conv.TrimToBudget(1000))
	assert.Equal(t, 0, conv.TrimToBudget(0))
	assert.Equal(t, 1, conv.Len())
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestConversation_HistoryIsCopy(t *testing.T) {
	conv := NewConversation("m")
	conv.AppendUser("first")

	history := conv.History()
	history[0].Content = "changed"

	assert.Equal(t, "first", conv.Messages[0].Content)
}

func TestConversation_Title(t *testing.T) {
	conv := NewConversation("m")
	assert.Equal(t, "New Conversation", conv.GetTitle())

	conv.Append(NewSystemMessage("be brief"))
	conv.AppendUser("What is the capital of France?")
	conv.AppendUser("And Spain?")

	assert.Equal(t, "What is the capital of France?", conv.GetTitle())
	assert.Equal(t, "And Spain?", conv.Preview())

	meta := conv.Meta()
	assert.Equal(t, 3, meta.MessageCount)
	assert.Equal(t, "m", meta.Model)
}

func TestConversation_RemoveLastAndClear(t *testing.T) {
	conv := NewConversation("m")
	conv.AppendUser("one")
	conv.AppendAssistant("two")

	conv.RemoveLast()
	last, ok := conv.Last()
	require.True(t, ok)
	assert.Equal(t, "one", last.Content)

	conv.Clear()
	_, ok = conv.Last()
	assert.False(t, ok)
	conv.RemoveLast()
}

func TestConversation_Prune(t *testing.T) {
	conv := NewConversation("m")
	conv.Append(NewSystemMessage("sys"))
	for i := 0; i < MaxMessages+5; i++ {
		conv.AppendUser("x")
	}

	assert.Equal(t, MaxMessages+1, conv.Len())
	assert.Equal(t, RoleSystem, conv.Messages[0].Role)
}

func TestConversation_PruneKeepsOrder(t *testing.T) {
	conv := NewConversation("m")
	for i := 0; i < MaxMessages; i++ {
		conv.AppendUser(strconv.Itoa(i))
	}
	conv.Append(NewSystemMessage("late"))
	conv.AppendUser("last")

	require.Equal(t, MaxMessages+1, conv.Len())
	assert.Equal(t, "1", conv.Messages[0].Content, "oldest user message dropped")
	assert.Equal(t, "late", conv.Messages[MaxMessages-1].Content)
	assert.Equal(t, RoleSystem, conv.Messages[MaxMessages-1].Role)
	assert.Equal(t, "last", conv.Messages[MaxMessages].Content)
}

func TestConversation_Clone(t *testing.T) {
	conv := NewConversation("m")
	conv.AppendUser("hello")

	clone := conv.Clone()
	clone.Messages[0].Content = "bye"
	assert.Equal(t, "hello", conv.Messages[0].Content)
	assert.Equal(t, conv.ID, clone.ID)
}

// =============================================================================
// PARAMETER TESTS
// =============================================================================

func TestDefaultParameters_Valid(t *testing.T) {
	assert.NoError(t, DefaultParameters().Validate())
}

func TestParameters_Validate(t *testing.T) {
	p := GenerationParameters{Temperature: 3, MaxTokens: 0, TopP: 1.5, FrequencyPenalty: -3, PresencePenalty: 2.5}
	err := p.Validate()
	require.Error(t, err)

	for _, field := range []string{"temperature", "max_tokens", "top_p", "frequency_penalty", "presence_penalty"} {
		assert.Contains(t, err.Error(), field)
	}

	var pe *ParameterError
	assert.True(t, errors.As(err, &pe))
}
