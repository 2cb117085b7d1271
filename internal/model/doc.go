// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by every backend:
// chat messages, generation parameters and conversations.
//
// # Key Types
//
//   - Message: immutable chat turn with role, content and timestamp
//   - GenerationParameters: sampling knobs sent with every request
//   - Conversation: ordered history with a token budget helper
//
// # Usage
//
//	conv := model.NewConversation("gpt-4o-mini")
//	conv.Append(model.NewUserMessage("Hello!"))
//	conv.TrimToBudget(4096)
//	history := conv.History()
//
// Token counts in this package are estimates (roughly four characters per
// token). They are good enough for trimming context, not for billing.
package model
