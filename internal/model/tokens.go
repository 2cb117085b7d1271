// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "unicode/utf8"

// CharsPerToken is the divisor of the token heuristic.
const CharsPerToken = 4

// messageOverhead approximates the per-message framing both APIs add.
const messageOverhead = 4

// EstimateTokens approximates the token count of text as ceil(runes/4).
// It is not tokenizer-exact.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}

// EstimateHistoryTokens sums the estimate over a message slice, including a
// small fixed overhead per message.
func EstimateHistoryTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += m.EstimateTokens() + messageOverhead
	}
	return total
}
