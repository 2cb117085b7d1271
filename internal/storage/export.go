// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-desk/internal/model"
)

// ExportMarkdown renders a conversation as Markdown with one section per
// message.
func ExportMarkdown(c *model.Conversation) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", c.GetTitle())
	if c.Model != "" {
		fmt.Fprintf(&sb, "Model: `%s`  \n", c.Model)
	}
	fmt.Fprintf(&sb, "Created: %s\n\n---\n\n", c.CreatedAt.Format(time.RFC3339))

	for _, msg := range c.Messages {
		fmt.Fprintf(&sb, "**%s** (%s):\n\n", msg.Role.DisplayName(), msg.Timestamp.Format("15:04"))
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}
