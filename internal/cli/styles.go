// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigrun-desk/internal/util"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(14)

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	HighlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82"))

	// PromptStyle is the chat input prompt. liner measures the prompt, so it
	// is only used for banners, never passed to Prompt.
	PromptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)
)

// =============================================================================
// HELPERS
// =============================================================================

// Separator returns a horizontal rule of the given width.
func Separator(width int) string {
	return DimStyle.Render(strings.Repeat("-", width))
}

// FormatKeyValue renders "label   value".
func FormatKeyValue(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}

// column pads s to width display cells, truncating with an ellipsis.
func column(s string, width int) string {
	return util.PadWidth(util.TruncateWidth(s, width), width)
}

// marker renders a selection marker.
func marker(on bool) string {
	if on {
		return HighlightStyle.Render("*")
	}
	return " "
}
