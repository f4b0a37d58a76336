// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Centralized styling for the BDL console.
package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// DisableColors forces plain output regardless of terminal detection.
// Honoured when the operator sets ui.color_enabled = false.
func DisableColors() {
	ForceColorsEnabled(false)
	lipgloss.SetColorProfile(termenv.Ascii)
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for the banner and section headers.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	// SuccessStyle colours successful command responses.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")). // Green
			Bold(true)

	// ErrorStyle colours failed command responses.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)

	// DimStyle is used for hints and secondary information.
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242")) // Dim gray

	// PromptStyle colours the input prompt.
	PromptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75")) // Blue
)

// RenderResponse styles a dispatcher response by its outcome prefix. The
// first line carries the verdict; continuation lines (temporary passwords,
// auth keys) stay unstyled so they can be copied cleanly.
func RenderResponse(resp string) string {
	if !ColorsEnabled() {
		return resp
	}

	first, rest, multi := strings.Cut(resp, "\n")
	switch {
	case strings.HasPrefix(first, "Error:"):
		first = ErrorStyle.Render(first)
	case strings.HasPrefix(first, "Successfully"):
		first = SuccessStyle.Render(first)
	}
	if multi {
		return first + "\n" + rest
	}
	return first
}
