// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"
	"testing"
)

func TestRenderResponsePlainWhenColorsDisabled(t *testing.T) {
	ForceColorsEnabled(false)
	t.Cleanup(func() { ForceColorsEnabled(false) })

	resp := "Successfully dropped user: alice"
	if got := RenderResponse(resp); got != resp {
		t.Errorf("RenderResponse altered plain output: %q", got)
	}
}

func TestRenderResponseStylesFirstLineOnly(t *testing.T) {
	ForceColorsEnabled(true)
	t.Cleanup(func() { ForceColorsEnabled(false) })

	resp := "Successfully created new user: alice with host: localhost\nTemporary password (must be changed on first login): abc123XY!@#$"
	got := RenderResponse(resp)

	lines := strings.SplitN(got, "\n", 2)
	if len(lines) != 2 {
		t.Fatalf("continuation line lost: %q", got)
	}
	// Secrets on continuation lines must stay copy-pasteable.
	if lines[1] != "Temporary password (must be changed on first login): abc123XY!@#$" {
		t.Errorf("continuation line styled: %q", lines[1])
	}
}

func TestDisableColors(t *testing.T) {
	ForceColorsEnabled(true)
	t.Cleanup(func() { ForceColorsEnabled(false) })

	DisableColors()
	if ColorsEnabled() {
		t.Fatal("colors still enabled after DisableColors")
	}

	resp := "Error: User not found"
	if got := RenderResponse(resp); got != resp {
		t.Errorf("RenderResponse styled output after DisableColors: %q", got)
	}
}

func TestFirstWord(t *testing.T) {
	if got := firstWord("  logs 7  "); got != "logs" {
		t.Errorf("firstWord = %q", got)
	}
	if got := firstWord(""); got != "" {
		t.Errorf("firstWord of empty = %q", got)
	}
}
