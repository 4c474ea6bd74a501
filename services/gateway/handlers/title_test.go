// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Title Fallback Tests
// =============================================================================

// TestPreviewChatTitle_ShortMessage verifies short messages pass through
// unchanged.
func TestPreviewChatTitle_ShortMessage(t *testing.T) {
	assert.Equal(t, "Quick question", previewChatTitle("Quick question"))
}

// TestPreviewChatTitle_LongMessageTruncated verifies truncation at the rune
// limit with an ellipsis.
func TestPreviewChatTitle_LongMessageTruncated(t *testing.T) {
	long := strings.Repeat("a", 100)

	got := previewChatTitle(long)

	assert.Equal(t, strings.Repeat("a", previewTitleMaxChars)+"…", got)
}

// TestPreviewChatTitle_MultibyteSafe verifies truncation counts runes, not
// bytes.
func TestPreviewChatTitle_MultibyteSafe(t *testing.T) {
	long := strings.Repeat("ä", 100)

	got := previewChatTitle(long)

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, previewTitleMaxChars+1, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
}

// TestPreviewChatTitle_ExactLimit verifies a message exactly at the limit is
// not cut.
func TestPreviewChatTitle_ExactLimit(t *testing.T) {
	exact := strings.Repeat("b", previewTitleMaxChars)

	assert.Equal(t, exact, previewChatTitle(exact))
}
