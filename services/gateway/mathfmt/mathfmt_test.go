// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mathfmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Delimiter Conversion Tests
// =============================================================================

// TestSanitize_InlineMath verifies \( \) becomes $ $ with trimmed inner text.
func TestSanitize_InlineMath(t *testing.T) {
	got := Sanitize(`The identity \( e^{i\pi} + 1 = 0 \) holds.`)

	assert.Equal(t, `The identity $e^{i\pi} + 1 = 0$ holds.`, got)
}

// TestSanitize_DisplayMath verifies \[ \] becomes a $$ block.
func TestSanitize_DisplayMath(t *testing.T) {
	got := Sanitize(`Consider \[ x^2 \] now.`)

	assert.Equal(t, "Consider $$\nx^2\n$$ now.", got)
}

// TestSanitize_MultipleRegions verifies repeated delimiters all convert.
func TestSanitize_MultipleRegions(t *testing.T) {
	got := Sanitize(`\(a\) and \(b\)`)

	assert.Equal(t, `$a$ and $b$`, got)
}

// TestSanitize_UnterminatedDelimiters verifies a dangling opener is left
// verbatim.
func TestSanitize_UnterminatedDelimiters(t *testing.T) {
	assert.Equal(t, `before \( unclosed`, Sanitize(`before \( unclosed`))
	assert.Equal(t, `before \[ unclosed`, Sanitize(`before \[ unclosed`))
}

// TestSanitize_NoMath verifies plain text passes through unchanged.
func TestSanitize_NoMath(t *testing.T) {
	text := "Just prose with $5 and a backslash \\ in it."

	assert.Equal(t, text, Sanitize(text))
}

// =============================================================================
// Environment Wrapping Tests
// =============================================================================

// TestSanitize_WrapsAllowedEnvironment verifies a bare align block gets $$
// delimiters.
func TestSanitize_WrapsAllowedEnvironment(t *testing.T) {
	block := "\\begin{align}\nx &= 1\n\\end{align}"

	got := Sanitize("Solve:\n" + block)

	assert.Equal(t, "Solve:\n$$\n"+block+"\n$$", got)
}

// TestSanitize_AlreadyWrappedEnvironment verifies an align block already
// inside $$ is left alone.
func TestSanitize_AlreadyWrappedEnvironment(t *testing.T) {
	text := "$$\n\\begin{align}\nx &= 1\n\\end{align}\n$$"

	assert.Equal(t, text, Sanitize(text))
}

// TestSanitize_DisallowedEnvironmentUntouched verifies layout environments
// pass through without wrapping.
func TestSanitize_DisallowedEnvironmentUntouched(t *testing.T) {
	text := "\\begin{table}\ncells\n\\end{table}"

	assert.Equal(t, text, Sanitize(text))
}

// TestSanitize_StarredEnvironment verifies starred variants are recognized.
func TestSanitize_StarredEnvironment(t *testing.T) {
	block := "\\begin{equation*}\ny = mx\n\\end{equation*}"

	got := Sanitize(block)

	assert.Equal(t, "$$\n"+block+"\n$$", got)
}

// TestSanitize_UnclosedEnvironment verifies a begin without its end is left
// verbatim.
func TestSanitize_UnclosedEnvironment(t *testing.T) {
	text := "\\begin{align}\nx = 1"

	assert.Equal(t, text, Sanitize(text))
}

// TestSanitize_MatrixInsideCases verifies distinct environments in sequence
// each get wrapped.
func TestSanitize_SequentialEnvironments(t *testing.T) {
	cases := "\\begin{cases}\n1\n\\end{cases}"
	matrix := "\\begin{pmatrix}\n2\n\\end{pmatrix}"

	got := Sanitize(cases + "\nand\n" + matrix)

	assert.Equal(t, "$$\n"+cases+"\n$$\nand\n$$\n"+matrix+"\n$$", got)
}
