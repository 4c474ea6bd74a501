// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mathfmt normalizes LaTeX math delimiters in model output to the
// dollar-sign forms Markdown math renderers accept.
package mathfmt

import "strings"

// allowedEnvironments are the LaTeX math environments kept and wrapped in
// display-math delimiters. Layout environments (table, figure, document) are
// deliberately absent; the system prompt forbids them and anything unknown
// passes through untouched.
var allowedEnvironments = []string{
	"align",
	"align*",
	"aligned",
	"cases",
	"gather",
	"gather*",
	"multline",
	"multline*",
	"equation",
	"equation*",
	"pmatrix",
	"bmatrix",
	"vmatrix",
	"matrix",
}

// Sanitize rewrites LaTeX bracket delimiters in an assistant answer.
//
// # Description
//
// Three passes, in order:
//
//  1. Inline math: \( ... \) becomes $ ... $ with the inner text trimmed.
//  2. Display math: \[ ... \] becomes a $$ block with the inner text trimmed.
//  3. Bare \begin{env}...\end{env} blocks for allowed math environments are
//     wrapped in $$ unless already surrounded by it.
//
// Unterminated delimiters are left as-is from the opening marker onward.
func Sanitize(text string) string {
	inline := convertMathBlock(text, `\(`, `\)`, "$", "$")
	display := convertMathBlock(inline, `\[`, `\]`, "$$\n", "\n$$")
	return wrapAllowedEnvironments(display)
}

// convertMathBlock replaces every open/close delimited region with
// prefix+trimmed inner+suffix. An opening marker without a matching close
// marker is copied through verbatim.
func convertMathBlock(text, open, close, prefix, suffix string) string {
	var result strings.Builder
	result.Grow(len(text))
	idx := 0
	for {
		relStart := strings.Index(text[idx:], open)
		if relStart < 0 {
			break
		}
		start := idx + relStart
		result.WriteString(text[idx:start])
		innerStart := start + len(open)
		relEnd := strings.Index(text[innerStart:], close)
		if relEnd < 0 {
			result.WriteString(text[start:])
			return result.String()
		}
		end := innerStart + relEnd
		result.WriteString(prefix)
		result.WriteString(strings.TrimSpace(text[innerStart:end]))
		result.WriteString(suffix)
		idx = end + len(close)
	}
	result.WriteString(text[idx:])
	return result.String()
}

// wrapAllowedEnvironments surrounds allowed \begin{env}...\end{env} blocks
// with $$ delimiters when they are not already inside a $$ pair.
func wrapAllowedEnvironments(text string) string {
	const beginMarker = `\begin{`

	var result strings.Builder
	result.Grow(len(text) + 32)
	cursor := 0
	for {
		relStart := strings.Index(text[cursor:], beginMarker)
		if relStart < 0 {
			break
		}
		start := cursor + relStart
		envNameStart := start + len(beginMarker)
		envNameEndRel := strings.Index(text[envNameStart:], "}")
		if envNameEndRel >= 0 {
			envNameEnd := envNameStart + envNameEndRel
			envName := text[envNameStart:envNameEnd]
			if isAllowedEnvironment(envName) {
				endMarker := `\end{` + envName + `}`
				if endRel := strings.Index(text[envNameEnd+1:], endMarker); endRel >= 0 {
					blockEnd := envNameEnd + 1 + endRel + len(endMarker)
					result.WriteString(text[cursor:start])

					hasPrefix := strings.HasSuffix(strings.TrimRight(text[:start], " \t\r\n"), "$$")
					hasSuffix := strings.HasPrefix(strings.TrimLeft(text[blockEnd:], " \t\r\n"), "$$")

					if hasPrefix && hasSuffix {
						result.WriteString(text[start:blockEnd])
					} else {
						result.WriteString("$$\n")
						result.WriteString(text[start:blockEnd])
						result.WriteString("\n$$")
					}
					cursor = blockEnd
					continue
				}
			}
		}

		// Not a wrappable block: copy the marker and keep scanning after it.
		fallbackEnd := min(start+len(beginMarker), len(text))
		result.WriteString(text[cursor:fallbackEnd])
		cursor = fallbackEnd
	}
	result.WriteString(text[cursor:])
	return result.String()
}

func isAllowedEnvironment(name string) bool {
	for _, env := range allowedEnvironments {
		if name == env {
			return true
		}
	}
	return false
}
