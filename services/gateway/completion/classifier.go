// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package completion

import "strings"

// Default reasoning markers. The system prompt instructs the model to wrap
// its reasoning in these tags, so they are what the classifier watches for.
const (
	DefaultOpenMarker  = "<thinking>"
	DefaultCloseMarker = "</thinking>"
)

// SpanKind distinguishes user-visible answer text from model reasoning.
type SpanKind int

const (
	// SpanAnswer is user-visible content that becomes part of the persisted
	// assistant message.
	SpanAnswer SpanKind = iota

	// SpanReasoning is model reasoning, streamed for live display but never
	// persisted.
	SpanReasoning
)

// Span is a classified run of text. Text is never empty.
type Span struct {
	Kind SpanKind
	Text string
}

// Classifier splits a stream of content deltas into answer and reasoning
// spans, removing the markers themselves.
//
// # Description
//
// The classifier is a two-state machine (visible, reasoning) that starts in
// the visible state. In the visible state it watches for the open marker, in
// the reasoning state for the close marker; crossing a marker flips the state
// and the marker text is consumed. Markers may arrive split across any number
// of deltas: when a delta ends in a proper prefix of the watched marker, that
// suffix is withheld in a pending buffer and prepended to the next delta.
// The pending buffer is always strictly shorter than the watched marker.
//
// # Thread Safety
//
// Not safe for concurrent use. Each stream owns one classifier.
//
// # Limitations
//
//   - Markers are matched byte-wise; they must be ASCII-unique enough that a
//     marker prefix cannot also end a longer marker occurrence. The default
//     tags satisfy this.
type Classifier struct {
	open      string
	close     string
	reasoning bool
	pending   string
}

// NewClassifier creates a classifier for the given marker pair. Empty
// markers fall back to the defaults.
func NewClassifier(open, close string) *Classifier {
	if open == "" {
		open = DefaultOpenMarker
	}
	if close == "" {
		close = DefaultCloseMarker
	}
	return &Classifier{open: open, close: close}
}

// Feed classifies one content delta.
//
// # Description
//
// Prepends any withheld partial marker, then repeatedly scans for the marker
// watched in the current state, emitting the text before each full marker as
// a span of the current kind and flipping state. Once no full marker remains,
// the longest suffix that is a proper prefix of the watched marker is
// withheld and everything before it is emitted. Empty spans are suppressed.
//
// # Inputs
//
//   - delta: Raw content delta from the upstream decoder. May be empty.
//
// # Outputs
//
//   - []Span: Zero or more non-empty spans in input order.
func (c *Classifier) Feed(delta string) []Span {
	buf := c.pending + delta
	c.pending = ""
	if buf == "" {
		return nil
	}

	var spans []Span
	for {
		marker, kind := c.watched()
		idx := strings.Index(buf, marker)
		if idx < 0 {
			break
		}
		if idx > 0 {
			spans = append(spans, Span{Kind: kind, Text: buf[:idx]})
		}
		buf = buf[idx+len(marker):]
		c.reasoning = !c.reasoning
	}

	marker, kind := c.watched()
	keep := partialMarkerSuffix(buf, marker)
	if cut := len(buf) - keep; cut > 0 {
		spans = append(spans, Span{Kind: kind, Text: buf[:cut]})
	}
	c.pending = buf[len(buf)-keep:]
	return spans
}

// Flush releases the pending buffer at end of stream.
//
// Withheld text that never completed a marker is emitted as a span of the
// current state: text held mid-answer surfaces as answer content, text held
// inside an unterminated reasoning block stays classified as reasoning so it
// is displayed but never persisted.
func (c *Classifier) Flush() []Span {
	if c.pending == "" {
		return nil
	}
	_, kind := c.watched()
	span := Span{Kind: kind, Text: c.pending}
	c.pending = ""
	return []Span{span}
}

// watched returns the marker to scan for and the kind of text accumulated
// in the current state.
func (c *Classifier) watched() (string, SpanKind) {
	if c.reasoning {
		return c.close, SpanReasoning
	}
	return c.open, SpanAnswer
}

// partialMarkerSuffix returns the length of the longest suffix of buf that
// is a proper prefix of marker.
func partialMarkerSuffix(buf, marker string) int {
	max := len(marker) - 1
	if len(buf) < max {
		max = len(buf)
	}
	for l := max; l > 0; l-- {
		if strings.HasSuffix(buf, marker[:l]) {
			return l
		}
	}
	return 0
}
