// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package completion

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

// drainDecoder pulls deltas until the stream ends, returning them and the
// terminal error.
func drainDecoder(d *FrameDecoder) ([]string, error) {
	var deltas []string
	for {
		delta, err := d.Next()
		if err != nil {
			return deltas, err
		}
		deltas = append(deltas, delta)
	}
}

func dataLine(content string) string {
	return `data: {"choices":[{"delta":{"content":` + jsonString(content) + `}}]}` + "\n"
}

func jsonString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return `"` + r.Replace(s) + `"`
}

// =============================================================================
// Frame Decoding Tests
// =============================================================================

// TestFrameDecoder_BasicStream verifies data lines yield deltas in order and
// the sentinel ends the stream cleanly.
func TestFrameDecoder_BasicStream(t *testing.T) {
	stream := dataLine("Hello ") + dataLine("world") + "data: [DONE]\n"

	deltas, err := drainDecoder(NewFrameDecoder(strings.NewReader(stream)))

	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"Hello ", "world"}, deltas)
}

// TestFrameDecoder_ArbitraryChunking verifies the decoder reassembles lines
// regardless of how the transport splits the bytes.
func TestFrameDecoder_ArbitraryChunking(t *testing.T) {
	stream := dataLine("alpha") + dataLine("beta") + "data: [DONE]\n"

	deltas, err := drainDecoder(NewFrameDecoder(iotest.OneByteReader(strings.NewReader(stream))))

	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"alpha", "beta"}, deltas)
}

// TestFrameDecoder_SkipsNonDataLines verifies blank lines, comments, and
// other SSE fields are ignored.
func TestFrameDecoder_SkipsNonDataLines(t *testing.T) {
	stream := ": ping\n" +
		"\n" +
		"event: something\n" +
		dataLine("kept") +
		"\n" +
		"data: [DONE]\n"

	deltas, err := drainDecoder(NewFrameDecoder(strings.NewReader(stream)))

	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"kept"}, deltas)
}

// TestFrameDecoder_SkipsMalformedJSON verifies a broken chunk is skipped
// rather than failing the stream.
func TestFrameDecoder_SkipsMalformedJSON(t *testing.T) {
	stream := "data: {not json\n" +
		dataLine("good") +
		"data: [DONE]\n"

	deltas, err := drainDecoder(NewFrameDecoder(strings.NewReader(stream)))

	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"good"}, deltas)
}

// TestFrameDecoder_SkipsEmptyDeltas verifies chunks with no content (role
// preludes, finish chunks) produce nothing.
func TestFrameDecoder_SkipsEmptyDeltas(t *testing.T) {
	stream := `data: {"choices":[{"delta":{"role":"assistant"}}]}` + "\n" +
		dataLine("text") +
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}` + "\n" +
		`data: {"choices":[]}` + "\n" +
		"data: [DONE]\n"

	deltas, err := drainDecoder(NewFrameDecoder(strings.NewReader(stream)))

	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"text"}, deltas)
}

// TestFrameDecoder_EOFWithoutSentinel verifies underlying EOF ends the
// stream the same way the sentinel does.
func TestFrameDecoder_EOFWithoutSentinel(t *testing.T) {
	stream := dataLine("partial answer")

	deltas, err := drainDecoder(NewFrameDecoder(strings.NewReader(stream)))

	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"partial answer"}, deltas)
}

// TestFrameDecoder_UnterminatedTrailingLine verifies bytes after the last
// newline are not a frame.
func TestFrameDecoder_UnterminatedTrailingLine(t *testing.T) {
	stream := dataLine("complete") + `data: {"choices":[{"delta":{"content":"cut off`

	deltas, err := drainDecoder(NewFrameDecoder(strings.NewReader(stream)))

	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"complete"}, deltas)
}

// TestFrameDecoder_TransportError verifies a mid-stream read failure
// surfaces as an UpstreamError.
func TestFrameDecoder_TransportError(t *testing.T) {
	readErr := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader(dataLine("before")), iotest.ErrReader(readErr))

	deltas, err := drainDecoder(NewFrameDecoder(r))

	assert.Equal(t, []string{"before"}, deltas)
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.ErrorIs(t, upstream.Err, readErr)
}

// TestFrameDecoder_NewlineInContent verifies escaped newlines inside the
// JSON payload survive decoding.
func TestFrameDecoder_NewlineInContent(t *testing.T) {
	stream := dataLine("line one\nline two") + "data: [DONE]\n"

	deltas, err := drainDecoder(NewFrameDecoder(strings.NewReader(stream)))

	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, deltas, 1)
	assert.Equal(t, "line one\nline two", deltas[0])
}
