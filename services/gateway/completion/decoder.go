// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package completion

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// doneSentinel terminates an OpenAI-compatible SSE stream.
const doneSentinel = "[DONE]"

// FrameDecoder extracts content deltas from an OpenAI-compatible SSE byte
// stream.
//
// # Description
//
// The upstream response arrives as arbitrarily chunked bytes. The decoder
// reassembles newline-terminated lines, keeps only those with a "data:"
// prefix, and decodes the JSON chunk after the prefix. The "[DONE]" sentinel
// ends the stream. Lines that are not data lines, chunks that fail to parse,
// and chunks without a content delta are all skipped silently; providers
// interleave heartbeats and metadata records that carry no text.
//
// # Limitations
//
//   - A final line without a trailing newline is discarded, matching the
//     framing rule that unterminated bytes are not a frame.
//   - Only choices[0] is inspected; the gateway never requests n > 1.
type FrameDecoder struct {
	r *bufio.Reader
}

// NewFrameDecoder wraps an upstream response body.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{r: bufio.NewReader(r)}
}

// Next returns the next non-empty content delta.
//
// # Outputs
//
//   - string: The delta text.
//   - error: io.EOF at normal end of stream (the "[DONE]" sentinel or
//     underlying EOF); an *UpstreamError for transport failures mid-stream.
func (d *FrameDecoder) Next() (string, error) {
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", &UpstreamError{Err: err}
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == doneSentinel {
			return "", io.EOF
		}

		var chunk openai.ChatCompletionStreamResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
}
