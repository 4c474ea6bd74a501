// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Stream event types emitted on the SSE endpoints. A stream carries exactly
// one "session" event, zero or more "token"/"reasoning" events, and ends with
// exactly one "final" or "error" event.
const (
	EventSession   = "session"
	EventToken     = "token"
	EventReasoning = "reasoning"
	EventFinal     = "final"
	EventError     = "error"
)

// StreamEvent is a single SSE event on the streaming chat endpoints.
//
// # Description
//
// Every event carries the correlation pair (ChatID, MessageID) identifying
// the session and the in-progress assistant message, so clients can route
// events from concurrent streams. Session and final events embed a full
// session snapshot; token and reasoning events carry a content delta; error
// events carry a sanitized message.
//
// # Fields
//
//   - Type: Event type, one of the Event* constants.
//   - ChatID/MessageID: Correlation pair, set on every event.
//   - Content: Delta text for token and reasoning events.
//   - Error: Sanitized failure description for error events.
//   - Session: Full session snapshot for session and final events.
//   - Id: UUID v4, assigned by the writer for ordering and deduplication.
//   - CreatedAt: Unix timestamp in milliseconds, assigned by the writer.
//   - Hash/PrevHash: SHA-256 integrity chain, assigned by the writer.
type StreamEvent struct {
	Type      string       `json:"type"`
	ChatID    string       `json:"chatId"`
	MessageID string       `json:"messageId"`
	Content   string       `json:"content,omitempty"`
	Error     string       `json:"error,omitempty"`
	Session   *ChatSession `json:"session,omitempty"`

	// Metadata populated by the SSE writer.
	Id        string `json:"id,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	Hash      string `json:"hash,omitempty"`
	PrevHash  string `json:"prev_hash,omitempty"`
}
