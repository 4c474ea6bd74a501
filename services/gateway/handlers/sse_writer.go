// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonlabs/halcyon/services/gateway/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing Server-Sent Events to HTTP
// responses.
//
// # Description
//
// SSEWriter abstracts SSE event serialization and writing, enabling
// testability and separation from HTTP response mechanics. Implementations
// handle the SSE wire format (event: type\ndata: json\n\n) internally.
//
// Each event is automatically assigned:
//   - Id: UUID v4 for ordering and deduplication
//   - CreatedAt: Unix timestamp in milliseconds
//   - Hash: SHA-256 hash of event content for integrity
//   - PrevHash: Hash of previous event for chain verification
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. The heartbeat goroutine
// writes keepalives while the request goroutine publishes events.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders before the first write
type SSEWriter interface {
	// WriteEvent writes a single SSE event. Id, CreatedAt, Hash, and
	// PrevHash are populated by the writer; the event is flushed
	// immediately.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteSession writes the initial session snapshot carrying the
	// correlation pair for the stream.
	WriteSession(session *datatypes.ChatSession, chatID, messageID string) error

	// WriteToken writes an answer content delta.
	WriteToken(chatID, messageID, content string) error

	// WriteReasoning writes a reasoning content delta.
	WriteReasoning(chatID, messageID, content string) error

	// WriteFinal writes the terminal event with the refreshed session
	// snapshot. Exactly one of WriteFinal or WriteError ends a stream.
	WriteFinal(session *datatypes.ChatSession, chatID, messageID string) error

	// WriteError writes the terminal error event. The message must already
	// be sanitized for client display.
	WriteError(chatID, messageID, errMsg string) error

	// WriteKeepAlive sends an SSE comment line (": ping") to keep the
	// connection alive through proxies. Comments are not events and do not
	// advance the hash chain.
	WriteKeepAlive() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter implements SSEWriter over an http.ResponseWriter.
//
// The writer maintains a hash chain for integrity verification: each event's
// Hash is the SHA-256 of its content and metadata, and PrevHash links to the
// previous event. A mutex serializes writes so the heartbeat goroutine and
// the publisher cannot interleave frames.
type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

// NewSSEWriter creates an SSEWriter for the given ResponseWriter.
//
// Returns an error when the ResponseWriter does not support http.Flusher;
// streaming is impossible without flushing.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &sseWriter{
		writer:   w,
		flusher:  flusher,
		prevHash: "",
	}, nil
}

// =============================================================================
// Methods
// =============================================================================

// WriteEvent writes a single SSE event to the response.
func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Populate metadata
	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash

	event.Hash = w.computeEventHash(event)
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Write SSE format: event: type\ndata: json\n\n
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// computeEventHash computes the SHA-256 hash of event content.
//
// Covers metadata, the correlation pair, the content fields, and the session
// snapshot (JSON-serialized for consistent hashing). Called before the Hash
// field is set.
func (w *sseWriter) computeEventHash(event datatypes.StreamEvent) string {
	sessionJSON := ""
	if event.Session != nil {
		if data, err := json.Marshal(event.Session); err == nil {
			sessionJSON = string(data)
		}
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.ChatID,
		event.MessageID,
		event.Content,
		event.Error,
		sessionJSON,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// WriteSession writes the initial session snapshot event.
func (w *sseWriter) WriteSession(session *datatypes.ChatSession, chatID, messageID string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      datatypes.EventSession,
		ChatID:    chatID,
		MessageID: messageID,
		Session:   session,
	})
}

// WriteToken writes an answer content delta.
func (w *sseWriter) WriteToken(chatID, messageID, content string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      datatypes.EventToken,
		ChatID:    chatID,
		MessageID: messageID,
		Content:   content,
	})
}

// WriteReasoning writes a reasoning content delta.
func (w *sseWriter) WriteReasoning(chatID, messageID, content string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      datatypes.EventReasoning,
		ChatID:    chatID,
		MessageID: messageID,
		Content:   content,
	})
}

// WriteFinal writes the terminal event with the refreshed session snapshot.
func (w *sseWriter) WriteFinal(session *datatypes.ChatSession, chatID, messageID string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      datatypes.EventFinal,
		ChatID:    chatID,
		MessageID: messageID,
		Session:   session,
	})
}

// WriteError writes the terminal error event.
func (w *sseWriter) WriteError(chatID, messageID, errMsg string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      datatypes.EventError,
		ChatID:    chatID,
		MessageID: messageID,
		Error:     errMsg,
	})
}

// WriteKeepAlive sends a comment line to keep the connection alive.
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// SSE comment format: colon followed by text, then double newline
	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// Sets Content-Type: text/event-stream, disables caching, keeps the
// connection alive, and turns off proxy buffering (X-Accel-Buffering: no).
// Must be called before the first write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEWriter = (*sseWriter)(nil)
