// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// Role values for chat messages. The upstream providers only accept these
// three, so anything else is rejected at the API boundary.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatSession is a persisted conversation. Messages are populated on reads
// that request the full session and left nil on metadata-only reads.
type ChatSession struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Archived  bool          `json:"archived"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Messages  []ChatMessage `json:"messages,omitempty"`
}

// ChatMessage is one turn of a conversation. Position is the zero-based
// insertion order within the session and is assigned by the store.
type ChatMessage struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Position    int          `json:"position"`
	CreatedAt   time.Time    `json:"created_at"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a file associated with a message. StorageKey names the file
// under the upload directory; URL is the public path clients fetch it from.
type Attachment struct {
	ID         string    `json:"id"`
	MessageID  string    `json:"message_id"`
	FileName   string    `json:"file_name"`
	MimeType   string    `json:"mime_type"`
	SizeBytes  int64     `json:"size_bytes"`
	URL        string    `json:"url"`
	StorageKey string    `json:"storage_key,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
