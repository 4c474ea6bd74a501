// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the gateway service.
//
// This file contains request and response types for the chat endpoints,
// together with their validation rules. Persisted records live in session.go,
// SSE event types in events.go.
package datatypes

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxMessagesPerRequest is the maximum number of messages in a stateless
	// completion request.
	MaxMessagesPerRequest = 100

	// MaxAttachmentsPerMessage bounds how many files one message may carry.
	MaxAttachmentsPerMessage = 8
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for gateway datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = chatValidate.RegisterValidation("chatrole", validateChatRole)
}

// validateMaxBytes checks byte length (not rune count) so oversized payloads
// are rejected before they reach the store or an upstream provider.
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// validateChatRole restricts message roles to the three the providers accept.
func validateChatRole(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// =============================================================================
// Session Requests
// =============================================================================

// CreateSessionRequest creates a new chat session. Title is optional; the
// store substitutes "New chat" when absent or blank.
type CreateSessionRequest struct {
	Title *string `json:"title" validate:"omitempty,maxbytes"`
}

// Validate checks the request against its validation rules.
func (r *CreateSessionRequest) Validate() error {
	return chatValidate.Struct(r)
}

// =============================================================================
// Message Requests
// =============================================================================

// AttachmentPayload references an uploaded file when appending a message.
// StorageKey is set for files that went through POST /api/uploads; payloads
// without one are treated as remote references.
type AttachmentPayload struct {
	FileName   string `json:"file_name" validate:"required,max=255"`
	MimeType   string `json:"mime_type" validate:"required,max=128"`
	SizeBytes  int64  `json:"size_bytes" validate:"gte=0"`
	URL        string `json:"url" validate:"required,max=2048"`
	StorageKey string `json:"storage_key,omitempty" validate:"omitempty,max=255"`
}

// AppendMessageRequest appends a user message to a session and requests a
// completion for it.
//
// # Fields
//
//   - Content: Required. The user message text, up to 32KB.
//   - Model: Optional. Model identifier; unknown values fall back to the
//     default provider.
//   - Attachments: Optional. Uploaded files to inline into the upstream
//     request. Only models that support attachments accept them.
//   - CompletionParams: Optional. Sampling parameter overrides.
type AppendMessageRequest struct {
	Content          string              `json:"content" validate:"required,maxbytes"`
	Model            string              `json:"model" validate:"omitempty,max=128"`
	Attachments      []AttachmentPayload `json:"attachments" validate:"omitempty,max=8,dive"`
	CompletionParams *CompletionParams   `json:"completion_params" validate:"omitempty"`
}

// Validate checks the request against its validation rules. Content is
// trimmed first so whitespace-only messages fail the required rule.
func (r *AppendMessageRequest) Validate() error {
	r.Content = strings.TrimSpace(r.Content)
	return chatValidate.Struct(r)
}

// RegenerateRequest replaces the content of an existing assistant message by
// re-running the completion that produced it.
type RegenerateRequest struct {
	MessageID        string            `json:"message_id" validate:"required,uuid4"`
	Model            string            `json:"model" validate:"omitempty,max=128"`
	CompletionParams *CompletionParams `json:"completion_params" validate:"omitempty"`
}

// Validate checks the request against its validation rules.
func (r *RegenerateRequest) Validate() error {
	return chatValidate.Struct(r)
}

// =============================================================================
// Stateless Completion
// =============================================================================

// MessagePayload is one turn of a caller-supplied conversation for the
// stateless completion endpoint and for internal prompt assembly.
type MessagePayload struct {
	Role        string              `json:"role" validate:"required,chatrole"`
	Content     string              `json:"content" validate:"maxbytes"`
	Attachments []AttachmentPayload `json:"attachments,omitempty" validate:"omitempty,max=8,dive"`
}

// AIRequest is a stateless completion over caller-supplied messages; nothing
// is persisted.
type AIRequest struct {
	Messages []MessagePayload `json:"messages" validate:"required,min=1,max=100,dive"`
	Model    string           `json:"model" validate:"omitempty,max=128"`
}

// Validate checks the request against its validation rules.
func (r *AIRequest) Validate() error {
	return chatValidate.Struct(r)
}

// AIResponse carries the buffered answer for AIRequest.
type AIResponse struct {
	Response string `json:"response"`
}

// ErrorResponse is the JSON error body for non-streaming endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}
