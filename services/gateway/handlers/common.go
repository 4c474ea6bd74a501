// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the gateway's HTTP endpoints: session CRUD,
// buffered and streamed chat completions, uploads, and health.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/halcyonlabs/halcyon/services/gateway/completion"
	"github.com/halcyonlabs/halcyon/services/gateway/datatypes"
	"github.com/halcyonlabs/halcyon/services/gateway/observability"
	"github.com/halcyonlabs/halcyon/services/gateway/store"
)

// heartbeatInterval is how often keepalive comments are sent on open SSE
// streams. 15s stays under common load balancer idle timeouts (60s).
const heartbeatInterval = 15 * time.Second

// completionErrorStatus maps a completion failure to an HTTP status and a
// client-safe message. Internal details stay in the logs.
func completionErrorStatus(err error) (int, string) {
	var upstream *completion.UpstreamError
	switch {
	case errors.Is(err, completion.ErrUnsupportedAttachment):
		return http.StatusBadRequest, "files and images require an OpenAI model"
	case errors.Is(err, completion.ErrConfiguration):
		return http.StatusInternalServerError, "provider credentials not configured"
	case errors.Is(err, completion.ErrAttachmentUnavailable):
		return http.StatusInternalServerError, "attachment content unavailable"
	case errors.As(err, &upstream):
		if upstream.Status > 0 {
			return http.StatusBadGateway, fmt.Sprintf("upstream error: HTTP %d - %s", upstream.Status, upstream.Body)
		}
		return http.StatusBadGateway, "upstream request failed"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// completionErrorCode maps a completion failure to a metrics error code.
func completionErrorCode(err error) observability.ErrorCode {
	var upstream *completion.UpstreamError
	switch {
	case errors.Is(err, completion.ErrUnsupportedAttachment):
		return observability.ErrorCodeValidation
	case errors.Is(err, completion.ErrConfiguration):
		return observability.ErrorCodeConfiguration
	case errors.Is(err, completion.ErrAttachmentUnavailable):
		return observability.ErrorCodeAttachment
	case errors.As(err, &upstream):
		return observability.ErrorCodeUpstream
	default:
		return observability.ErrorCodeInternal
	}
}

// conversationToPayload converts stored messages into the payload form the
// completion orchestrator consumes.
func conversationToPayload(messages []datatypes.ChatMessage) []datatypes.MessagePayload {
	payload := make([]datatypes.MessagePayload, 0, len(messages))
	for _, msg := range messages {
		payload = append(payload, datatypes.MessagePayload{
			Role:        msg.Role,
			Content:     msg.Content,
			Attachments: attachmentsToPayload(msg.Attachments),
		})
	}
	return payload
}

// attachmentsToPayload converts stored attachment records back into payload
// references for prompt assembly.
func attachmentsToPayload(attachments []datatypes.Attachment) []datatypes.AttachmentPayload {
	if len(attachments) == 0 {
		return nil
	}
	payload := make([]datatypes.AttachmentPayload, 0, len(attachments))
	for _, att := range attachments {
		payload = append(payload, datatypes.AttachmentPayload{
			FileName:   att.FileName,
			MimeType:   att.MimeType,
			SizeBytes:  att.SizeBytes,
			URL:        att.URL,
			StorageKey: att.StorageKey,
		})
	}
	return payload
}

// conversationHasAttachments reports whether any stored message carries an
// attachment. Used for the model capability precondition before anything is
// persisted.
func conversationHasAttachments(messages []datatypes.ChatMessage) bool {
	for _, msg := range messages {
		if len(msg.Attachments) > 0 {
			return true
		}
	}
	return false
}

// sessionNotFound reports whether a store error means the session is absent.
func sessionNotFound(err error) bool {
	return errors.Is(err, store.ErrSessionNotFound)
}
