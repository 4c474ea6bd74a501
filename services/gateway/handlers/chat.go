// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/halcyonlabs/halcyon/services/gateway/completion"
	"github.com/halcyonlabs/halcyon/services/gateway/datatypes"
	"github.com/halcyonlabs/halcyon/services/gateway/mathfmt"
	"github.com/halcyonlabs/halcyon/services/gateway/observability"
	"github.com/halcyonlabs/halcyon/services/gateway/store"
)

// ChatHandler serves the buffered chat endpoints: append, regenerate, and
// the stateless completion.
type ChatHandler struct {
	store  *store.Store
	orch   *completion.Orchestrator
	tracer trace.Tracer
}

// NewChatHandler creates a buffered chat handler. Panics on nil
// dependencies; these are wiring bugs, not runtime conditions.
func NewChatHandler(st *store.Store, orch *completion.Orchestrator) *ChatHandler {
	if st == nil {
		panic("store must not be nil")
	}
	if orch == nil {
		panic("orchestrator must not be nil")
	}
	return &ChatHandler{
		store:  st,
		orch:   orch,
		tracer: otel.Tracer("halcyon/gateway/handlers"),
	}
}

// HandleAppendMessage appends a user message and answers it in one response.
// POST /api/chat/sessions/:id/messages.
//
// Steps:
//
//  1. Parse and validate the body. Empty content is a 400.
//  2. Load the session: absent is 404, archived is 400.
//  3. Resolve the model and check attachment capability against both the
//     new attachments and the stored conversation, before any write.
//  4. Run the buffered completion over the stored conversation plus the
//     new turn. An upstream rejection leaves the store untouched.
//  5. Insert the user message, then the sanitized assistant answer.
//  6. First exchange updates the title; later ones bump UpdatedAt.
//  7. Return the refreshed session.
func (h *ChatHandler) HandleAppendMessage(c *gin.Context) {
	endpoint := observability.EndpointAppend
	ctx, span := h.tracer.Start(c.Request.Context(), "HandleAppendMessage")
	defer span.End()

	sessionID := c.Param("id")
	span.SetAttributes(attribute.String("session.id", sessionID))

	var req datatypes.AppendMessageRequest
	if err := c.BindJSON(&req); err != nil {
		h.recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		h.recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "message content must not be empty"})
		return
	}

	session, err := h.store.GetSessionMeta(ctx, sessionID)
	if err != nil {
		h.respondStoreError(c, span, endpoint, err, sessionID)
		return
	}
	if session.Archived {
		h.recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "session is archived"})
		return
	}

	conversation, err := h.store.FetchConversation(ctx, sessionID)
	if err != nil {
		h.respondStoreError(c, span, endpoint, err, sessionID)
		return
	}

	model := completion.ResolveModel(req.Model)
	span.SetAttributes(attribute.String("model", model.ID))
	if !model.SupportsAttachments() &&
		(len(req.Attachments) > 0 || conversationHasAttachments(conversation)) {
		h.recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "files and images require an OpenAI model"})
		return
	}

	shouldTitle := len(conversation) == 0
	payload := append(conversationToPayload(conversation), datatypes.MessagePayload{
		Role:        datatypes.RoleUser,
		Content:     req.Content,
		Attachments: req.Attachments,
	})

	// The upstream call runs before any write so a provider rejection
	// leaves the session exactly as it was.
	answer, err := h.orch.Complete(ctx, payload, model, req.CompletionParams)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		slog.Error("buffered completion failed", "error", err, "sessionId", sessionID, "model", model.ID)
		h.recordError(endpoint, completionErrorCode(err))
		status, msg := completionErrorStatus(err)
		c.JSON(status, datatypes.ErrorResponse{Error: msg})
		return
	}
	answer = mathfmt.Sanitize(answer)

	if _, err := h.store.InsertMessage(ctx, sessionID, datatypes.RoleUser, req.Content, req.Attachments); err != nil {
		h.respondStoreError(c, span, endpoint, err, sessionID)
		return
	}
	if _, err := h.store.InsertMessage(ctx, sessionID, datatypes.RoleAssistant, answer, nil); err != nil {
		h.respondStoreError(c, span, endpoint, err, sessionID)
		return
	}

	if shouldTitle {
		title := generateSessionTitle(ctx, h.orch, req.Content, model)
		if err := h.store.SetSessionTitle(ctx, sessionID, title); err != nil {
			slog.Warn("failed to set session title", "error", err, "sessionId", sessionID)
		}
	} else if err := h.store.TouchSession(ctx, sessionID); err != nil {
		slog.Warn("failed to touch session", "error", err, "sessionId", sessionID)
	}

	refreshed, err := h.store.FetchSession(ctx, sessionID)
	if err != nil {
		h.respondStoreError(c, span, endpoint, err, sessionID)
		return
	}
	h.recordSuccess(endpoint)
	c.JSON(http.StatusOK, refreshed)
}

// HandleRegenerate re-runs the completion behind the last assistant message
// and replaces its content. POST /api/chat/sessions/:id/regenerate.
func (h *ChatHandler) HandleRegenerate(c *gin.Context) {
	endpoint := observability.EndpointRegenerate
	ctx, span := h.tracer.Start(c.Request.Context(), "HandleRegenerate")
	defer span.End()

	sessionID := c.Param("id")
	span.SetAttributes(attribute.String("session.id", sessionID))

	var req datatypes.RegenerateRequest
	if err := c.BindJSON(&req); err != nil {
		h.recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		h.recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	session, err := h.store.GetSessionMeta(ctx, sessionID)
	if err != nil {
		h.respondStoreError(c, span, endpoint, err, sessionID)
		return
	}
	if session.Archived {
		h.recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "session is archived"})
		return
	}

	conversation, err := h.store.FetchConversation(ctx, sessionID)
	if err != nil {
		h.respondStoreError(c, span, endpoint, err, sessionID)
		return
	}

	truncated, target, status, errMsg := validateRegenerateTarget(conversation, req.MessageID)
	if status != 0 {
		h.recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(status, datatypes.ErrorResponse{Error: errMsg})
		return
	}

	model := completion.ResolveModel(req.Model)
	span.SetAttributes(attribute.String("model", model.ID))
	if !model.SupportsAttachments() && conversationHasAttachments(truncated) {
		h.recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "files and images require an OpenAI model"})
		return
	}

	answer, err := h.orch.Complete(ctx, conversationToPayload(truncated), model, req.CompletionParams)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		slog.Error("regenerate completion failed", "error", err, "sessionId", sessionID, "model", model.ID)
		h.recordError(endpoint, completionErrorCode(err))
		status, msg := completionErrorStatus(err)
		c.JSON(status, datatypes.ErrorResponse{Error: msg})
		return
	}
	answer = mathfmt.Sanitize(answer)

	if err := h.store.UpdateMessageContent(ctx, target.ID, answer); err != nil {
		h.respondStoreError(c, span, endpoint, err, sessionID)
		return
	}
	if err := h.store.TouchSession(ctx, sessionID); err != nil {
		slog.Warn("failed to touch session", "error", err, "sessionId", sessionID)
	}

	refreshed, err := h.store.FetchSession(ctx, sessionID)
	if err != nil {
		h.respondStoreError(c, span, endpoint, err, sessionID)
		return
	}
	h.recordSuccess(endpoint)
	c.JSON(http.StatusOK, refreshed)
}

// HandleAI runs a stateless buffered completion over caller-supplied
// messages. Nothing is persisted. POST /api/ai.
func (h *ChatHandler) HandleAI(c *gin.Context) {
	endpoint := observability.EndpointAI
	ctx, span := h.tracer.Start(c.Request.Context(), "HandleAI")
	defer span.End()

	var req datatypes.AIRequest
	if err := c.BindJSON(&req); err != nil {
		h.recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		h.recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "request must contain at least one message"})
		return
	}

	model := completion.ResolveModel(req.Model)
	span.SetAttributes(attribute.String("model", model.ID))
	if !model.SupportsAttachments() {
		for _, msg := range req.Messages {
			if len(msg.Attachments) > 0 {
				h.recordError(endpoint, observability.ErrorCodeValidation)
				c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "files and images require an OpenAI model"})
				return
			}
		}
	}

	answer, err := h.orch.Complete(ctx, req.Messages, model, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		slog.Error("stateless completion failed", "error", err, "model", model.ID)
		h.recordError(endpoint, completionErrorCode(err))
		status, msg := completionErrorStatus(err)
		c.JSON(status, datatypes.ErrorResponse{Error: msg})
		return
	}

	h.recordSuccess(endpoint)
	c.JSON(http.StatusOK, datatypes.AIResponse{Response: answer})
}

// validateRegenerateTarget checks that messageID names the last message of
// the conversation, that it is an assistant turn, and that a prior turn
// exists to complete from. Returns the truncated conversation and the
// target, or a non-zero HTTP status with a client message.
func validateRegenerateTarget(conversation []datatypes.ChatMessage,
	messageID string) ([]datatypes.ChatMessage, datatypes.ChatMessage, int, string) {
	idx := -1
	for i, msg := range conversation {
		if msg.ID == messageID {
			idx = i
			break
		}
	}
	switch {
	case idx < 0:
		return nil, datatypes.ChatMessage{}, http.StatusNotFound, "message not found"
	case conversation[idx].Role != datatypes.RoleAssistant:
		return nil, datatypes.ChatMessage{}, http.StatusBadRequest, "only assistant messages can be regenerated"
	case idx != len(conversation)-1:
		return nil, datatypes.ChatMessage{}, http.StatusBadRequest, "only the last message can be regenerated"
	case idx == 0:
		return nil, datatypes.ChatMessage{}, http.StatusBadRequest, "no prior messages to complete from"
	}
	return conversation[:idx], conversation[idx], 0, ""
}

// respondStoreError writes the HTTP response for a store failure.
func (h *ChatHandler) respondStoreError(c *gin.Context, span trace.Span,
	endpoint observability.Endpoint, err error, sessionID string) {
	if sessionNotFound(err) {
		h.recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "session not found"})
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "store operation failed")
	slog.Error("store operation failed", "error", err, "sessionId", sessionID)
	h.recordError(endpoint, observability.ErrorCodePersistence)
	c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "internal server error"})
}

func (h *ChatHandler) recordError(endpoint observability.Endpoint, code observability.ErrorCode) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordError(endpoint, code)
		m.RecordRequest(endpoint, false)
	}
}

func (h *ChatHandler) recordSuccess(endpoint observability.Endpoint) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(endpoint, true)
	}
}
