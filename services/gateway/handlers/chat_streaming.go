// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

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

// StreamingChatHandler serves the SSE chat endpoints.
//
// # Description
//
// Both streamed endpoints follow the same shape: validate before touching
// the store, open the upstream stream before persisting anything (a provider
// rejection must leave no partial state), then persist, emit the session
// snapshot, republish classified spans as token/reasoning events, and close
// with a final snapshot or an error event.
//
// Client disconnects do not stop the pipeline: event writes fail silently
// while accumulation and persistence run to completion, so a refresh shows
// the full answer.
type StreamingChatHandler struct {
	store  *store.Store
	orch   *completion.Orchestrator
	tracer trace.Tracer
}

// NewStreamingChatHandler creates a streaming chat handler. Panics on nil
// dependencies.
func NewStreamingChatHandler(st *store.Store, orch *completion.Orchestrator) *StreamingChatHandler {
	if st == nil {
		panic("store must not be nil")
	}
	if orch == nil {
		panic("orchestrator must not be nil")
	}
	return &StreamingChatHandler{
		store:  st,
		orch:   orch,
		tracer: otel.Tracer("halcyon/gateway/handlers"),
	}
}

// HandleAppendMessageStream appends a user message and streams the answer.
// POST /api/chat/sessions/:id/messages/stream.
//
// Steps:
//
//  1. Parse and validate the body; load the session and conversation.
//     Failures here are plain HTTP errors, nothing has been written yet.
//  2. Open the upstream stream. A rejection is a plain HTTP error and no
//     message is persisted.
//  3. Insert the user message and an empty assistant placeholder; update
//     the title on the first exchange (before the snapshot, so the client
//     sees it immediately).
//  4. Switch to SSE: session snapshot, then token/reasoning events from the
//     classified span channel, with keepalives from a heartbeat goroutine.
//  5. Persist the concatenated answer into the placeholder and emit the
//     final snapshot, or an error event if persistence fails.
func (h *StreamingChatHandler) HandleAppendMessageStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointAppendStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleAppendMessageStream")
	defer span.End()

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
		}
	}()

	sessionID := c.Param("id")
	span.SetAttributes(attribute.String("session.id", sessionID))

	// Step 1: validate before any write.
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

	payload := append(conversationToPayload(conversation), datatypes.MessagePayload{
		Role:        datatypes.RoleUser,
		Content:     req.Content,
		Attachments: req.Attachments,
	})

	// Step 2: open upstream before persisting, so a rejection leaves no
	// partial state. The detached context keeps the upstream read and the
	// persistence below alive when the client disconnects mid-stream.
	streamCtx := context.WithoutCancel(ctx)
	spans, err := h.orch.Stream(streamCtx, payload, model, req.CompletionParams)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream open failed")
		slog.Error("streamed completion failed to open", "error", err, "sessionId", sessionID, "model", model.ID)
		h.recordError(endpoint, completionErrorCode(err))
		status, msg := completionErrorStatus(err)
		c.JSON(status, datatypes.ErrorResponse{Error: msg})
		return
	}

	// Step 3: persist the turn and the placeholder the stream fills in.
	userMsg, err := h.store.InsertMessage(streamCtx, sessionID, datatypes.RoleUser, req.Content, req.Attachments)
	if err != nil {
		drainSpans(spans)
		h.respondStoreError(c, span, endpoint, err, sessionID)
		return
	}
	placeholder, err := h.store.InsertMessage(streamCtx, sessionID, datatypes.RoleAssistant, "", nil)
	if err != nil {
		drainSpans(spans)
		h.respondStoreError(c, span, endpoint, err, sessionID)
		return
	}

	if len(conversation) == 0 {
		title := generateSessionTitle(streamCtx, h.orch, userMsg.Content, model)
		if err := h.store.SetSessionTitle(streamCtx, sessionID, title); err != nil {
			slog.Warn("failed to set session title", "error", err, "sessionId", sessionID)
		}
	} else if err := h.store.TouchSession(streamCtx, sessionID); err != nil {
		slog.Warn("failed to touch session", "error", err, "sessionId", sessionID)
	}

	snapshot, err := h.store.FetchSession(streamCtx, sessionID)
	if err != nil {
		drainSpans(spans)
		h.respondStoreError(c, span, endpoint, err, sessionID)
		return
	}

	// Step 4 and 5: SSE from here on.
	h.streamAndPersist(ctx, c, span, endpoint, streamParams{
		sessionID: sessionID,
		messageID: placeholder.ID,
		model:     model,
		snapshot:  &snapshot,
		spans:     spans,
		startTime: startTime,
		success:   &success,
	})
}

// HandleRegenerateStream re-runs the last assistant turn and streams the
// replacement. POST /api/chat/sessions/:id/regenerate/stream.
func (h *StreamingChatHandler) HandleRegenerateStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointRegenerateStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleRegenerateStream")
	defer span.End()

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
		}
	}()

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

	streamCtx := context.WithoutCancel(ctx)
	spans, err := h.orch.Stream(streamCtx, conversationToPayload(truncated), model, req.CompletionParams)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream open failed")
		slog.Error("streamed regenerate failed to open", "error", err, "sessionId", sessionID, "model", model.ID)
		h.recordError(endpoint, completionErrorCode(err))
		status, msg := completionErrorStatus(err)
		c.JSON(status, datatypes.ErrorResponse{Error: msg})
		return
	}

	if err := h.store.TouchSession(streamCtx, sessionID); err != nil {
		slog.Warn("failed to touch session", "error", err, "sessionId", sessionID)
	}

	// The snapshot shows the target message emptied; its replacement
	// streams in behind it.
	snapshot, err := h.store.FetchSession(streamCtx, sessionID)
	if err != nil {
		drainSpans(spans)
		h.respondStoreError(c, span, endpoint, err, sessionID)
		return
	}
	for i := range snapshot.Messages {
		if snapshot.Messages[i].ID == target.ID {
			snapshot.Messages[i].Content = ""
			break
		}
	}

	h.streamAndPersist(ctx, c, span, endpoint, streamParams{
		sessionID: sessionID,
		messageID: target.ID,
		model:     model,
		snapshot:  &snapshot,
		spans:     spans,
		startTime: startTime,
		success:   &success,
	})
}

// streamParams bundles per-stream state for streamAndPersist.
type streamParams struct {
	sessionID string
	messageID string
	model     completion.ModelChoice
	snapshot  *datatypes.ChatSession
	spans     <-chan completion.Span
	startTime time.Time
	success   *bool
}

// streamAndPersist runs the SSE phase of a streamed completion: session
// snapshot, span republishing, persistence, terminal event.
//
// Write failures after the stream begins mean the client went away; they
// are counted once and otherwise ignored so accumulation and persistence
// still complete.
func (h *StreamingChatHandler) streamAndPersist(ctx context.Context, c *gin.Context,
	span trace.Span, endpoint observability.Endpoint, p streamParams) {
	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		drainSpans(p.spans)
		h.recordError(endpoint, observability.ErrorCodeInternal)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "streaming not supported"})
		return
	}

	clientGone := false
	write := func(fn func() error) {
		if err := fn(); err != nil {
			if !clientGone {
				clientGone = true
				slog.Debug("client disconnected mid-stream", "sessionId", p.sessionID)
				if m := observability.DefaultMetrics; m != nil {
					m.RecordClientDisconnect(endpoint)
				}
			}
		}
	}

	write(func() error {
		return writer.WriteSession(p.snapshot, p.sessionID, p.messageID)
	})

	heartbeatDone := make(chan struct{})
	go h.runHeartbeat(ctx, writer, endpoint, heartbeatDone)

	var answer []byte
	answerDeltas, reasoningDeltas := 0, 0
	var firstTokenTime time.Time
	for s := range p.spans {
		if firstTokenTime.IsZero() {
			firstTokenTime = time.Now()
			if m := observability.DefaultMetrics; m != nil {
				m.RecordTimeToFirstToken(endpoint, firstTokenTime.Sub(p.startTime).Seconds())
			}
		}
		switch s.Kind {
		case completion.SpanAnswer:
			answerDeltas++
			answer = append(answer, s.Text...)
			text := s.Text
			write(func() error {
				return writer.WriteToken(p.sessionID, p.messageID, text)
			})
		case completion.SpanReasoning:
			reasoningDeltas++
			text := s.Text
			write(func() error {
				return writer.WriteReasoning(p.sessionID, p.messageID, text)
			})
		}
	}
	close(heartbeatDone)

	if m := observability.DefaultMetrics; m != nil {
		m.RecordDeltas(answerDeltas, reasoningDeltas, p.model.ID)
	}

	// Persistence runs on a detached context: the answer is saved whether
	// or not anyone is still listening.
	persistCtx := context.WithoutCancel(ctx)
	final := mathfmt.Sanitize(string(answer))
	if err := h.store.UpdateMessageContent(persistCtx, p.messageID, final); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist answer failed")
		slog.Error("failed to persist streamed answer", "error", err,
			"sessionId", p.sessionID, "messageId", p.messageID)
		h.recordError(endpoint, observability.ErrorCodePersistence)
		write(func() error {
			return writer.WriteError(p.sessionID, p.messageID, "failed to save the answer")
		})
		return
	}

	finalSession, err := h.store.FetchSession(persistCtx, p.sessionID)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to fetch final session", "error", err, "sessionId", p.sessionID)
		h.recordError(endpoint, observability.ErrorCodePersistence)
		write(func() error {
			return writer.WriteError(p.sessionID, p.messageID, "failed to load the session")
		})
		return
	}

	write(func() error {
		return writer.WriteFinal(&finalSession, p.sessionID, p.messageID)
	})
	*p.success = true
	slog.Info("stream completed",
		"sessionId", p.sessionID,
		"messageId", p.messageID,
		"model", p.model.ID,
		"answerDeltas", answerDeltas,
		"reasoningDeltas", reasoningDeltas,
		"clientGone", clientGone,
		"duration", time.Since(p.startTime),
	)
}

// runHeartbeat sends periodic keepalive pings until done closes or the
// write fails. Runs in its own goroutine; the SSE writer's mutex keeps
// pings from interleaving with events.
func (h *StreamingChatHandler) runHeartbeat(ctx context.Context, writer SSEWriter,
	endpoint observability.Endpoint, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("failed to write keepalive", "error", err)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive(endpoint)
			}
		}
	}
}

// drainSpans consumes a span channel so the producer goroutine can exit.
// Used on error paths after the upstream stream was already opened.
func drainSpans(spans <-chan completion.Span) {
	go func() {
		for range spans {
		}
	}()
}

// respondStoreError writes the HTTP response for a store failure occurring
// before the SSE phase begins.
func (h *StreamingChatHandler) respondStoreError(c *gin.Context, span trace.Span,
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

func (h *StreamingChatHandler) recordError(endpoint observability.Endpoint, code observability.ErrorCode) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordError(endpoint, code)
	}
}
