// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/halcyonlabs/halcyon/services/gateway/datatypes"
	"github.com/halcyonlabs/halcyon/services/gateway/store"
)

// SessionHandler serves session CRUD and the health endpoint.
type SessionHandler struct {
	store  *store.Store
	tracer trace.Tracer
}

// NewSessionHandler creates a session handler. Panics on a nil store; this
// is a wiring bug, not a runtime condition.
func NewSessionHandler(st *store.Store) *SessionHandler {
	if st == nil {
		panic("store must not be nil")
	}
	return &SessionHandler{
		store:  st,
		tracer: otel.Tracer("halcyon/gateway/handlers"),
	}
}

// HandleHealth reports liveness. GET /health.
func (h *SessionHandler) HandleHealth(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleListSessions returns all non-archived sessions, newest activity
// first, with full message history. GET /api/chat/sessions.
func (h *SessionHandler) HandleListSessions(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "HandleListSessions")
	defer span.End()

	sessions, err := h.store.ListSessions(ctx)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to list sessions", "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// HandleCreateSession creates a session. POST /api/chat/sessions.
func (h *SessionHandler) HandleCreateSession(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "HandleCreateSession")
	defer span.End()

	var req datatypes.CreateSessionRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	session, err := h.store.CreateSession(ctx, req.Title)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to create session", "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusCreated, session)
}

// HandleDeleteSession removes a session and its messages.
// DELETE /api/chat/sessions/:id.
func (h *SessionHandler) HandleDeleteSession(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "HandleDeleteSession")
	defer span.End()

	sessionID := c.Param("id")
	if err := h.store.DeleteSession(ctx, sessionID); err != nil {
		if sessionNotFound(err) {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "session not found"})
			return
		}
		span.RecordError(err)
		slog.Error("failed to delete session", "error", err, "sessionId", sessionID)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleArchiveSession marks a session archived.
// POST /api/chat/sessions/:id/archive.
func (h *SessionHandler) HandleArchiveSession(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "HandleArchiveSession")
	defer span.End()

	sessionID := c.Param("id")
	err := h.store.ArchiveSession(ctx, sessionID)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case sessionNotFound(err):
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "session not found"})
	case errors.Is(err, store.ErrAlreadyArchived):
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "session is already archived"})
	default:
		span.RecordError(err)
		slog.Error("failed to archive session", "error", err, "sessionId", sessionID)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "internal server error"})
	}
}
