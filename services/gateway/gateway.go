// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gateway assembles the streaming chat gateway: store, completion
// orchestrator, handlers, and the gin router.
package gateway

import (
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/halcyonlabs/halcyon/services/gateway/completion"
	"github.com/halcyonlabs/halcyon/services/gateway/handlers"
	"github.com/halcyonlabs/halcyon/services/gateway/middleware"
	"github.com/halcyonlabs/halcyon/services/gateway/observability"
	"github.com/halcyonlabs/halcyon/services/gateway/store"
)

// Config holds the gateway service configuration, read from the
// environment by cmd/gateway.
type Config struct {
	// Port is the HTTP listen port.
	Port int

	// DataDir is the BadgerDB directory.
	DataDir string

	// UploadDir is where uploaded files are stored.
	UploadDir string

	// UploadBaseURL is the public prefix uploads are served from.
	UploadBaseURL string

	// EnableMetrics registers Prometheus metrics and the /metrics route.
	// Disabled in tests to avoid duplicate registration panics.
	EnableMetrics bool
}

// Service is the assembled gateway.
type Service struct {
	config Config
	router *gin.Engine
	store  *store.Store
}

// New assembles a gateway service from the configuration.
//
// Opens the store, builds the completion orchestrator with its attachment
// resolver, constructs all handlers, and registers routes. The caller runs
// it with Run and must Close it on the way out.
func New(cfg Config) (*Service, error) {
	storeCfg := store.DefaultConfig()
	storeCfg.Path = cfg.DataDir
	storeCfg.Logger = slog.Default()
	st, err := store.New(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if cfg.EnableMetrics {
		observability.InitMetrics()
	}

	resolver := completion.NewAttachmentResolver(cfg.UploadDir)
	orch := completion.NewOrchestrator(resolver)

	uploadHandler, err := handlers.NewUploadHandler(cfg.UploadDir, cfg.UploadBaseURL)
	if err != nil {
		st.Close()
		return nil, err
	}

	s := &Service{config: cfg, store: st}
	s.initRouter(orch, uploadHandler)
	return s, nil
}

// initRouter creates the gin engine, applies middleware, and registers all
// routes.
func (s *Service) initRouter(orch *completion.Orchestrator, uploads *handlers.UploadHandler) {
	router := gin.Default()
	router.Use(otelgin.Middleware("gateway-service"))
	router.Use(middleware.CORS())

	sessions := handlers.NewSessionHandler(s.store)
	chat := handlers.NewChatHandler(s.store, orch)
	streaming := handlers.NewStreamingChatHandler(s.store, orch)

	router.GET("/health", sessions.HandleHealth)
	if s.config.EnableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api")
	{
		api.GET("/chat/sessions", sessions.HandleListSessions)
		api.POST("/chat/sessions", sessions.HandleCreateSession)
		api.DELETE("/chat/sessions/:id", sessions.HandleDeleteSession)
		api.POST("/chat/sessions/:id/archive", sessions.HandleArchiveSession)

		api.POST("/chat/sessions/:id/messages", chat.HandleAppendMessage)
		api.POST("/chat/sessions/:id/messages/stream", streaming.HandleAppendMessageStream)
		api.POST("/chat/sessions/:id/regenerate", chat.HandleRegenerate)
		api.POST("/chat/sessions/:id/regenerate/stream", streaming.HandleRegenerateStream)

		api.POST("/ai", chat.HandleAI)
		api.POST("/uploads", uploads.HandleUpload)
	}

	router.Static("/uploads", s.config.UploadDir)

	s.router = router
}

// Run starts the HTTP server and blocks until it stops.
func (s *Service) Run() error {
	defer s.Close()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("starting gateway server", "port", s.config.Port, "dataDir", s.config.DataDir)
	return s.router.Run(addr)
}

// Router returns the underlying gin engine for testing.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Close releases the store. Safe to call after Run returns.
func (s *Service) Close() error {
	return s.store.Close()
}
