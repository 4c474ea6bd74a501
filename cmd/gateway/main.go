// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command gateway starts the streaming chat gateway server.
//
// Usage:
//
//	go run ./cmd/gateway
//	go run ./cmd/gateway -port 9090
//
// With a Groq key (default model backend):
//
//	GROQ_API_KEY=gsk_... go run ./cmd/gateway
//
// With OpenAI models and attachments:
//
//	GROQ_API_KEY=gsk_... OPENAI_API_KEY=sk-... go run ./cmd/gateway
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8000/health
//
//	# Create a session
//	curl -X POST http://localhost:8000/api/chat/sessions \
//	  -H "Content-Type: application/json" -d '{}'
//
//	# Stream a completion
//	curl -N -X POST http://localhost:8000/api/chat/sessions/<id>/messages/stream \
//	  -H "Content-Type: application/json" \
//	  -d '{"content": "Explain the Fourier transform"}'
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/halcyonlabs/halcyon/services/gateway"
)

func main() {
	port := flag.Int("port", envInt("GATEWAY_PORT", 8000), "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg := gateway.Config{
		Port:          *port,
		DataDir:       envString("GATEWAY_DATA_DIR", "./data/gateway"),
		UploadDir:     envString("GATEWAY_UPLOAD_DIR", "./data/uploads"),
		UploadBaseURL: envString("GATEWAY_UPLOAD_BASE_URL", "/uploads"),
		EnableMetrics: true,
	}

	svc, err := gateway.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize the gateway: %v", err)
	}

	if err := svc.Run(); err != nil {
		log.Fatalf("Gateway server stopped: %v", err)
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using fallback", "key", key, "value", v, "fallback", fallback)
		return fallback
	}
	return n
}
