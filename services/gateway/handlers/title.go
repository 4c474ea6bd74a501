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

	"github.com/halcyonlabs/halcyon/services/gateway/completion"
)

// previewTitleMaxChars caps the fallback title length in runes.
const previewTitleMaxChars = 60

// generateSessionTitle produces a title for a session's first exchange.
//
// Tries a concise model-generated summary first; any failure falls back to a
// truncated preview of the question. Title generation never fails the parent
// request.
func generateSessionTitle(ctx context.Context, orch *completion.Orchestrator,
	question string, model completion.ModelChoice) string {
	title, err := orch.GenerateTitle(ctx, question, model)
	if err != nil {
		slog.Warn("title summary failed, using preview", "error", err, "model", model.ID)
		return previewChatTitle(question)
	}
	return title
}

// previewChatTitle truncates the first user message to a displayable title,
// appending an ellipsis when cut.
func previewChatTitle(message string) string {
	runes := []rune(message)
	if len(runes) <= previewTitleMaxChars {
		return message
	}
	return string(runes[:previewTitleMaxChars]) + "…"
}
