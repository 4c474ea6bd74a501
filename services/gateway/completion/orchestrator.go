// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package completion drives chat completions against OpenAI-compatible
// upstream providers: request assembly, SSE frame decoding, and reasoning
// span classification.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/halcyonlabs/halcyon/services/gateway/datatypes"
)

// spanChannelCap bounds the classified-span channel between the producer
// goroutine and the publisher. Backpressure propagates to the upstream read
// when the publisher falls behind.
const spanChannelCap = 32

// Orchestrator turns conversations into completions.
//
// # Description
//
// The orchestrator owns the upstream HTTP calls. Complete runs a buffered
// completion and returns the concatenated answer text with reasoning spans
// removed. Stream returns a bounded channel of classified spans driven by a
// producer goroutine. Both paths share request assembly: system prompt
// first, then the conversation in order, with attachments inlined through
// the resolver for models that accept them.
//
// # Thread Safety
//
// Safe for concurrent use. Each call owns its own decoder and classifier.
type Orchestrator struct {
	// HTTPClient performs upstream requests. The zero value from
	// NewOrchestrator has a timeout generous enough for long streams.
	HTTPClient *http.Client

	// Resolver inlines attachments. Required when any request carries them.
	Resolver *AttachmentResolver

	// GroqBaseURL and OpenAIBaseURL locate the providers. Overridable for
	// tests and self-hosted compatible endpoints.
	GroqBaseURL   string
	OpenAIBaseURL string

	// OpenMarker and CloseMarker are the reasoning tags the classifier
	// watches for. Empty values use the defaults.
	OpenMarker  string
	CloseMarker string
}

// NewOrchestrator creates an orchestrator with default endpoints. The
// GROQ_BASE_URL and OPENAI_BASE_URL environment variables override the
// provider bases.
func NewOrchestrator(resolver *AttachmentResolver) *Orchestrator {
	groqBase := defaultGroqBaseURL
	if v := strings.TrimSpace(os.Getenv("GROQ_BASE_URL")); v != "" {
		groqBase = v
	}
	openaiBase := defaultOpenAIBaseURL
	if v := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); v != "" {
		openaiBase = v
	}
	return &Orchestrator{
		HTTPClient:    &http.Client{Timeout: 5 * time.Minute},
		Resolver:      resolver,
		GroqBaseURL:   groqBase,
		OpenAIBaseURL: openaiBase,
	}
}

// Complete runs a buffered completion.
//
// # Description
//
// Prepends the system prompt, opens the upstream stream, and drains it
// through the decoder and classifier, concatenating answer spans only.
// Transport failures mid-stream end accumulation without failing the call;
// whatever answer text arrived is returned.
//
// # Outputs
//
//   - string: Concatenated answer text, reasoning removed.
//   - error: ErrUnsupportedAttachment, ErrConfiguration,
//     ErrAttachmentUnavailable, or *UpstreamError before any data arrived.
func (o *Orchestrator) Complete(ctx context.Context, conv []datatypes.MessagePayload,
	model ModelChoice, params *datatypes.CompletionParams) (string, error) {
	return o.complete(ctx, withSystemPrompt(conv), model, params)
}

// CompleteRaw runs a buffered completion without prepending the system
// prompt. Used for auxiliary generations such as session titles that need
// full control over the message list.
func (o *Orchestrator) CompleteRaw(ctx context.Context, conv []datatypes.MessagePayload,
	model ModelChoice, params *datatypes.CompletionParams) (string, error) {
	return o.complete(ctx, conv, model, params)
}

func (o *Orchestrator) complete(ctx context.Context, conv []datatypes.MessagePayload,
	model ModelChoice, params *datatypes.CompletionParams) (string, error) {
	tracer := otel.Tracer("halcyon/gateway/completion")
	ctx, span := tracer.Start(ctx, "completion.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("model", model.ID),
		attribute.String("provider", model.Provider.String()),
	)

	body, err := o.openStream(ctx, conv, model, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream open failed")
		return "", err
	}
	defer body.Close()

	var answer strings.Builder
	decoder := NewFrameDecoder(body)
	classifier := NewClassifier(o.OpenMarker, o.CloseMarker)
	for {
		delta, err := decoder.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("upstream stream ended early", "error", err, "model", model.ID)
			}
			break
		}
		for _, s := range classifier.Feed(delta) {
			if s.Kind == SpanAnswer {
				answer.WriteString(s.Text)
			}
		}
	}
	// Pending text inside an unterminated reasoning block stays dropped.
	for _, s := range classifier.Flush() {
		if s.Kind == SpanAnswer {
			answer.WriteString(s.Text)
		}
	}
	return answer.String(), nil
}

// Stream opens a streaming completion.
//
// # Description
//
// Opens the upstream stream, then starts one producer goroutine that drives
// decoder and classifier into a bounded channel. The channel is closed when
// the upstream ends, normally or not; a transport failure mid-stream is
// logged, the classifier is flushed, and whatever arrived stands. The caller
// must drain the channel to completion or the producer goroutine leaks.
//
// # Outputs
//
//   - <-chan Span: Classified spans in upstream order.
//   - error: Same taxonomy as Complete; non-nil means no goroutine started.
func (o *Orchestrator) Stream(ctx context.Context, conv []datatypes.MessagePayload,
	model ModelChoice, params *datatypes.CompletionParams) (<-chan Span, error) {
	tracer := otel.Tracer("halcyon/gateway/completion")
	ctx, span := tracer.Start(ctx, "completion.Stream")
	span.SetAttributes(
		attribute.String("model", model.ID),
		attribute.String("provider", model.Provider.String()),
	)

	body, err := o.openStream(ctx, withSystemPrompt(conv), model, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream open failed")
		span.End()
		return nil, err
	}

	spans := make(chan Span, spanChannelCap)
	go func() {
		defer span.End()
		defer close(spans)
		defer body.Close()

		decoder := NewFrameDecoder(body)
		classifier := NewClassifier(o.OpenMarker, o.CloseMarker)
		for {
			delta, err := decoder.Next()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					slog.Warn("upstream stream ended early", "error", err, "model", model.ID)
					span.RecordError(err)
				}
				break
			}
			for _, s := range classifier.Feed(delta) {
				spans <- s
			}
		}
		for _, s := range classifier.Flush() {
			spans <- s
		}
	}()
	return spans, nil
}

// GenerateTitle produces a short session title from the first user message.
//
// The summary instruction and the question go upstream as a two-message
// buffered completion; only the first non-empty line of the reply counts.
// An empty reply is an error so callers can fall back to a preview title.
func (o *Orchestrator) GenerateTitle(ctx context.Context, question string,
	model ModelChoice) (string, error) {
	conv := []datatypes.MessagePayload{
		{Role: datatypes.RoleSystem, Content: titlePrompt},
		{Role: datatypes.RoleUser, Content: "Question: " + question},
	}
	summary, err := o.CompleteRaw(ctx, conv, model, nil)
	if err != nil {
		return "", err
	}
	title := strings.TrimSpace(strings.SplitN(summary, "\n", 2)[0])
	if title == "" {
		return "", fmt.Errorf("empty title summary from %s", model.ID)
	}
	return title, nil
}

// withSystemPrompt prepends the gateway system prompt to a conversation.
func withSystemPrompt(conv []datatypes.MessagePayload) []datatypes.MessagePayload {
	out := make([]datatypes.MessagePayload, 0, len(conv)+1)
	out = append(out, datatypes.MessagePayload{
		Role:    datatypes.RoleSystem,
		Content: systemPrompt,
	})
	return append(out, conv...)
}

// openStream performs the upstream POST and returns the response body once
// the stream is established.
//
// Steps:
//
//  1. Attachment capability check. Groq-bound conversations with any
//     attachment fail with ErrUnsupportedAttachment before credentials are
//     touched.
//  2. Credential resolution for the provider.
//  3. Request assembly, inlining attachments through the resolver.
//  4. POST with stream enabled; a non-2xx response is drained into an
//     *UpstreamError carrying status and body.
func (o *Orchestrator) openStream(ctx context.Context, conv []datatypes.MessagePayload,
	model ModelChoice, params *datatypes.CompletionParams) (io.ReadCloser, error) {
	if !model.SupportsAttachments() && hasAttachments(conv) {
		return nil, ErrUnsupportedAttachment
	}

	key, err := model.Provider.credentials()
	if err != nil {
		return nil, err
	}

	request, err := o.buildRequest(conv, model, params)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream request: %w", err)
	}

	base := o.GroqBaseURL
	if model.Provider == ProviderOpenAI {
		base = o.OpenAIBaseURL
	}
	url := strings.TrimRight(base, "/") + "/chat/completions"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}
	return resp.Body, nil
}

// buildRequest assembles the provider request. Groq gets plain string
// contents; OpenAI models get multi-part contents when attachments are
// present. Sampling fields the caller left unset are sent with the
// provider defaults.
func (o *Orchestrator) buildRequest(conv []datatypes.MessagePayload, model ModelChoice,
	params *datatypes.CompletionParams) (*openai.ChatCompletionRequest, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(conv))
	for _, msg := range conv {
		if len(msg.Attachments) == 0 || !model.SupportsAttachments() {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    msg.Role,
				Content: msg.Content,
			})
			continue
		}

		parts := make([]openai.ChatMessagePart, 0, len(msg.Attachments)+1)
		if strings.TrimSpace(msg.Content) != "" {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: msg.Content,
			})
		}
		for _, att := range msg.Attachments {
			content, err := o.Resolver.Resolve(att)
			if err != nil {
				return nil, err
			}
			if content.IsImage() {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: content.ImageURL},
				})
			} else {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: content.Text,
				})
			}
		}
		if len(parts) == 0 {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: "",
			})
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:         msg.Role,
			MultiContent: parts,
		})
	}

	// Unset sampling fields fall back to the provider defaults. The caller's
	// struct is copied so EnsureDefaults never mutates request payloads.
	effective := datatypes.DefaultCompletionParams()
	if params != nil {
		copied := *params
		copied.EnsureDefaults()
		effective = &copied
	}

	request := &openai.ChatCompletionRequest{
		Model:            model.ID,
		Messages:         messages,
		Stream:           true,
		Temperature:      *effective.Temperature,
		TopP:             *effective.TopP,
		PresencePenalty:  *effective.PresencePenalty,
		FrequencyPenalty: *effective.FrequencyPenalty,
	}
	if effective.MaxTokens != nil {
		request.MaxTokens = *effective.MaxTokens
	}
	if effective.Seed != nil {
		request.Seed = effective.Seed
	}
	return request, nil
}

// hasAttachments reports whether any message in the conversation carries an
// attachment.
func hasAttachments(conv []datatypes.MessagePayload) bool {
	for _, msg := range conv {
		if len(msg.Attachments) > 0 {
			return true
		}
	}
	return false
}
