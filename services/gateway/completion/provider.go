// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package completion

import (
	"fmt"
	"os"
	"strings"
)

// Provider identifies an upstream completion API.
type Provider int

const (
	// ProviderGroq serves the default fast model. It rejects attachments.
	ProviderGroq Provider = iota

	// ProviderOpenAI serves the GPT model family and accepts attachments.
	ProviderOpenAI
)

// String returns the provider name for logs and metrics labels.
func (p Provider) String() string {
	if p == ProviderOpenAI {
		return "openai"
	}
	return "groq"
}

// Model identifiers the gateway accepts. Anything else resolves to the
// default Groq model.
const (
	ModelGroqLlama = "llama-3.1-8b-instant"
	ModelGPT51     = "gpt-5.1"
	ModelGPT5Mini  = "gpt-5-mini"
	ModelGPT5Nano  = "gpt-5-nano"
	ModelGPT5Pro   = "gpt-5-pro"
	ModelGPT5      = "gpt-5"
	ModelGPT41     = "gpt-4.1"
)

// ModelChoice is a resolved model with its owning provider.
type ModelChoice struct {
	ID       string
	Provider Provider
}

// SupportsAttachments reports whether the model accepts inline attachments.
// Only the OpenAI models take multi-part content.
func (m ModelChoice) SupportsAttachments() bool {
	return m.Provider == ProviderOpenAI
}

// openaiModels is the closed set of accepted OpenAI model identifiers.
var openaiModels = map[string]struct{}{
	ModelGPT51:    {},
	ModelGPT5Mini: {},
	ModelGPT5Nano: {},
	ModelGPT5Pro:  {},
	ModelGPT5:     {},
	ModelGPT41:    {},
}

// ResolveModel maps a requested model string to a ModelChoice.
//
// Matching is case-insensitive on the trimmed input. Empty and unknown
// identifiers resolve to the default Groq model rather than erroring, so a
// stale client never loses the ability to chat.
func ResolveModel(requested string) ModelChoice {
	id := strings.ToLower(strings.TrimSpace(requested))
	if _, ok := openaiModels[id]; ok {
		return ModelChoice{ID: id, Provider: ProviderOpenAI}
	}
	return ModelChoice{ID: ModelGroqLlama, Provider: ProviderGroq}
}

// Default endpoint bases. Overridable through the environment and, for
// tests, directly on the Orchestrator.
const (
	defaultGroqBaseURL   = "https://api.groq.com/openai/v1"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
)

// Credential sources per provider: environment variable first, podman-style
// secret file as fallback.
const (
	groqKeyEnv      = "GROQ_API_KEY"
	openaiKeyEnv    = "OPENAI_API_KEY"
	openaiSecretFmt = "/run/secrets/%s"
)

// apiKey resolves a provider credential.
//
// # Description
//
// Checks the environment variable first, then falls back to the mounted
// secret file (the lowercased variable name under /run/secrets). Returns
// ErrConfiguration when neither source yields a key, so handlers can map the
// failure without inspecting provider internals.
func apiKey(envVar string) (string, error) {
	if key := strings.TrimSpace(os.Getenv(envVar)); key != "" {
		return key, nil
	}
	path := fmt.Sprintf(openaiSecretFmt, strings.ToLower(envVar))
	if data, err := os.ReadFile(path); err == nil {
		if key := strings.TrimSpace(string(data)); key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("%s not set: %w", envVar, ErrConfiguration)
}

// credentials returns the API key for the provider.
func (p Provider) credentials() (string, error) {
	if p == ProviderOpenAI {
		return apiKey(openaiKeyEnv)
	}
	return apiKey(groqKeyEnv)
}
