// Copyright (C) 2025 Halcyon Labs (dev@halcyonlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Default sampling parameters applied when the caller omits them.
const (
	DefaultTemperature      float32 = 0.7
	DefaultTopP             float32 = 1.0
	DefaultPresencePenalty  float32 = 0.0
	DefaultFrequencyPenalty float32 = 0.0
)

// CompletionParams are the sampling parameters forwarded to the upstream
// provider. Pointer fields distinguish "not set" from zero values; unset
// fields take the defaults above (max tokens and seed stay unset).
type CompletionParams struct {
	Temperature      *float32 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens        *int     `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	TopP             *float32 `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	PresencePenalty  *float32 `json:"presence_penalty,omitempty" validate:"omitempty,gte=-2,lte=2"`
	FrequencyPenalty *float32 `json:"frequency_penalty,omitempty" validate:"omitempty,gte=-2,lte=2"`
	Seed             *int     `json:"seed,omitempty"`
}

// EnsureDefaults fills unset sampling fields with the provider defaults.
// Safe to call on a nil receiver result of DefaultCompletionParams.
func (p *CompletionParams) EnsureDefaults() {
	if p.Temperature == nil {
		v := DefaultTemperature
		p.Temperature = &v
	}
	if p.TopP == nil {
		v := DefaultTopP
		p.TopP = &v
	}
	if p.PresencePenalty == nil {
		v := DefaultPresencePenalty
		p.PresencePenalty = &v
	}
	if p.FrequencyPenalty == nil {
		v := DefaultFrequencyPenalty
		p.FrequencyPenalty = &v
	}
}

// DefaultCompletionParams returns params with every defaultable field set.
func DefaultCompletionParams() *CompletionParams {
	p := &CompletionParams{}
	p.EnsureDefaults()
	return p
}
