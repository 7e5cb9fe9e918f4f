// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package textgen abstracts the external text-generation providers behind a
// single Provider interface and coordinates primary/secondary fallback.
package textgen

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noldarim/venturepilot/internal/logger"
	"github.com/noldarim/venturepilot/internal/orchestrator/faults"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetProviderLogger()
		log = &l
	})
	return log
}

// Credentials carries a per-request API key override. When nil the provider
// uses the key it was configured with.
type Credentials struct {
	APIKey string
}

// Request is one text-generation call. The same request can be reissued
// against either provider.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64

	// Credentials overrides the provider's configured key. Stripped before
	// a request is reissued against the secondary provider.
	Credentials *Credentials
}

// Validate checks the request before any provider is called.
func (r *Request) Validate() error {
	if r.Prompt == "" {
		return faults.NewValidationError("prompt", "must not be empty")
	}
	if r.MaxTokens < 0 {
		return faults.NewValidationError("max_tokens", "must not be negative")
	}
	return nil
}

// Usage reports token consumption for one generation call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Result is the outcome of a generation call, tagged with the provider that
// actually served it.
type Result struct {
	Text     string
	Provider string
	Model    string
	Usage    Usage

	// UsedFallback and OriginalError are set when the secondary provider
	// served a request the primary failed.
	UsedFallback  bool
	OriginalError string
}

// Provider is one external text-generation service.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Result, error)
}
