// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/noldarim/venturepilot/internal/config"
	"github.com/noldarim/venturepilot/internal/orchestrator/faults"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"
	anthropicDefaultTokens  = 4096
)

// AnthropicProvider calls the Anthropic messages API.
type AnthropicProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewAnthropicProvider creates a provider from configuration. A nil client
// falls back to http.DefaultClient.
func NewAnthropicProvider(cfg config.ProviderConfig, client *http.Client) *AnthropicProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &AnthropicProvider{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  client,
	}
}

// Name returns the provider identifier used in results and events
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate issues one messages API call.
func (p *AnthropicProvider) Generate(ctx context.Context, req Request) (*Result, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		// The messages API rejects requests without max_tokens.
		maxTokens = anthropicDefaultTokens
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       p.model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, faults.NewServiceError(p.Name(), faults.ClassPermanent, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, faults.NewServiceError(p.Name(), faults.ClassPermanent, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.resolveKey(req))
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, faults.NewServiceError(p.Name(), faults.Classify(err), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, faults.NewServiceError(p.Name(), faults.ClassTransient, err)
	}

	var parsed anthropicResponse
	if resp.StatusCode != http.StatusOK {
		apiMessage := string(respBody)
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error != nil {
			apiMessage = parsed.Error.Message
		}
		return nil, faults.NewServiceError(p.Name(), faults.ClassifyHTTPStatus(resp.StatusCode),
			fmt.Errorf("status %d: %s", resp.StatusCode, apiMessage))
	}

	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, faults.NewServiceError(p.Name(), faults.ClassTransient, err)
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return nil, faults.NewServiceError(p.Name(), faults.ClassTransient,
			fmt.Errorf("response contained no text content"))
	}

	return &Result{
		Text:     text,
		Provider: p.Name(),
		Model:    p.model,
		Usage: Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		},
	}, nil
}

func (p *AnthropicProvider) resolveKey(req Request) string {
	if req.Credentials != nil && req.Credentials.APIKey != "" {
		return req.Credentials.APIKey
	}
	return p.apiKey
}
