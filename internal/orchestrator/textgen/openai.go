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

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider calls the OpenAI chat completions API.
type OpenAIProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAIProvider creates a provider from configuration. A nil client
// falls back to http.DefaultClient.
func NewOpenAIProvider(cfg config.ProviderConfig, client *http.Client) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAIProvider{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  client,
	}
}

// Name returns the provider identifier used in results and events
func (p *OpenAIProvider) Name() string {
	return "openai"
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate issues one chat completion call.
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (*Result, error) {
	messages := make([]openAIMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(openAIRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, faults.NewServiceError(p.Name(), faults.ClassPermanent, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, faults.NewServiceError(p.Name(), faults.ClassPermanent, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.resolveKey(req))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, faults.NewServiceError(p.Name(), faults.Classify(err), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, faults.NewServiceError(p.Name(), faults.ClassTransient, err)
	}

	var parsed openAIResponse
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
	if len(parsed.Choices) == 0 {
		return nil, faults.NewServiceError(p.Name(), faults.ClassTransient,
			fmt.Errorf("response contained no choices"))
	}

	return &Result{
		Text:     parsed.Choices[0].Message.Content,
		Provider: p.Name(),
		Model:    p.model,
		Usage: Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}, nil
}

func (p *OpenAIProvider) resolveKey(req Request) string {
	if req.Credentials != nil && req.Credentials.APIKey != "" {
		return req.Credentials.APIKey
	}
	return p.apiKey
}
