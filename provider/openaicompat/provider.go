// Package openaicompat implements a castellan.Provider for any endpoint
// speaking the OpenAI chat-completions dialect (OpenAI, OpenRouter,
// llama.cpp server, vLLM, etc.).
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/castellan-ai/castellan"
)

// Provider implements castellan.Provider against an OpenAI-compatible API.
type Provider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client

	temperature float64
}

// Compile-time interface check.
var _ castellan.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = t }
}

// New creates a Provider. baseURL is the API root without the
// /chat/completions suffix, e.g. "https://api.openai.com/v1".
func New(baseURL, apiKey, model string, opts ...Option) *Provider {
	p := &Provider{
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		httpClient:  &http.Client{},
		temperature: 0.1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Invoke sends the conversation and returns the first choice's text.
func (p *Provider) Invoke(ctx context.Context, messages []castellan.ChatMessage) (string, error) {
	msgs := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, map[string]string{"role": m.Role, "content": m.Content})
	}
	payload, err := json.Marshal(map[string]any{
		"model":       p.model,
		"messages":    msgs,
		"temperature": p.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openaicompat: marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("openaicompat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openaicompat: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("openaicompat: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("openaicompat: HTTP %d: %s", resp.StatusCode, raw)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("openaicompat: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openaicompat: empty response")
	}
	return parsed.Choices[0].Message.Content, nil
}
