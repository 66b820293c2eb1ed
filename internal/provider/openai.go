package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

func init() {
	Register("openai", func(cfg Config) (Adapter, error) {
		return NewOpenAI(cfg), nil
	})
}

// OpenAIAdapter invokes any OpenAI-compatible chat completions endpoint
// (OpenAI, OpenRouter, Together, vLLM, ...). It does not report a native
// confidence signal; tiers backed by it should leave ReportsConfidence
// unset.
type OpenAIAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
	Stream    bool            `json:"stream"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

type openAIErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewOpenAI creates an adapter for an OpenAI-compatible endpoint.
func NewOpenAI(cfg Config) *OpenAIAdapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := 300 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &OpenAIAdapter{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *OpenAIAdapter) Name() string { return "openai" }

func (a *OpenAIAdapter) Invoke(ctx context.Context, req Request) (*Result, error) {
	body := openAIRequest{
		Model:     req.Model,
		Messages:  []openAIMessage{{Role: "user", Content: req.Payload}},
		MaxTokens: req.MaxTokens,
		Stream:    false,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr openAIErrorBody
		_ = json.Unmarshal(respBody, &apiErr)
		msg := apiErr.Error.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	if len(apiResp.Choices) == 0 {
		return nil, &APIError{Status: resp.StatusCode, Message: "no choices in response"}
	}

	return &Result{
		Text:        apiResp.Choices[0].Message.Content,
		InputUnits:  apiResp.Usage.PromptTokens,
		OutputUnits: apiResp.Usage.CompletionTokens,
		Model:       apiResp.Model,
	}, nil
}
