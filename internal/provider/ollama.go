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
	Register("ollama", func(cfg Config) (Adapter, error) {
		return NewOllama(cfg), nil
	})
}

// OllamaAdapter invokes a local Ollama instance. Local inference is free,
// so this typically backs the cheapest tier.
type OllamaAdapter struct {
	baseURL string
	client  *http.Client
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int64         `json:"prompt_eval_count"`
	EvalCount       int64         `json:"eval_count"`
}

// NewOllama creates an adapter for local Ollama inference.
func NewOllama(cfg Config) *OllamaAdapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := 300 * time.Second // local inference can be slow
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &OllamaAdapter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *OllamaAdapter) Name() string { return "ollama" }

func (a *OllamaAdapter) Invoke(ctx context.Context, req Request) (*Result, error) {
	body := ollamaChatRequest{
		Model:    req.Model,
		Messages: []ollamaMessage{{Role: "user", Content: req.Payload}},
		Stream:   false,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
		return nil, &APIError{Status: resp.StatusCode, Message: string(respBody)}
	}

	var apiResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("malformed response: %v", err)}
	}

	return &Result{
		Text:        apiResp.Message.Content,
		InputUnits:  apiResp.PromptEvalCount,
		OutputUnits: apiResp.EvalCount,
		Model:       apiResp.Model,
	}, nil
}
