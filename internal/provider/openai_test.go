package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}

		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" || req.Stream {
			t.Errorf("unexpected request %+v", req)
		}

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "gpt-4o-mini",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "Paris"}},
			},
			"usage": map[string]int64{"prompt_tokens": 12, "completion_tokens": 3},
		})
	}))
	defer srv.Close()

	a := NewOpenAI(Config{BaseURL: srv.URL, APIKey: "sk-test"})
	res, err := a.Invoke(context.Background(), Request{Model: "gpt-4o-mini", Payload: "capital of France"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if res.Text != "Paris" {
		t.Errorf("unexpected text %q", res.Text)
	}
	if res.InputUnits != 12 || res.OutputUnits != 3 {
		t.Errorf("usage not propagated: %+v", res)
	}
}

func TestOpenAIAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "rate limited", "type": "rate_limit"},
		})
	}))
	defer srv.Close()

	a := NewOpenAI(Config{BaseURL: srv.URL})
	_, err := a.Invoke(context.Background(), Request{Model: "gpt-4o"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusTooManyRequests || apiErr.Message != "rate limited" {
		t.Errorf("unexpected error detail: %+v", apiErr)
	}
}

func TestOpenAIEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer srv.Close()

	a := NewOpenAI(Config{BaseURL: srv.URL})
	_, err := a.Invoke(context.Background(), Request{Model: "gpt-4o"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Errorf("expected APIError for empty choices, got %v", err)
	}
}

func TestOpenAIUnreachable(t *testing.T) {
	// Closed port: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	a := NewOpenAI(Config{BaseURL: srv.URL})
	_, err := a.Invoke(context.Background(), Request{Model: "gpt-4o"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for refused connection, got %v", err)
	}
}

func TestOpenAICancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	a := NewOpenAI(Config{BaseURL: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Invoke(ctx, Request{Model: "gpt-4o"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
