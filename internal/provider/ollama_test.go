package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "llama3.2:3b" || req.Stream {
			t.Errorf("unexpected request %+v", req)
		}

		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:           "llama3.2:3b",
			Message:         ollamaMessage{Role: "assistant", Content: "hello"},
			Done:            true,
			PromptEvalCount: 9,
			EvalCount:       4,
		})
	}))
	defer srv.Close()

	a := NewOllama(Config{BaseURL: srv.URL})
	res, err := a.Invoke(context.Background(), Request{Model: "llama3.2:3b", Payload: "hi"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if res.Text != "hello" || res.InputUnits != 9 || res.OutputUnits != 4 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestOllamaServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	a := NewOllama(Config{BaseURL: srv.URL})
	_, err := a.Invoke(context.Background(), Request{Model: "missing"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound {
		t.Errorf("unexpected status %d", apiErr.Status)
	}
}

func TestOllamaUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	a := NewOllama(Config{BaseURL: srv.URL})
	_, err := a.Invoke(context.Background(), Request{Model: "llama3.2:3b"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
