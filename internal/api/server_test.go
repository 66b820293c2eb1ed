package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/corvidlabs/pennywise/internal/config"
	"github.com/corvidlabs/pennywise/internal/events"
	"github.com/corvidlabs/pennywise/internal/provider"
	"github.com/corvidlabs/pennywise/internal/router"
	"github.com/corvidlabs/pennywise/internal/security"
	"github.com/corvidlabs/pennywise/internal/task"
	"github.com/corvidlabs/pennywise/internal/tier"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServer(t *testing.T, jwtSecret []byte) (*Server, [3]*provider.MockAdapter) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.DataDir = t.TempDir()
	cfg.Ledger.Path = ""
	for i := range cfg.Tiers {
		cfg.Tiers[i].ReportsConfidence = true
	}

	mocks := [3]*provider.MockAdapter{
		provider.NewMock("local"),
		provider.NewMock("mini"),
		provider.NewMock("frontier"),
	}
	adapters := map[tier.Tier]provider.Adapter{0: mocks[0], 1: mocks[1], 2: mocks[2]}

	r, err := router.New(cfg, testLogger(), router.WithAdapters(adapters), router.WithoutStore())
	if err != nil {
		t.Fatalf("router.New failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	return NewServer(0, r, jwtSecret, testLogger()), mocks
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := testServer(t, nil)
	w := doJSON(t, s.Handler(), "GET", "/api/status", nil, "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var status map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status["tiers"].(float64) != 3 {
		t.Errorf("expected 3 tiers, got %v", status["tiers"])
	}
}

func TestTiersEndpoint(t *testing.T) {
	s, _ := testServer(t, nil)
	w := doJSON(t, s.Handler(), "GET", "/api/tiers", nil, "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var defs []tier.Definition
	if err := json.Unmarshal(w.Body.Bytes(), &defs); err != nil {
		t.Fatalf("decode tiers: %v", err)
	}
	if len(defs) != 3 || defs[0].Name != "local" {
		t.Errorf("unexpected ladder: %+v", defs)
	}
}

func TestRouteEndpoint(t *testing.T) {
	s, _ := testServer(t, nil)

	w := doJSON(t, s.Handler(), "POST", "/api/route",
		map[string]interface{}{"payload": "what is the capital of France", "category": "lookup"}, "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var profile map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile["suggestedTier"].(float64) != 0 {
		t.Errorf("expected T0 suggestion, got %v", profile["suggestedTier"])
	}
}

func TestRouteEndpointRejectsBadRequests(t *testing.T) {
	s, _ := testServer(t, nil)
	h := s.Handler()

	cases := []map[string]interface{}{
		{"category": "lookup"},                           // no payload
		{"payload": "hi"},                                // no category
		{"payload": "hi", "category": "no-such-category"}, // unmapped
	}
	for i, body := range cases {
		w := doJSON(t, h, "POST", "/api/route", body, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("case %d: expected 400, got %d", i, w.Code)
		}
	}
}

func TestExecuteEndpoint(t *testing.T) {
	s, mocks := testServer(t, nil)
	mocks[0].QueueResult(&provider.Result{
		Text: "Paris", Confidence: 0.95, InputUnits: 10, OutputUnits: 2,
	})

	w := doJSON(t, s.Handler(), "POST", "/api/execute",
		map[string]interface{}{"payload": "capital of France", "category": "lookup"}, "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out task.Outcome
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if out.Result == nil || out.Result.Text != "Paris" {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestExecuteEndpointExhausted(t *testing.T) {
	s, mocks := testServer(t, nil)
	apiErr := &provider.APIError{Status: 500, Message: "down"}
	for _, m := range mocks {
		m.QueueError(apiErr)
	}

	w := doJSON(t, s.Handler(), "POST", "/api/execute",
		map[string]interface{}{"payload": "hi", "category": "lookup"}, "")

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	var out task.Outcome
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if len(out.Attempts) != 3 {
		t.Errorf("expected attempt history in response, got %d", len(out.Attempts))
	}
}

func TestReportAndReset(t *testing.T) {
	s, mocks := testServer(t, nil)
	mocks[0].QueueResult(&provider.Result{
		Text: "ok", Confidence: 0.9, InputUnits: 100, OutputUnits: 20,
	})
	h := s.Handler()

	doJSON(t, h, "POST", "/api/execute",
		map[string]interface{}{"payload": "hi", "category": "lookup"}, "")

	w := doJSON(t, h, "GET", "/api/report", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var report map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report["totalCalls"].(float64) != 1 {
		t.Errorf("expected 1 call in report, got %v", report["totalCalls"])
	}

	if w := doJSON(t, h, "POST", "/api/report/reset", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("reset failed: %d", w.Code)
	}
	w = doJSON(t, h, "GET", "/api/report", nil, "")
	_ = json.Unmarshal(w.Body.Bytes(), &report)
	if report["totalCalls"].(float64) != 0 {
		t.Errorf("expected empty report after reset, got %v", report["totalCalls"])
	}
}

func TestAuthRequiredWhenSecretSet(t *testing.T) {
	secret := []byte("test-secret")
	s, _ := testServer(t, secret)
	h := s.Handler()

	if w := doJSON(t, h, "GET", "/api/report", nil, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	token, _ := security.GenerateToken("ops", security.RoleViewer, secret, time.Hour)
	if w := doJSON(t, h, "GET", "/api/report", nil, token); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with viewer token, got %d", w.Code)
	}

	// Viewers cannot reset the ledger.
	if w := doJSON(t, h, "POST", "/api/report/reset", nil, token); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer reset, got %d", w.Code)
	}

	opToken, _ := security.GenerateToken("ops", security.RoleOperator, secret, time.Hour)
	if w := doJSON(t, h, "POST", "/api/report/reset", nil, opToken); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for operator reset, got %d", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := testServer(t, nil)
	h := s.Handler()

	if w := doJSON(t, h, "POST", "/api/report", nil, ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST report, got %d", w.Code)
	}
	if w := doJSON(t, h, "GET", "/api/execute", nil, ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET execute, got %d", w.Code)
	}
}

func TestEventStreamWS(t *testing.T) {
	s, mocks := testServer(t, nil)
	mocks[0].QueueResult(&provider.Result{
		Text: "ok", Confidence: 0.9, InputUnits: 10, OutputUnits: 2,
	})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + srv.URL[len("http"):] + "/ws/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(100 * time.Millisecond)

	doJSON(t, s.Handler(), "POST", "/api/execute",
		map[string]interface{}{"payload": "hi", "category": "lookup"}, "")

	var ev events.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read event failed: %v", err)
	}
	if ev.Kind != events.KindAttempt {
		t.Errorf("expected attempt event first, got %s", ev.Kind)
	}
}
