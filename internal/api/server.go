// Package api exposes the ops HTTP surface: routing, reports, tier and
// health introspection, and a live event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/corvidlabs/pennywise/internal/classify"
	"github.com/corvidlabs/pennywise/internal/ledger"
	"github.com/corvidlabs/pennywise/internal/router"
	"github.com/corvidlabs/pennywise/internal/security"
	"github.com/corvidlabs/pennywise/internal/task"
	"github.com/corvidlabs/pennywise/internal/tier"
)

// Server is the HTTP API server
type Server struct {
	port       int
	router     *router.Router
	logger     *slog.Logger
	jwtSecret  []byte
	httpServer *http.Server
	started    time.Time
}

// NewServer creates a new API server. A nil jwtSecret disables auth.
func NewServer(port int, r *router.Router, jwtSecret []byte, logger *slog.Logger) *Server {
	return &Server{
		port:      port,
		router:    r,
		jwtSecret: jwtSecret,
		logger:    logger.With("component", "api"),
	}
}

// Handler builds the full middleware-wrapped handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	auth := security.AuthMiddleware(s.jwtSecret)
	viewer := security.RequireRole(security.RoleViewer)
	operator := security.RequireRole(security.RoleOperator)

	mux.Handle("/api/status", viewer(http.HandlerFunc(s.handleStatus)))
	mux.Handle("/api/tiers", viewer(http.HandlerFunc(s.handleTiers)))
	mux.Handle("/api/health", viewer(http.HandlerFunc(s.handleHealth)))
	mux.Handle("/api/report", viewer(http.HandlerFunc(s.handleReport)))
	mux.Handle("/api/attempts", viewer(http.HandlerFunc(s.handleAttempts)))
	mux.Handle("/api/route", viewer(http.HandlerFunc(s.handleRoute)))
	mux.Handle("/api/execute", operator(http.HandlerFunc(s.handleExecute)))
	mux.Handle("/api/report/reset", operator(http.HandlerFunc(s.handleReset)))
	mux.HandleFunc("/ws/events", s.handleEventsWS)

	return s.corsMiddleware(s.loggingMiddleware(auth(mux)))
}

// Start starts the HTTP server and blocks until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.started = time.Now()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "port", s.port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleStatus returns system status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	report := s.router.Report()
	status := map[string]interface{}{
		"version":        "0.1.0",
		"uptimeSeconds":  int64(time.Since(s.started).Seconds()),
		"tiers":          s.router.Registry().Len(),
		"totalCalls":     report.TotalCalls,
		"totalCostUsd":   report.TotalUSD,
		"savingsUsd":     report.SavingsUSD,
		"savingsPercent": report.SavingsPercent,
	}
	writeJSON(w, http.StatusOK, status)
}

// handleTiers lists the configured ladder, cheapest first.
func (s *Server) handleTiers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.router.Registry().Definitions())
}

// handleHealth returns per-tier backend health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.router.Health().Status())
}

// handleReport returns the cost report.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.router.Report())
}

// handleAttempts returns persisted attempt history.
func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	rows, err := s.router.RecentAttempts(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []ledger.AttemptRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

type routeRequest struct {
	Payload       string     `json:"payload"`
	Category      string     `json:"category"`
	RequiresTools bool       `json:"requiresTools,omitempty"`
	MinTier       *tier.Tier `json:"minTier,omitempty"`
}

func (rr routeRequest) toTask() task.Request {
	return task.Request{
		Payload:       rr.Payload,
		Category:      rr.Category,
		RequiresTools: rr.RequiresTools,
		MinTierHint:   rr.MinTier,
	}
}

func decodeRouteRequest(r *http.Request) (routeRequest, error) {
	var rr routeRequest
	if err := json.NewDecoder(r.Body).Decode(&rr); err != nil {
		return rr, fmt.Errorf("invalid request body: %w", err)
	}
	if rr.Payload == "" {
		return rr, fmt.Errorf("payload is required")
	}
	if rr.Category == "" {
		return rr, fmt.Errorf("category is required")
	}
	return rr, nil
}

// handleRoute classifies without executing (dry run).
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rr, err := decodeRouteRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	profile, err := s.router.Route(rr.toTask())
	if err != nil {
		var cerr *classify.ClassificationError
		if errors.As(err, &cerr) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handleExecute runs a task to completion.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rr, err := decodeRouteRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := s.router.Execute(r.Context(), rr.toTask())
	if err != nil {
		var cerr *classify.ClassificationError
		var exhausted *task.ExhaustedError
		switch {
		case errors.As(err, &cerr):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &exhausted):
			// All tiers failed. The outcome still carries the history.
			writeJSON(w, http.StatusBadGateway, out)
		case errors.Is(err, context.Canceled):
			writeError(w, http.StatusRequestTimeout, "request cancelled")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleReset clears the ledger.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.router.ResetLedger()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
