package router

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"log/slog"

	"github.com/corvidlabs/pennywise/internal/tier"
)

// TierState is the health state of one tier's backend.
type TierState string

const (
	StateHealthy  TierState = "healthy"
	StateDegraded TierState = "degraded"
	StateUnknown  TierState = "unknown"
)

// TierHealth tracks the health status of a single tier.
type TierHealth struct {
	State               TierState  `json:"state"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastFailure         *time.Time `json:"lastFailure,omitempty"`
	LastSuccess         *time.Time `json:"lastSuccess,omitempty"`
	DegradedAt          *time.Time `json:"degradedAt,omitempty"`
	TotalRequests       int64      `json:"totalRequests"`
	TotalFailures       int64      `json:"totalFailures"`
	SuccessRate         float64    `json:"successRate"`
}

// HealthConfig configures the health registry behavior.
type HealthConfig struct {
	FailureThreshold int           `json:"failureThreshold"` // failures before degraded
	CooldownPeriod   time.Duration `json:"cooldownPeriod"`   // time before retrying a degraded tier
	PersistPath      string        `json:"persistPath"`      // empty disables persistence
}

// DefaultHealthConfig returns sensible defaults.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		FailureThreshold: 3,
		CooldownPeriod:   5 * time.Minute,
	}
}

// HealthRegistry tracks which tiers are currently worth attempting. A tier
// that keeps failing is marked degraded and skipped until its cooldown
// passes, saving the per-request timeout wait.
type HealthRegistry struct {
	mu     sync.RWMutex
	tiers  map[tier.Tier]*TierHealth
	cfg    HealthConfig
	logger *slog.Logger
	dirty  bool
}

type healthSnapshot struct {
	Tiers       map[tier.Tier]*TierHealth `json:"tiers"`
	LastUpdated time.Time                 `json:"lastUpdated"`
}

// NewHealthRegistry creates a health registry, loading persisted state
// when a persist path is configured.
func NewHealthRegistry(cfg HealthConfig, logger *slog.Logger) *HealthRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.CooldownPeriod <= 0 {
		cfg.CooldownPeriod = 5 * time.Minute
	}

	hr := &HealthRegistry{
		tiers:  make(map[tier.Tier]*TierHealth),
		cfg:    cfg,
		logger: logger.With("component", "tier-health"),
	}
	if cfg.PersistPath != "" {
		if err := hr.load(); err != nil {
			hr.logger.Debug("no existing health state, starting fresh", "error", err)
		}
	}
	return hr
}

func (hr *HealthRegistry) getOrCreate(t tier.Tier) *TierHealth {
	if h, ok := hr.tiers[t]; ok {
		return h
	}
	h := &TierHealth{State: StateUnknown}
	hr.tiers[t] = h
	return h
}

// RecordSuccess records a successful call at the tier.
func (hr *HealthRegistry) RecordSuccess(t tier.Tier) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	h := hr.getOrCreate(t)
	now := time.Now()
	h.LastSuccess = &now
	h.ConsecutiveFailures = 0
	h.TotalRequests++

	switch h.State {
	case StateDegraded:
		h.State = StateHealthy
		h.DegradedAt = nil
		hr.logger.Info("tier recovered", "tier", t)
	case StateUnknown:
		h.State = StateHealthy
	}

	h.SuccessRate = float64(h.TotalRequests-h.TotalFailures) / float64(h.TotalRequests)
	hr.dirty = true
}

// RecordFailure records a failed call at the tier.
func (hr *HealthRegistry) RecordFailure(t tier.Tier) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	h := hr.getOrCreate(t)
	now := time.Now()
	h.LastFailure = &now
	h.ConsecutiveFailures++
	h.TotalRequests++
	h.TotalFailures++
	h.SuccessRate = float64(h.TotalRequests-h.TotalFailures) / float64(h.TotalRequests)

	if h.ConsecutiveFailures >= hr.cfg.FailureThreshold && h.State != StateDegraded {
		h.State = StateDegraded
		h.DegradedAt = &now
		hr.logger.Warn("tier degraded", "tier", t,
			"consecutiveFailures", h.ConsecutiveFailures)
	}
	hr.dirty = true
}

// IsHealthy reports whether the tier is worth attempting. Degraded tiers
// become attemptable again once their cooldown has passed.
func (hr *HealthRegistry) IsHealthy(t tier.Tier) bool {
	hr.mu.RLock()
	defer hr.mu.RUnlock()

	h, ok := hr.tiers[t]
	if !ok {
		return true
	}
	if h.State == StateDegraded {
		if h.DegradedAt != nil && time.Since(*h.DegradedAt) > hr.cfg.CooldownPeriod {
			return true
		}
		return false
	}
	return true
}

// Status returns a copy of every tier's health.
func (hr *HealthRegistry) Status() map[tier.Tier]TierHealth {
	hr.mu.RLock()
	defer hr.mu.RUnlock()

	out := make(map[tier.Tier]TierHealth, len(hr.tiers))
	for t, h := range hr.tiers {
		out[t] = *h
	}
	return out
}

// Reset manually marks a tier healthy.
func (hr *HealthRegistry) Reset(t tier.Tier) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	if h, ok := hr.tiers[t]; ok {
		h.State = StateHealthy
		h.ConsecutiveFailures = 0
		h.DegradedAt = nil
		hr.logger.Info("tier manually reset", "tier", t)
		hr.dirty = true
	}
}

// Persist saves state to disk when configured and dirty.
func (hr *HealthRegistry) Persist() error {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	if hr.cfg.PersistPath == "" || !hr.dirty {
		return nil
	}

	snapshot := healthSnapshot{Tiers: hr.tiers, LastUpdated: time.Now()}
	if err := os.MkdirAll(filepath.Dir(hr.cfg.PersistPath), 0750); err != nil {
		return fmt.Errorf("create health dir: %w", err)
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal health state: %w", err)
	}
	if err := os.WriteFile(hr.cfg.PersistPath, data, 0640); err != nil {
		return fmt.Errorf("write health state: %w", err)
	}
	hr.dirty = false
	return nil
}

func (hr *HealthRegistry) load() error {
	data, err := os.ReadFile(hr.cfg.PersistPath)
	if err != nil {
		return err
	}
	var snapshot healthSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("parse health state: %w", err)
	}
	if snapshot.Tiers != nil {
		hr.tiers = snapshot.Tiers
	}
	return nil
}
