// Package router is the façade tying classification, escalation, cost
// accounting, persistence, and events into one entry point.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/corvidlabs/pennywise/internal/classify"
	"github.com/corvidlabs/pennywise/internal/config"
	"github.com/corvidlabs/pennywise/internal/engine"
	"github.com/corvidlabs/pennywise/internal/events"
	"github.com/corvidlabs/pennywise/internal/ledger"
	"github.com/corvidlabs/pennywise/internal/provider"
	"github.com/corvidlabs/pennywise/internal/task"
	"github.com/corvidlabs/pennywise/internal/tier"
)

// Router routes tasks to the cheapest capable tier and escalates on
// failure. Safe for concurrent use.
type Router struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *tier.Registry
	engine   *engine.Engine
	ledger   *ledger.Ledger
	store    *ledger.Store
	bus      *events.Bus
	health   *HealthRegistry

	mu           sync.RWMutex
	classifier   *classify.Classifier
	logDecisions bool
	thresholds   config.ThresholdConfig
}

// Option customises router construction.
type Option func(*options)

type options struct {
	adapters map[tier.Tier]provider.Adapter
	noStore  bool
}

// WithAdapters overrides provider construction, mainly for tests and dry
// runs against scripted backends.
func WithAdapters(adapters map[tier.Tier]provider.Adapter) Option {
	return func(o *options) { o.adapters = adapters }
}

// WithoutStore disables sqlite persistence regardless of config.
func WithoutStore() Option {
	return func(o *options) { o.noStore = true }
}

// New builds a router from config.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Router, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	registry, err := cfg.TierRegistry()
	if err != nil {
		return nil, err
	}

	classifier, err := buildClassifier(cfg, registry)
	if err != nil {
		return nil, err
	}

	adapters := o.adapters
	if adapters == nil {
		adapters = make(map[tier.Tier]provider.Adapter, registry.Len())
		for _, def := range registry.Definitions() {
			tc := cfg.Tiers[int(def.Rank)]
			adapter, err := provider.New(def.Provider, provider.Config{
				BaseURL: tc.BaseURL,
				APIKey:  tc.APIKey,
				Timeout: tc.TimeoutSec,
			})
			if err != nil {
				return nil, fmt.Errorf("router: tier %s: %w", def.Name, err)
			}
			adapters[def.Rank] = adapter
		}
	}

	led := ledger.New(registry)
	r := &Router{
		cfg:          cfg,
		logger:       logger.With("component", "router"),
		registry:     registry,
		classifier:   classifier,
		ledger:       led,
		bus:          events.NewBus(cfg.Events.BufferSize),
		logDecisions: cfg.LogDecisions,
		thresholds:   cfg.Thresholds,
	}

	hc := DefaultHealthConfig()
	if cfg.Server.DataDir != "" {
		hc.PersistPath = filepath.Join(cfg.Server.DataDir, "tier_health.json")
	}
	r.health = NewHealthRegistry(hc, logger)

	eng, err := engine.New(registry, adapters, r.thresholdFor, led, logger)
	if err != nil {
		return nil, err
	}
	eng.OnAttempt = r.onAttempt
	r.engine = eng

	if cfg.Ledger.Path != "" && !o.noStore {
		store, err := ledger.OpenStore(cfg.Ledger.Path)
		if err != nil {
			return nil, err
		}
		r.store = store
	}

	if cfg.Events.Enabled && cfg.Events.Broker != "" {
		pub, err := events.NewMQTT(cfg.Events.Broker, cfg.Events.Topic, logger)
		if err != nil {
			return nil, err
		}
		r.bus.AddPublisher(pub)
	}

	return r, nil
}

func buildClassifier(cfg *config.Config, registry *tier.Registry) (*classify.Classifier, error) {
	resolved, err := cfg.RoutingTable(registry)
	if err != nil {
		return nil, err
	}
	table := make(map[classify.Category]tier.Tier, len(resolved))
	for cat, t := range resolved {
		table[classify.Category(cat)] = t
	}
	boost := make([]classify.Category, 0, len(cfg.HeavyBoost))
	for _, cat := range cfg.HeavyBoost {
		boost = append(boost, classify.Category(cat))
	}
	return classify.New(registry, table, boost)
}

func (r *Router) thresholdFor(category string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.thresholds.For(category)
}

func (r *Router) onAttempt(taskID string, a task.Attempt) {
	switch a.Kind {
	case task.AttemptUnavailable, task.AttemptProviderError:
		r.health.RecordFailure(a.Tier)
	default:
		r.health.RecordSuccess(a.Tier)
	}
	r.bus.Publish(events.Event{
		Kind:    events.KindAttempt,
		TaskID:  taskID,
		Tier:    a.Tier,
		Attempt: &a,
		CostUSD: a.CostUSD,
	})
}

// Route classifies a request without executing it.
func (r *Router) Route(req task.Request) (classify.Profile, error) {
	r.mu.RLock()
	classifier := r.classifier
	r.mu.RUnlock()

	profile, err := classifier.Classify(req)
	if err != nil {
		return classify.Profile{}, err
	}
	profile.SuggestedTier = r.skipDegraded(profile.SuggestedTier)
	return profile, nil
}

// skipDegraded raises the starting tier past backends currently marked
// degraded. The top tier is always attempted regardless of health.
func (r *Router) skipDegraded(start tier.Tier) tier.Tier {
	for !r.health.IsHealthy(start) {
		next, ok := r.registry.Next(start)
		if !ok {
			break
		}
		start = next
	}
	return start
}

// Execute classifies and runs a task to completion.
func (r *Router) Execute(ctx context.Context, req task.Request) (*task.Outcome, error) {
	profile, err := r.Route(req)
	if err != nil {
		return nil, err
	}

	taskID := uuid.NewString()
	r.mu.RLock()
	logDecisions := r.logDecisions
	r.mu.RUnlock()
	if logDecisions {
		r.logger.Info("routing task",
			"task", taskID,
			"category", profile.Category,
			"size", profile.SizeClass,
			"start", profile.SuggestedTier,
			"reason", profile.Reason)
	}

	out, runErr := r.engine.RunFrom(ctx, taskID, req, profile.SuggestedTier)
	if out != nil {
		r.finish(ctx, out)
	}
	return out, runErr
}

func (r *Router) finish(ctx context.Context, out *task.Outcome) {
	kind := events.KindCompleted
	if !out.Accepted() && !out.Degraded {
		kind = events.KindExhausted
	}
	r.bus.Publish(events.Event{
		Kind:     kind,
		TaskID:   out.TaskID,
		Category: out.Category,
		Tier:     out.FinalTier,
		Degraded: out.Degraded,
		CostUSD:  out.TotalCost,
	})

	if r.store != nil {
		// Persistence is best-effort with its own short deadline, so a
		// cancelled caller still gets its history written.
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.store.InsertOutcome(storeCtx, out); err != nil {
			r.logger.Warn("persist outcome failed", "task", out.TaskID, "error", err)
		}
	}
}

// ExecuteBatch runs requests with bounded concurrency. The returned slice
// is positional; a nil entry means that request failed, with the first
// error returned.
func (r *Router) ExecuteBatch(ctx context.Context, reqs []task.Request, concurrency int) ([]*task.Outcome, error) {
	if concurrency <= 0 {
		concurrency = 4
	}

	outcomes := make([]*task.Outcome, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, req := range reqs {
		g.Go(func() error {
			out, err := r.Execute(gctx, req)
			outcomes[i] = out
			return err
		})
	}
	err := g.Wait()
	return outcomes, err
}

// Report returns the current cost report.
func (r *Router) Report() ledger.Report {
	return r.ledger.Report()
}

// ResetLedger clears accumulated spend and starts a new reporting window.
func (r *Router) ResetLedger() {
	r.ledger.Reset()
	r.bus.Publish(events.Event{Kind: events.KindReset})
	r.logger.Info("ledger reset")
}

// Snapshot persists the current report, when a store is configured.
func (r *Router) Snapshot(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	return r.store.Snapshot(ctx, r.ledger.Report())
}

// RecentAttempts returns persisted attempt history, newest first.
func (r *Router) RecentAttempts(ctx context.Context, limit int) ([]ledger.AttemptRow, error) {
	if r.store == nil {
		return nil, nil
	}
	return r.store.RecentAttempts(ctx, limit)
}

// ApplyRuntimeConfig applies hot-reloadable settings from a new config.
// The tier ladder itself requires a restart.
func (r *Router) ApplyRuntimeConfig(cfg *config.Config) error {
	classifier, err := buildClassifier(cfg, r.registry)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifier = classifier
	r.thresholds = cfg.Thresholds
	r.logDecisions = cfg.LogDecisions
	return nil
}

// Bus exposes the event bus for live subscribers.
func (r *Router) Bus() *events.Bus { return r.bus }

// Registry exposes the tier ladder.
func (r *Router) Registry() *tier.Registry { return r.registry }

// Health exposes tier backend health.
func (r *Router) Health() *HealthRegistry { return r.health }

// Close flushes health state and releases resources.
func (r *Router) Close() error {
	var firstErr error
	if err := r.health.Persist(); err != nil {
		firstErr = err
	}
	if err := r.bus.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
