// Package engine runs the escalation loop: attempt a task at its starting
// tier, judge the result, and climb the ladder until a result is accepted
// or the ladder is exhausted.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/corvidlabs/pennywise/internal/ledger"
	"github.com/corvidlabs/pennywise/internal/provider"
	"github.com/corvidlabs/pennywise/internal/task"
	"github.com/corvidlabs/pennywise/internal/tier"
)

// ThresholdFunc returns the confidence threshold for a category.
type ThresholdFunc func(category string) float64

// Engine drives task attempts up the tier ladder. Safe for concurrent use;
// all fields are read-only after construction.
type Engine struct {
	registry  *tier.Registry
	adapters  map[tier.Tier]provider.Adapter
	threshold ThresholdFunc
	ledger    *ledger.Ledger
	logger    *slog.Logger

	// OnAttempt, when set, is called after each attempt completes. Used to
	// publish live events; must not block.
	OnAttempt func(taskID string, a task.Attempt)
}

// New builds an engine. adapters must cover every registered tier.
func New(registry *tier.Registry, adapters map[tier.Tier]provider.Adapter, threshold ThresholdFunc, led *ledger.Ledger, logger *slog.Logger) (*Engine, error) {
	for _, def := range registry.Definitions() {
		if _, ok := adapters[def.Rank]; !ok {
			return nil, fmt.Errorf("engine: no adapter for tier %s (%s)", def.Rank, def.Name)
		}
	}
	return &Engine{
		registry:  registry,
		adapters:  adapters,
		threshold: threshold,
		ledger:    led,
		logger:    logger.With("component", "engine"),
	}, nil
}

// Run executes the task starting at the given tier. Escalation only moves
// up: a provider failure, unavailability, or a below-threshold confidence
// each advance to the next tier.
//
// When the top tier still yields only low-confidence results, the best one
// seen is returned with Degraded set. Run returns an error only when the
// caller's context is done or no tier produced any result at all; in the
// latter case the returned outcome still carries the attempt history.
func (e *Engine) Run(ctx context.Context, taskID string, req task.Request) (*task.Outcome, error) {
	return e.RunFrom(ctx, taskID, req, 0)
}

// RunFrom is Run with an explicit starting tier.
func (e *Engine) RunFrom(ctx context.Context, taskID string, req task.Request, start tier.Tier) (*task.Outcome, error) {
	if _, err := e.registry.Get(start); err != nil {
		return nil, err
	}

	out := &task.Outcome{
		TaskID:      taskID,
		Fingerprint: req.Fingerprint(),
		Category:    req.Category,
	}
	threshold := e.threshold(req.Category)

	var best *provider.Result
	var bestConf float64
	var bestTier tier.Tier

	current := start
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		def, err := e.registry.Get(current)
		if err != nil {
			return nil, err
		}
		adapter := e.adapters[current]

		attempt, res := e.attempt(ctx, adapter, def, req)
		if attempt == nil {
			// Caller gave up mid-attempt; nothing was consumed.
			return nil, ctx.Err()
		}
		if attempt.Kind == task.AttemptSuccess && attempt.Confidence < threshold {
			attempt.Kind = task.AttemptLowConfidence
		}
		out.Attempts = append(out.Attempts, *attempt)
		if e.OnAttempt != nil {
			e.OnAttempt(taskID, *attempt)
		}

		switch attempt.Kind {
		case task.AttemptSuccess:
			out.Result = res
			out.FinalTier = current
			out.TotalCost = totalCost(out.Attempts)
			return out, nil

		case task.AttemptLowConfidence:
			// A higher tier's answer wins ties; otherwise keep the most
			// confident one seen so far.
			if best == nil || attempt.Confidence >= bestConf {
				best = res
				bestConf = attempt.Confidence
				bestTier = current
			}
			e.logger.Debug("low confidence, escalating",
				"task", taskID, "tier", def.Name,
				"confidence", attempt.Confidence, "threshold", threshold)

		case task.AttemptUnavailable:
			e.logger.Warn("tier unavailable, escalating",
				"task", taskID, "tier", def.Name, "error", attempt.Err)

		case task.AttemptProviderError:
			e.logger.Warn("provider error, escalating",
				"task", taskID, "tier", def.Name, "error", attempt.Err)
		}

		next, ok := e.registry.Next(current)
		if !ok {
			break
		}
		current = next
	}

	out.TotalCost = totalCost(out.Attempts)
	if best != nil {
		out.Result = best
		out.FinalTier = bestTier
		out.Degraded = true
		e.logger.Info("ladder exhausted, returning degraded result",
			"task", taskID, "tier", bestTier, "confidence", bestConf)
		return out, nil
	}

	e.logger.Error("ladder exhausted with no result", "task", taskID,
		"attempts", len(out.Attempts))
	return out, &task.ExhaustedError{Attempts: out.Attempts}
}

// attempt invokes one tier and classifies what happened. It returns nil
// when the caller's own context ended, so no attempt should be recorded.
func (e *Engine) attempt(ctx context.Context, adapter provider.Adapter, def tier.Definition, req task.Request) (*task.Attempt, *provider.Result) {
	attemptCtx, cancel := context.WithTimeout(ctx, def.Timeout)
	defer cancel()

	started := time.Now()
	res, err := adapter.Invoke(attemptCtx, provider.Request{
		Model:         def.Model,
		Payload:       req.Payload,
		RequiresTools: req.RequiresTools,
	})
	dur := time.Since(started)

	a := &task.Attempt{
		ID:        uuid.NewString(),
		Tier:      def.Rank,
		StartedAt: started,
		Duration:  dur,
	}

	if err == nil {
		conf := 1.0
		if def.Capabilities.ReportsConfidence {
			conf = res.Confidence
		}
		a.Kind = task.AttemptSuccess
		a.Confidence = conf
		a.InputUnits = res.InputUnits
		a.OutputUnits = res.OutputUnits
		if cost, lerr := e.ledger.Record(def.Rank, res.InputUnits, res.OutputUnits); lerr == nil {
			a.CostUSD = cost
		}
		return a, res
	}

	// The caller's context ending aborts the task outright. An attempt
	// timeout with the caller still live counts as the tier being
	// unavailable.
	if ctx.Err() != nil {
		return nil, nil
	}

	var apiErr *provider.APIError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		a.Kind = task.AttemptUnavailable
		a.Err = fmt.Sprintf("timeout after %s", def.Timeout)
	case errors.Is(err, provider.ErrUnavailable):
		a.Kind = task.AttemptUnavailable
		a.Err = err.Error()
	case errors.As(err, &apiErr):
		a.Kind = task.AttemptProviderError
		a.Err = err.Error()
		a.InputUnits = apiErr.InputUnits
		a.OutputUnits = apiErr.OutputUnits
		if apiErr.InputUnits > 0 || apiErr.OutputUnits > 0 {
			if cost, lerr := e.ledger.Record(def.Rank, apiErr.InputUnits, apiErr.OutputUnits); lerr == nil {
				a.CostUSD = cost
			}
		}
	default:
		a.Kind = task.AttemptProviderError
		a.Err = err.Error()
	}
	return a, nil
}

func totalCost(attempts []task.Attempt) float64 {
	total := 0.0
	for _, a := range attempts {
		total += a.CostUSD
	}
	return total
}
