// Package task holds the per-call data types that flow through the
// routing engine: the caller's request, the execution attempts made while
// escalating, and the final outcome. These values are owned by a single
// call path and never shared across tasks.
package task

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/corvidlabs/pennywise/internal/provider"
	"github.com/corvidlabs/pennywise/internal/tier"
)

// Request is a caller-supplied unit of work. It is immutable for the
// duration of one Route/Execute call and never persisted.
type Request struct {
	// Payload is the prompt plus any pre-assembled context. Opaque to the
	// engine beyond its size.
	Payload string
	// Category is the task kind, e.g. "lookup" or "reasoning".
	Category string
	// RequiresTools marks tasks that need function/tool invocation.
	RequiresTools bool
	// MinTierHint, when set, forces a floor tier. Hints only raise the
	// starting tier, never lower it.
	MinTierHint *tier.Tier
}

// Fingerprint returns a short stable hash of the payload so logs, events
// and ledger rows can correlate a task without carrying prompt text.
func (r Request) Fingerprint() string {
	sum := blake2b.Sum256([]byte(r.Payload))
	return hex.EncodeToString(sum[:8])
}

// AttemptKind classifies the outcome of one tier attempt.
type AttemptKind string

const (
	AttemptSuccess       AttemptKind = "success"
	AttemptLowConfidence AttemptKind = "low-confidence"
	AttemptProviderError AttemptKind = "provider-error"
	AttemptUnavailable   AttemptKind = "provider-unavailable"
)

// ConsumedBackend reports whether this attempt kind reached the backend
// and therefore may have incurred cost.
func (k AttemptKind) ConsumedBackend() bool {
	return k != AttemptUnavailable
}

// Attempt records one call to a provider adapter at a given tier.
type Attempt struct {
	ID         string        `json:"id"`
	Tier       tier.Tier     `json:"tier"`
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"duration"`
	Kind       AttemptKind   `json:"kind"`
	Confidence float64       `json:"confidence"` // success / low-confidence only
	InputUnits int64         `json:"inputUnits"`
	OutputUnits int64        `json:"outputUnits"`
	CostUSD    float64       `json:"costUsd"`
	Err        string        `json:"err,omitempty"`
}

// Outcome is the final result of one Execute call.
type Outcome struct {
	TaskID      string           `json:"taskId"`
	Fingerprint string           `json:"fingerprint"`
	Category    string           `json:"category"`
	FinalTier   tier.Tier        `json:"finalTier"`
	Attempts    []Attempt        `json:"attempts"`
	Result      *provider.Result `json:"result,omitempty"`
	// Degraded marks a best-effort result that never crossed the
	// confidence threshold at any tier. Not an error.
	Degraded bool    `json:"degraded"`
	TotalCost float64 `json:"totalCost"`
}

// Accepted reports whether the outcome carries a usable result.
func (o *Outcome) Accepted() bool {
	return o.Result != nil
}

// ExhaustedError is returned when every tier failed without producing any
// result. It carries the full attempt history for diagnosis.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "task: all %d tiers exhausted without a result", len(e.Attempts))
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "; %s %s", a.Tier, a.Kind)
		if a.Err != "" {
			fmt.Fprintf(&b, " (%s)", a.Err)
		}
	}
	return b.String()
}
