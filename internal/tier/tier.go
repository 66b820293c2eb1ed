// Package tier defines the ordered cost tiers a task can be routed to and
// the registry that holds their definitions for a process lifetime.
//
// Tiers are ordered cheapest -> most capable. The ordering is fixed at
// startup; escalation only ever moves up.
package tier

import (
	"encoding/json"
	"fmt"
	"time"
)

// Tier is the ordinal rank of a cost tier. Lower ranks are cheaper.
type Tier int

// String returns the short rank label ("T0", "T1", ...).
func (t Tier) String() string {
	return fmt.Sprintf("T%d", int(t))
}

// MarshalJSON implements json.Marshaler.
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(t))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var i int
	if err := json.Unmarshal(data, &i); err != nil {
		return err
	}
	*t = Tier(i)
	return nil
}

// Capabilities describes what a tier's backend supports.
type Capabilities struct {
	// Tools indicates function/tool invocation support.
	Tools bool `json:"tools"`
	// ReportsConfidence indicates the backend returns a native confidence
	// signal. When false the engine treats any success as fully confident.
	ReportsConfidence bool `json:"reportsConfidence"`
	// MaxContext is the context window in tokens (0 = unknown/unlimited).
	MaxContext int `json:"maxContext"`
}

// Definition describes one cost tier.
type Definition struct {
	Rank     Tier   `json:"rank"`
	Name     string `json:"name"`
	Provider string `json:"provider"` // adapter name, e.g. "openai", "ollama"
	Model    string `json:"model"`

	// CostInput and CostOutput are USD per million tokens.
	CostInput  float64 `json:"costInput"`
	CostOutput float64 `json:"costOutput"`

	Capabilities Capabilities  `json:"capabilities"`
	Timeout      time.Duration `json:"timeout"`
}

// Cost returns the USD cost of a call with the given token counts.
func (d Definition) Cost(inputUnits, outputUnits int64) float64 {
	return float64(inputUnits)*d.CostInput/1_000_000 +
		float64(outputUnits)*d.CostOutput/1_000_000
}

// UnknownTierError is returned when a tier rank does not exist in the
// registry. This indicates a configuration bug and is never retried.
type UnknownTierError struct {
	Tier Tier
}

func (e *UnknownTierError) Error() string {
	return fmt.Sprintf("tier: unknown tier %s", e.Tier)
}

// Registry is the immutable ordered set of tier definitions. It is built
// once at startup and safe for unsynchronized concurrent reads.
type Registry struct {
	defs []Definition
}

// NewRegistry validates and builds a registry from an ordered definition
// list. Ranks must be contiguous starting at 0, cost rates non-negative,
// and the blended per-token rate non-decreasing with rank.
func NewRegistry(defs []Definition) (*Registry, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("tier: registry requires at least one tier")
	}

	prevBlend := -1.0
	for i, d := range defs {
		if d.Rank != Tier(i) {
			return nil, fmt.Errorf("tier: rank %s at position %d (ranks must be contiguous from 0)", d.Rank, i)
		}
		if d.Name == "" {
			return nil, fmt.Errorf("tier: %s has no name", d.Rank)
		}
		if d.Provider == "" {
			return nil, fmt.Errorf("tier: %s (%s) has no provider", d.Rank, d.Name)
		}
		if d.CostInput < 0 || d.CostOutput < 0 {
			return nil, fmt.Errorf("tier: %s (%s) has negative cost rates", d.Rank, d.Name)
		}
		if d.Timeout <= 0 {
			return nil, fmt.Errorf("tier: %s (%s) has no timeout", d.Rank, d.Name)
		}
		blend := d.CostInput + d.CostOutput
		if blend < prevBlend {
			return nil, fmt.Errorf("tier: %s (%s) is cheaper than the tier below it", d.Rank, d.Name)
		}
		prevBlend = blend
	}

	out := make([]Definition, len(defs))
	copy(out, defs)
	return &Registry{defs: out}, nil
}

// Get resolves a tier rank to its definition.
func (r *Registry) Get(t Tier) (Definition, error) {
	if int(t) < 0 || int(t) >= len(r.defs) {
		return Definition{}, &UnknownTierError{Tier: t}
	}
	return r.defs[t], nil
}

// Next returns the tier strictly above t, or false if t is the highest.
func (r *Registry) Next(t Tier) (Tier, bool) {
	if int(t)+1 >= len(r.defs) {
		return t, false
	}
	return t + 1, true
}

// Highest returns the most capable tier's definition.
func (r *Registry) Highest() Definition {
	return r.defs[len(r.defs)-1]
}

// Len returns the number of configured tiers.
func (r *Registry) Len() int {
	return len(r.defs)
}

// Definitions returns a copy of all definitions in rank order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// LowestWithTools returns the cheapest tier that supports tool invocation.
func (r *Registry) LowestWithTools() (Tier, bool) {
	for _, d := range r.defs {
		if d.Capabilities.Tools {
			return d.Rank, true
		}
	}
	return 0, false
}

// ByName resolves a tier by its configured name.
func (r *Registry) ByName(name string) (Definition, bool) {
	for _, d := range r.defs {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}
