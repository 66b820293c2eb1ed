// Package ledger tracks per-tier spend and computes savings against an
// always-use-the-top-tier baseline.
package ledger

import (
	"sync"
	"time"

	"github.com/corvidlabs/pennywise/internal/tier"
)

// shard accumulates usage for one tier. Each shard has its own lock so
// recording at one tier never contends with recording at another.
type shard struct {
	mu          sync.Mutex
	calls       int64
	inputUnits  int64
	outputUnits int64
	costUSD     float64
}

// Ledger is the in-memory cost accumulator. Safe for concurrent use.
type Ledger struct {
	registry *tier.Registry
	shards   []*shard

	startedMu sync.Mutex
	started   time.Time
}

// New creates a ledger with one shard per registered tier.
func New(registry *tier.Registry) *Ledger {
	shards := make([]*shard, registry.Len())
	for i := range shards {
		shards[i] = &shard{}
	}
	return &Ledger{registry: registry, shards: shards, started: time.Now()}
}

// Record adds one call's usage at the given tier and returns its cost.
func (l *Ledger) Record(t tier.Tier, inputUnits, outputUnits int64) (float64, error) {
	def, err := l.registry.Get(t)
	if err != nil {
		return 0, err
	}
	cost := def.Cost(inputUnits, outputUnits)

	s := l.shards[int(t)]
	s.mu.Lock()
	s.calls++
	s.inputUnits += inputUnits
	s.outputUnits += outputUnits
	s.costUSD += cost
	s.mu.Unlock()

	return cost, nil
}

// TierUsage is one tier's accumulated usage.
type TierUsage struct {
	Tier        tier.Tier `json:"tier"`
	Name        string    `json:"name"`
	Calls       int64     `json:"calls"`
	InputUnits  int64     `json:"inputUnits"`
	OutputUnits int64     `json:"outputUnits"`
	CostUSD     float64   `json:"costUsd"`
}

// Report is a point-in-time view of spend and savings.
type Report struct {
	GeneratedAt time.Time   `json:"generatedAt"`
	Since       time.Time   `json:"since"`
	Tiers       []TierUsage `json:"tiers"`
	TotalCalls  int64       `json:"totalCalls"`
	TotalUSD    float64     `json:"totalUsd"`
	// BaselineUSD prices every recorded call at the top tier's rates.
	BaselineUSD    float64 `json:"baselineUsd"`
	SavingsUSD     float64 `json:"savingsUsd"`
	SavingsPercent float64 `json:"savingsPercent"`
}

// Report snapshots the ledger. Each tier's row is internally consistent;
// rows from different tiers may be skewed by calls recorded mid-snapshot.
func (l *Ledger) Report() Report {
	top := l.registry.Highest()

	l.startedMu.Lock()
	since := l.started
	l.startedMu.Unlock()

	r := Report{
		GeneratedAt: time.Now(),
		Since:       since,
		Tiers:       make([]TierUsage, 0, len(l.shards)),
	}
	for i, s := range l.shards {
		def, err := l.registry.Get(tier.Tier(i))
		if err != nil {
			continue
		}

		s.mu.Lock()
		u := TierUsage{
			Tier:        tier.Tier(i),
			Name:        def.Name,
			Calls:       s.calls,
			InputUnits:  s.inputUnits,
			OutputUnits: s.outputUnits,
			CostUSD:     s.costUSD,
		}
		s.mu.Unlock()

		r.Tiers = append(r.Tiers, u)
		r.TotalCalls += u.Calls
		r.TotalUSD += u.CostUSD
		r.BaselineUSD += top.Cost(u.InputUnits, u.OutputUnits)
	}

	r.SavingsUSD = r.BaselineUSD - r.TotalUSD
	if r.BaselineUSD > 0 {
		r.SavingsPercent = r.SavingsUSD / r.BaselineUSD * 100
	}
	return r
}

// Reset zeroes all shards and restarts the reporting window.
func (l *Ledger) Reset() {
	for _, s := range l.shards {
		s.mu.Lock()
		s.calls = 0
		s.inputUnits = 0
		s.outputUnits = 0
		s.costUSD = 0
		s.mu.Unlock()
	}
	l.startedMu.Lock()
	l.started = time.Now()
	l.startedMu.Unlock()
}
