// Package classify turns an inbound task request into a task profile: the
// task's category, size class, and the suggested starting tier.
//
// Classification is a pure function of the request plus the static routing
// table loaded at startup. It performs no I/O and has no side effects.
package classify

import (
	"fmt"

	"github.com/corvidlabs/pennywise/internal/task"
	"github.com/corvidlabs/pennywise/internal/tier"
	"github.com/corvidlabs/pennywise/internal/tokens"
)

// Category is the enumerated task kind used for routing-table lookups.
type Category string

const (
	// CategoryClassification covers intent/routing classification calls
	// (e.g. "which department should handle this caller").
	CategoryClassification Category = "classification"
	// CategoryLookup covers simple data lookups against supplied context.
	CategoryLookup Category = "lookup"
	// CategoryConversation covers conversational response generation.
	CategoryConversation Category = "conversation"
	// CategorySummary covers transcript/context summarization.
	CategorySummary Category = "summary"
	// CategoryReasoning covers multi-step reasoning and error recovery.
	CategoryReasoning Category = "reasoning"
)

// Categories lists every known category.
func Categories() []Category {
	return []Category{
		CategoryClassification,
		CategoryLookup,
		CategoryConversation,
		CategorySummary,
		CategoryReasoning,
	}
}

// ParseCategory validates a category string.
func ParseCategory(s string) (Category, bool) {
	c := Category(s)
	for _, known := range Categories() {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// SizeClass buckets a payload by estimated token count.
type SizeClass string

const (
	SizeSmall  SizeClass = "small"
	SizeMedium SizeClass = "medium"
	SizeLarge  SizeClass = "large"
)

// Size class thresholds in estimated tokens.
const (
	smallMaxTokens  = 512
	mediumMaxTokens = 4096
)

// SizeClassOf buckets an estimated token count.
func SizeClassOf(estTokens int) SizeClass {
	switch {
	case estTokens <= smallMaxTokens:
		return SizeSmall
	case estTokens <= mediumMaxTokens:
		return SizeMedium
	default:
		return SizeLarge
	}
}

// Profile is the classifier's output for one request.
type Profile struct {
	Category      Category  `json:"category"`
	RequiresTools bool      `json:"requiresTools"`
	SizeClass     SizeClass `json:"sizeClass"`
	EstTokens     int       `json:"estTokens"`
	SuggestedTier tier.Tier `json:"suggestedTier"`
	// Reason explains how the suggestion was reached, for dry-run tooling.
	Reason string `json:"reason"`
}

// ClassificationError is returned for categories missing from the routing
// table. This is a configuration problem: extend the table or pass a
// MinTierHint.
type ClassificationError struct {
	Category string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify: unmapped category %q", e.Category)
}

// ErrNoToolTier is wrapped into a ClassificationError-adjacent failure when
// a task requires tools but no configured tier supports them.
var ErrNoToolTier = fmt.Errorf("classify: no configured tier supports tools")

// Classifier maps requests to profiles using the configured routing table.
// Safe for concurrent use; all fields are read-only after construction.
type Classifier struct {
	registry *tier.Registry
	table    map[Category]tier.Tier
	// heavyBoost lists categories whose suggestion is raised one tier when
	// the payload analysis flags it as heavy (large or reasoning-dense).
	heavyBoost map[Category]bool
}

// New builds a Classifier. Every table entry must reference an existing
// tier; unknown categories or tiers are rejected here, at startup, rather
// than at request time.
func New(registry *tier.Registry, table map[Category]tier.Tier, heavyBoost []Category) (*Classifier, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("classify: empty routing table")
	}
	for cat, t := range table {
		if _, ok := ParseCategory(string(cat)); !ok {
			return nil, fmt.Errorf("classify: routing table references unknown category %q", cat)
		}
		if _, err := registry.Get(t); err != nil {
			return nil, fmt.Errorf("classify: routing table for %q: %w", cat, err)
		}
	}

	boost := make(map[Category]bool, len(heavyBoost))
	for _, cat := range heavyBoost {
		if _, ok := table[cat]; !ok {
			return nil, fmt.Errorf("classify: heavy-boost category %q not in routing table", cat)
		}
		boost[cat] = true
	}

	return &Classifier{registry: registry, table: table, heavyBoost: boost}, nil
}

// Classify derives a profile from a request.
//
// The suggestion starts from the category's table entry, may be raised one
// tier by payload analysis for heavy-boost categories, is raised to the
// cheapest tool-capable tier when tools are required, and finally is raised
// to the caller's MinTierHint if that ranks higher. Raises only; nothing
// here ever lowers a tier.
func (c *Classifier) Classify(req task.Request) (Profile, error) {
	cat, ok := ParseCategory(req.Category)
	if !ok {
		return Profile{}, &ClassificationError{Category: req.Category}
	}
	suggested, ok := c.table[cat]
	if !ok {
		return Profile{}, &ClassificationError{Category: req.Category}
	}

	est := tokens.Estimate(req.Payload)
	size := SizeClassOf(est)
	reason := fmt.Sprintf("category %s -> %s", cat, suggested)

	if c.heavyBoost[cat] {
		analysis := Analyze(req.Payload)
		if size == SizeLarge || analysis.Heavy() {
			if next, ok := c.registry.Next(suggested); ok {
				suggested = next
				reason += fmt.Sprintf(", heavy payload -> %s", suggested)
			}
		}
	}

	if req.RequiresTools {
		def, err := c.registry.Get(suggested)
		if err != nil {
			return Profile{}, err
		}
		if !def.Capabilities.Tools {
			toolTier, ok := c.registry.LowestWithTools()
			if !ok {
				return Profile{}, ErrNoToolTier
			}
			if toolTier > suggested {
				suggested = toolTier
				reason += fmt.Sprintf(", tools -> %s", suggested)
			}
		}
	}

	if req.MinTierHint != nil {
		if _, err := c.registry.Get(*req.MinTierHint); err != nil {
			return Profile{}, err
		}
		if *req.MinTierHint > suggested {
			suggested = *req.MinTierHint
			reason += fmt.Sprintf(", hint -> %s", suggested)
		}
	}

	return Profile{
		Category:      cat,
		RequiresTools: req.RequiresTools,
		SizeClass:     size,
		EstTokens:     est,
		SuggestedTier: suggested,
		Reason:        reason,
	}, nil
}
