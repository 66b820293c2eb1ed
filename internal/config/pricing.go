package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// PricingOverrides is an optional TOML file mapping "provider/model" keys
// to per-million-unit prices. Providers reprice models more often than
// deployments update their main config, so prices live in their own file.
//
//	[prices."openai/gpt-4o-mini"]
//	input = 0.15
//	output = 0.60
type PricingOverrides struct {
	Prices map[string]ModelPrice `toml:"prices"`
}

// ModelPrice is USD per million units.
type ModelPrice struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// LoadPricing parses a TOML pricing file.
func LoadPricing(path string) (*PricingOverrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing: %w", err)
	}
	var p PricingOverrides
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse pricing: %w", err)
	}
	for key, mp := range p.Prices {
		if mp.Input < 0 || mp.Output < 0 {
			return nil, fmt.Errorf("pricing for %q: negative price", key)
		}
	}
	return &p, nil
}

// ApplyPricing overwrites tier costs with any matching overrides. Tiers
// without an override keep their configured prices.
func (c *Config) ApplyPricing(p *PricingOverrides) int {
	applied := 0
	for i := range c.Tiers {
		key := c.Tiers[i].Provider + "/" + c.Tiers[i].Model
		if mp, ok := p.Prices[key]; ok {
			c.Tiers[i].CostInput = mp.Input
			c.Tiers[i].CostOutput = mp.Output
			applied++
		}
	}
	return applied
}
