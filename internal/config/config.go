package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/corvidlabs/pennywise/internal/tier"
)

// Config holds all Pennywise configuration
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Ordered cost tiers, cheapest first
	Tiers []TierConfig `json:"tiers" yaml:"tiers"`

	// Routing table: task category -> tier name
	Routing map[string]string `json:"routing" yaml:"routing"`

	// Confidence thresholds for accepting a result
	Thresholds ThresholdConfig `json:"thresholds" yaml:"thresholds"`

	// Categories whose starting tier is raised one rank for heavy payloads
	HeavyBoost []string `json:"heavyBoost,omitempty" yaml:"heavyBoost,omitempty"`

	// Event publishing (MQTT)
	Events EventsConfig `json:"events,omitempty" yaml:"events,omitempty"`

	// Scheduled maintenance jobs
	Scheduler SchedulerConfig `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`

	// Ledger persistence
	Ledger LedgerConfig `json:"ledger,omitempty" yaml:"ledger,omitempty"`

	// PricingPath points at a TOML file of per-model price overrides
	PricingPath string `json:"pricingPath,omitempty" yaml:"pricingPath,omitempty"`

	// Log every routing decision at info level
	LogDecisions bool `json:"logDecisions" yaml:"logDecisions"`
}

type ServerConfig struct {
	Port     int    `json:"port" yaml:"port"`
	DataDir  string `json:"dataDir" yaml:"dataDir"`
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	// AuthSecret signs ops-API tokens. Auth is disabled when empty.
	AuthSecret string `json:"authSecret,omitempty" yaml:"authSecret,omitempty"`
}

// TierConfig describes one cost tier. Rank is implied by slice position.
type TierConfig struct {
	Name     string  `json:"name" yaml:"name"`
	Provider string  `json:"provider" yaml:"provider"`
	Model    string  `json:"model" yaml:"model"`
	BaseURL  string  `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	APIKey   string  `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	// Costs are USD per million units
	CostInput  float64 `json:"costInput" yaml:"costInput"`
	CostOutput float64 `json:"costOutput" yaml:"costOutput"`
	// TimeoutSec bounds a single attempt at this tier
	TimeoutSec       int  `json:"timeoutSec" yaml:"timeoutSec"`
	Tools            bool `json:"tools" yaml:"tools"`
	ReportsConfidence bool `json:"reportsConfidence" yaml:"reportsConfidence"`
	MaxContext       int  `json:"maxContext,omitempty" yaml:"maxContext,omitempty"`
}

type ThresholdConfig struct {
	Default     float64            `json:"default" yaml:"default"`
	PerCategory map[string]float64 `json:"perCategory,omitempty" yaml:"perCategory,omitempty"`
}

// For returns the acceptance threshold for a category.
func (t ThresholdConfig) For(category string) float64 {
	if v, ok := t.PerCategory[category]; ok {
		return v
	}
	return t.Default
}

type EventsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Broker  string `json:"broker,omitempty" yaml:"broker,omitempty"`
	Topic   string `json:"topic,omitempty" yaml:"topic,omitempty"`
	// BufferSize bounds each subscriber channel
	BufferSize int `json:"bufferSize,omitempty" yaml:"bufferSize,omitempty"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// SnapshotCron persists a ledger snapshot on this schedule
	SnapshotCron string `json:"snapshotCron,omitempty" yaml:"snapshotCron,omitempty"`
}

type LedgerConfig struct {
	// Path to the sqlite database. Empty disables persistence.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// DefaultConfig returns a sensible default configuration: a free local
// tier, a cheap hosted tier, and a premium hosted tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8710,
			DataDir:  "./data",
			LogLevel: "info",
		},
		Tiers: []TierConfig{
			{
				Name:              "local",
				Provider:          "ollama",
				Model:             "llama3.2:3b",
				CostInput:         0,
				CostOutput:        0,
				TimeoutSec:        60,
				ReportsConfidence: false,
			},
			{
				Name:       "mini",
				Provider:   "openai",
				Model:      "gpt-4o-mini",
				CostInput:  0.15,
				CostOutput: 0.60,
				TimeoutSec: 30,
				Tools:      true,
			},
			{
				Name:       "frontier",
				Provider:   "openai",
				Model:      "gpt-4o",
				CostInput:  2.50,
				CostOutput: 10.00,
				TimeoutSec: 60,
				Tools:      true,
			},
		},
		Routing: map[string]string{
			"classification": "local",
			"lookup":         "local",
			"conversation":   "mini",
			"summary":        "mini",
			"reasoning":      "frontier",
		},
		Thresholds: ThresholdConfig{
			Default: 0.7,
		},
		HeavyBoost: []string{"conversation", "summary"},
		Events: EventsConfig{
			Enabled:    false,
			Topic:      "pennywise/events",
			BufferSize: 64,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			SnapshotCron: "0 * * * *",
		},
		Ledger: LedgerConfig{
			Path: "./data/pennywise.db",
		},
		LogDecisions: true,
	}
}

// Load reads config from a JSON or YAML file, chosen by extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// Save writes config to a JSON file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0640)
}

// Validate checks the parts of the config that would otherwise fail at
// request time: the tier ladder, the routing table, and thresholds.
func (c *Config) Validate() error {
	if len(c.Tiers) == 0 {
		return fmt.Errorf("config: no tiers defined")
	}
	if _, err := c.TierRegistry(); err != nil {
		return err
	}

	names := make(map[string]bool, len(c.Tiers))
	for _, tc := range c.Tiers {
		names[tc.Name] = true
	}
	if len(c.Routing) == 0 {
		return fmt.Errorf("config: empty routing table")
	}
	for cat, name := range c.Routing {
		if !names[name] {
			return fmt.Errorf("config: routing for %q references unknown tier %q", cat, name)
		}
	}
	for _, cat := range c.HeavyBoost {
		if _, ok := c.Routing[cat]; !ok {
			return fmt.Errorf("config: heavyBoost category %q has no routing entry", cat)
		}
	}

	if c.Thresholds.Default < 0 || c.Thresholds.Default > 1 {
		return fmt.Errorf("config: default threshold %.2f out of range [0,1]", c.Thresholds.Default)
	}
	for cat, v := range c.Thresholds.PerCategory {
		if v < 0 || v > 1 {
			return fmt.Errorf("config: threshold for %q out of range [0,1]", cat)
		}
	}
	return nil
}

// TierRegistry builds the tier registry from the configured ladder.
func (c *Config) TierRegistry() (*tier.Registry, error) {
	defs := make([]tier.Definition, 0, len(c.Tiers))
	for i, tc := range c.Tiers {
		if tc.TimeoutSec <= 0 {
			tc.TimeoutSec = 60
		}
		defs = append(defs, tier.Definition{
			Rank:       tier.Tier(i),
			Name:       tc.Name,
			Provider:   tc.Provider,
			Model:      tc.Model,
			CostInput:  tc.CostInput,
			CostOutput: tc.CostOutput,
			Capabilities: tier.Capabilities{
				Tools:             tc.Tools,
				ReportsConfidence: tc.ReportsConfidence,
				MaxContext:        tc.MaxContext,
			},
			Timeout: time.Duration(tc.TimeoutSec) * time.Second,
		})
	}
	return tier.NewRegistry(defs)
}

// RoutingTable resolves the configured category->name map into tier ranks.
func (c *Config) RoutingTable(reg *tier.Registry) (map[string]tier.Tier, error) {
	table := make(map[string]tier.Tier, len(c.Routing))
	for cat, name := range c.Routing {
		def, ok := reg.ByName(name)
		if !ok {
			return nil, fmt.Errorf("config: routing for %q references unknown tier %q", cat, name)
		}
		table[cat] = def.Rank
	}
	return table, nil
}
