package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8710 {
		t.Errorf("expected port 8710, got %d", cfg.Server.Port)
	}

	if cfg.Server.DataDir != "./data" {
		t.Errorf("expected dataDir ./data, got %s", cfg.Server.DataDir)
	}

	if cfg.Server.LogLevel != "info" {
		t.Errorf("expected logLevel info, got %s", cfg.Server.LogLevel)
	}

	if len(cfg.Tiers) != 3 {
		t.Fatalf("expected 3 default tiers, got %d", len(cfg.Tiers))
	}

	if cfg.Tiers[0].CostInput != 0 || cfg.Tiers[0].CostOutput != 0 {
		t.Error("expected cheapest default tier to be free")
	}

	if cfg.Thresholds.Default != 0.7 {
		t.Errorf("expected default threshold 0.7, got %f", cfg.Thresholds.Default)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsUnknownRoutingTier(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Routing["lookup"] = "no-such-tier"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for routing to unknown tier")
	}
}

func TestValidateRejectsDescendingCosts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tiers[0].CostInput = 100
	cfg.Tiers[0].CostOutput = 100

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-ascending tier costs")
	}
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Thresholds.Default = 1.5

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for threshold above 1")
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	cfg.Server.Port = 9999
	cfg.Server.DataDir = filepath.Join(dir, "data")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", loaded.Server.Port)
	}

	if _, err := os.Stat(loaded.Server.DataDir); err != nil {
		t.Errorf("expected data dir to be created: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yamlDoc := `
server:
  port: 9100
  dataDir: ` + filepath.Join(dir, "data") + `
  logLevel: debug
tiers:
  - name: local
    provider: ollama
    model: llama3.2:3b
    timeoutSec: 60
  - name: frontier
    provider: openai
    model: gpt-4o
    costInput: 2.5
    costOutput: 10.0
    timeoutSec: 60
    tools: true
routing:
  classification: local
  lookup: local
  conversation: local
  summary: local
  reasoning: frontier
thresholds:
  default: 0.8
  perCategory:
    lookup: 0.6
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0640); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Server.Port != 9100 {
		t.Errorf("expected port 9100, got %d", loaded.Server.Port)
	}
	if len(loaded.Tiers) != 2 {
		t.Fatalf("expected 2 tiers, got %d", len(loaded.Tiers))
	}
	if loaded.Thresholds.For("lookup") != 0.6 {
		t.Errorf("expected lookup threshold 0.6, got %f", loaded.Thresholds.For("lookup"))
	}
	if loaded.Thresholds.For("reasoning") != 0.8 {
		t.Errorf("expected reasoning threshold 0.8, got %f", loaded.Thresholds.For("reasoning"))
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTierRegistryAndRoutingTable(t *testing.T) {
	cfg := DefaultConfig()

	reg, err := cfg.TierRegistry()
	if err != nil {
		t.Fatalf("TierRegistry failed: %v", err)
	}
	if reg.Len() != 3 {
		t.Fatalf("expected 3 tiers in registry, got %d", reg.Len())
	}

	table, err := cfg.RoutingTable(reg)
	if err != nil {
		t.Fatalf("RoutingTable failed: %v", err)
	}
	if table["classification"] != 0 {
		t.Errorf("expected classification to route to T0, got %v", table["classification"])
	}
	if table["reasoning"] != 2 {
		t.Errorf("expected reasoning to route to T2, got %v", table["reasoning"])
	}
}

func TestPricingOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.toml")

	doc := `
[prices."openai/gpt-4o-mini"]
input = 0.30
output = 1.20
`
	if err := os.WriteFile(path, []byte(doc), 0640); err != nil {
		t.Fatalf("write pricing: %v", err)
	}

	p, err := LoadPricing(path)
	if err != nil {
		t.Fatalf("LoadPricing failed: %v", err)
	}

	cfg := DefaultConfig()
	applied := cfg.ApplyPricing(p)
	if applied != 1 {
		t.Fatalf("expected 1 override applied, got %d", applied)
	}
	if cfg.Tiers[1].CostInput != 0.30 || cfg.Tiers[1].CostOutput != 1.20 {
		t.Errorf("expected repriced mini tier, got in=%f out=%f",
			cfg.Tiers[1].CostInput, cfg.Tiers[1].CostOutput)
	}
	// Unmatched tiers keep configured prices
	if cfg.Tiers[2].CostInput != 2.50 {
		t.Errorf("expected frontier price unchanged, got %f", cfg.Tiers[2].CostInput)
	}
}

func TestPricingRejectsNegative(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.toml")

	doc := `
[prices."openai/gpt-4o"]
input = -1.0
output = 10.0
`
	if err := os.WriteFile(path, []byte(doc), 0640); err != nil {
		t.Fatalf("write pricing: %v", err)
	}

	if _, err := LoadPricing(path); err == nil {
		t.Fatal("expected error for negative price")
	}
}
