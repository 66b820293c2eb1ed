package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func saveConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save config: %v", err)
	}
}

func TestReloadDetectsChangedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	cfg.Server.DataDir = filepath.Join(dir, "data")
	saveConfig(t, path, cfg)

	r := NewReloader(path, cfg, testLogger())

	cfg2 := DefaultConfig()
	cfg2.Server.DataDir = cfg.Server.DataDir
	cfg2.Thresholds.Default = 0.9
	saveConfig(t, path, cfg2)

	res, err := r.Reload()
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if !contains(res.Changed, "Thresholds") {
		t.Errorf("expected Thresholds in changed, got %v", res.Changed)
	}
	if !contains(res.Applied, "Thresholds") {
		t.Errorf("expected Thresholds in applied, got %v", res.Applied)
	}
	if r.Current().Thresholds.Default != 0.9 {
		t.Errorf("expected threshold updated, got %f", r.Current().Thresholds.Default)
	}
}

func TestReloadSkipsRestartOnlyFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	cfg.Server.DataDir = filepath.Join(dir, "data")
	saveConfig(t, path, cfg)

	r := NewReloader(path, cfg, testLogger())

	cfg2 := DefaultConfig()
	cfg2.Server.DataDir = cfg.Server.DataDir
	cfg2.Tiers[0].Model = "llama3.3:70b"
	saveConfig(t, path, cfg2)

	res, err := r.Reload()
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if !contains(res.Skipped, "Tiers") {
		t.Errorf("expected Tiers in skipped, got %v", res.Skipped)
	}
	if contains(res.Applied, "Tiers") {
		t.Errorf("Tiers must not be hot-applied, got %v", res.Applied)
	}
	// Running config keeps the old ladder
	if r.Current().Tiers[0].Model != "llama3.2:3b" {
		t.Errorf("expected tier model unchanged, got %s", r.Current().Tiers[0].Model)
	}
}

func TestReloadRunsApplyHook(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	cfg.Server.DataDir = filepath.Join(dir, "data")
	saveConfig(t, path, cfg)

	r := NewReloader(path, cfg, testLogger())

	hookCalled := false
	if err := r.OnApply("Routing", func(next *Config) error {
		hookCalled = true
		return nil
	}); err != nil {
		t.Fatalf("OnApply failed: %v", err)
	}

	cfg2 := DefaultConfig()
	cfg2.Server.DataDir = cfg.Server.DataDir
	cfg2.Routing["reasoning"] = "mini"
	saveConfig(t, path, cfg2)

	if _, err := r.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if !hookCalled {
		t.Error("expected Routing apply hook to run")
	}
}

func TestOnApplyRejectsRestartOnlyField(t *testing.T) {
	r := NewReloader("unused", DefaultConfig(), testLogger())
	if err := r.OnApply("Tiers", func(*Config) error { return nil }); err == nil {
		t.Fatal("expected error registering hook for restart-only field")
	}
}

func TestWatcherFiresOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	if err := os.WriteFile(path, []byte("{}"), 0640); err != nil {
		t.Fatalf("write config: %v", err)
	}

	changed := make(chan struct{}, 1)
	w := NewWatcher(path, 10*time.Millisecond, testLogger(), func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	w.Start()
	defer w.Stop()

	// Push the mod time forward; coarse filesystem clocks would otherwise
	// hide a fast rewrite.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not report change")
	}
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
