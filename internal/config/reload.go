package config

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
)

// ReloadResult describes what changed during a config reload.
type ReloadResult struct {
	Changed []string // fields that differ from the running config
	Applied []string // successfully applied at runtime
	Skipped []string // require a full restart
	Errors  []error
}

// Hot-reloadable fields. Thresholds and routing can change between
// requests; the tier ladder and anything holding open resources cannot.
var hotReloadableFields = map[string]bool{
	"Thresholds":   true,
	"Routing":      true,
	"HeavyBoost":   true,
	"LogDecisions": true,
}

// Reloader applies config file changes at runtime. Callers register apply
// hooks per hot-reloadable field; everything else is reported as skipped.
type Reloader struct {
	mu      sync.Mutex
	path    string
	current *Config
	logger  *slog.Logger
	hooks   map[string]func(*Config) error
}

// NewReloader wraps the running config for hot reload.
func NewReloader(path string, current *Config, logger *slog.Logger) *Reloader {
	return &Reloader{
		path:    path,
		current: current,
		logger:  logger.With("component", "config"),
		hooks:   make(map[string]func(*Config) error),
	}
}

// OnApply registers a hook run when the named field changes. The field
// must be hot-reloadable.
func (r *Reloader) OnApply(field string, fn func(*Config) error) error {
	if !hotReloadableFields[field] {
		return fmt.Errorf("config: field %q is not hot-reloadable", field)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[field] = fn
	return nil
}

// Current returns the running config.
func (r *Reloader) Current() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Reload re-reads the config file, diffs it against the running config,
// applies hot-reloadable changes through their hooks, and reports
// restart-only changes as skipped.
func (r *Reloader) Reload() (*ReloadResult, error) {
	next, err := Load(r.path)
	if err != nil {
		return nil, fmt.Errorf("reload config: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res := &ReloadResult{}
	cur := reflect.ValueOf(*r.current)
	nxt := reflect.ValueOf(*next)
	for i := 0; i < cur.NumField(); i++ {
		name := cur.Type().Field(i).Name
		if reflect.DeepEqual(cur.Field(i).Interface(), nxt.Field(i).Interface()) {
			continue
		}
		res.Changed = append(res.Changed, name)
		if !hotReloadableFields[name] {
			res.Skipped = append(res.Skipped, name)
			continue
		}
		if hook, ok := r.hooks[name]; ok {
			if err := hook(next); err != nil {
				res.Errors = append(res.Errors, fmt.Errorf("apply %s: %w", name, err))
				continue
			}
		}
		res.Applied = append(res.Applied, name)
	}

	if len(res.Applied) > 0 {
		r.current = next
	}
	return res, nil
}

// LogResult logs the reload outcome at the appropriate levels.
func (r *ReloadResult) LogResult(logger *slog.Logger) {
	if len(r.Changed) == 0 {
		logger.Info("config reload: no changes detected")
		return
	}

	logger.Info("config reload complete",
		"changed", len(r.Changed),
		"applied", len(r.Applied),
		"skipped", len(r.Skipped),
		"errors", len(r.Errors),
	)

	for _, field := range r.Applied {
		logger.Info("config field hot-reloaded", "field", field)
	}
	for _, field := range r.Skipped {
		logger.Warn("config field requires restart", "field", field)
	}
	for _, err := range r.Errors {
		logger.Error("config reload error", "error", err)
	}
}
