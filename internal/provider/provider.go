// Package provider defines the uniform adapter contract the routing engine
// uses to invoke one tier's model backend, plus a factory registry so
// adapters can be selected by name from configuration.
//
// The engine treats adapters as black boxes: an adapter either returns a
// structured Result, fails with an *APIError (the backend answered with an
// error), or fails with a transport error / ErrUnavailable (the backend was
// never reached).
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnavailable signals that the backend could not be reached at all
// (connection refused, DNS failure, explicit drain). The engine escalates
// immediately and records zero cost.
var ErrUnavailable = errors.New("provider: backend unavailable")

// ErrUnknownAdapter is returned by New for unregistered adapter names.
var ErrUnknownAdapter = errors.New("provider: unknown adapter")

// Request is one invocation of a tier's backend.
type Request struct {
	Model         string
	Payload       string
	RequiresTools bool
	MaxTokens     int
}

// Result is the structured outcome of a successful invocation.
type Result struct {
	Text string `json:"text"`
	// Confidence is the backend's native confidence in [0,1]. Only
	// meaningful when the tier's ReportsConfidence capability is set;
	// otherwise the engine substitutes 1.0.
	Confidence  float64 `json:"confidence"`
	InputUnits  int64   `json:"inputUnits"`
	OutputUnits int64   `json:"outputUnits"`
	Model       string  `json:"model,omitempty"`
}

// APIError is a backend-reported error (any non-2xx class response). The
// backend was reached, so any reported usage still incurs cost.
type APIError struct {
	Status      int
	Message     string
	InputUnits  int64
	OutputUnits int64
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider: API error %d: %s", e.Status, e.Message)
}

// Adapter is the uniform backend contract. Implementations must honor ctx
// cancellation and deadlines.
type Adapter interface {
	Name() string
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// Config carries adapter construction settings from the tier definition.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout int // seconds; 0 = adapter default
}

// Factory creates an Adapter from configuration. Each adapter registers
// its own factory in init().
type Factory func(cfg Config) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds an adapter factory. Panics on duplicate names so wiring
// mistakes surface at startup.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("provider %q already registered", name))
	}
	registry[name] = factory
}

// New creates an Adapter using the named factory.
func New(name string, cfg Config) (Adapter, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAdapter, name)
	}
	return factory(cfg)
}

// Available returns the registered adapter names, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
