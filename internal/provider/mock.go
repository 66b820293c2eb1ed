package provider

import (
	"context"
	"sync"
)

func init() {
	Register("mock", func(cfg Config) (Adapter, error) {
		return NewMock("mock"), nil
	})
}

// MockAdapter is a scripted adapter for tests and offline dry runs. Queued
// steps are returned in order; once the script is exhausted the final step
// repeats. The mock reports native confidence, so tiers backed by it should
// set ReportsConfidence.
type MockAdapter struct {
	name string

	mu      sync.Mutex
	script  []mockStep
	pos     int
	invoked int
}

type mockStep struct {
	result *Result
	err    error
}

// NewMock creates an empty mock adapter. With no script it returns a
// fully-confident canned response.
func NewMock(name string) *MockAdapter {
	return &MockAdapter{name: name}
}

func (m *MockAdapter) Name() string { return m.name }

// QueueResult appends a successful response to the script.
func (m *MockAdapter) QueueResult(res *Result) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockStep{result: res})
	return m
}

// QueueError appends a failing invocation to the script.
func (m *MockAdapter) QueueError(err error) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockStep{err: err})
	return m
}

// Invocations returns how many times Invoke was called.
func (m *MockAdapter) Invocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoked
}

func (m *MockAdapter) Invoke(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoked++

	if len(m.script) == 0 {
		return &Result{
			Text:        "ok",
			Confidence:  1.0,
			InputUnits:  int64(len(req.Payload) / 4),
			OutputUnits: 8,
			Model:       m.name,
		}, nil
	}

	step := m.script[m.pos]
	if m.pos < len(m.script)-1 {
		m.pos++
	}
	if step.err != nil {
		return nil, step.err
	}
	return step.result, nil
}
