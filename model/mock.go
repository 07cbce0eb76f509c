package model

import (
	"context"
	"sync"
)

// MockModel is a lightweight in-memory Model useful for tests & examples.
// It replays scripted steps in order; once the script is exhausted the last
// step repeats.
type MockModel struct {
	info Info

	mu       sync.Mutex
	steps    []MockStep
	requests []Request
}

// MockStep is one scripted outcome. Err takes precedence over Response.
type MockStep struct {
	Response *Response
	Err      error
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string, steps ...MockStep) *MockModel {
	return &MockModel{
		info:  Info{Name: name, Provider: provider, SupportsTools: true},
		steps: steps,
	}
}

// Then appends a scripted step.
func (m *MockModel) Then(resp *Response, err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, MockStep{Response: resp, Err: err})
	return m
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := len(m.requests)
	m.requests = append(m.requests, req)

	if len(m.steps) == 0 {
		return &Response{}, nil
	}
	if idx >= len(m.steps) {
		idx = len(m.steps) - 1
	}
	step := m.steps[idx]
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Calls returns the number of Generate invocations.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of the recorded requests.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
