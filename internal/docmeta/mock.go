package docmeta

import (
	"context"
	"sync/atomic"
	"time"
)

// MockExtractor is an Extractor for testing.
type MockExtractor struct {
	// Configurable behavior
	Latency   time.Duration
	FailFirst int // Fail the first N calls with ErrExtractionUnavailable
	Result    *Extracted
	ByName    map[string]*Extracted // Per-object overrides, keyed by FullName

	// State
	callCount atomic.Int64
}

// NewMockExtractor creates a mock with a benign default result.
func NewMockExtractor() *MockExtractor {
	return &MockExtractor{
		Result: &Extracted{
			LineCount:      50,
			ParameterCount: 2,
			Confidence:     0.95,
			Method:         "mock",
		},
	}
}

// Calls returns the number of Extract invocations so far.
func (m *MockExtractor) Calls() int64 {
	return m.callCount.Load()
}

// Extract returns the configured result, honoring latency and failure knobs.
func (m *MockExtractor) Extract(ctx context.Context, desc ObjectDescriptor) (*Extracted, error) {
	count := m.callCount.Add(1)

	if m.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Latency):
		}
	}

	if int(count) <= m.FailFirst {
		return nil, ErrExtractionUnavailable
	}

	if r, ok := m.ByName[desc.FullName()]; ok {
		out := *r
		return &out, nil
	}
	out := *m.Result
	return &out, nil
}
