package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockClient is a Client for testing.
type MockClient struct {
	// Configurable behavior
	Latency      time.Duration
	FailWith     error // Returned on every call when set
	FailFirst    int   // Fail the first N calls with FailWith (or ErrRateLimited)
	ResponseJSON json.RawMessage

	// State
	requestCount atomic.Int64
}

// NewMockClient creates a mock returning a minimal valid document payload.
func NewMockClient() *MockClient {
	return &MockClient{
		ResponseJSON: json.RawMessage(`{
			"purpose": "Mock generated purpose.",
			"parameters": [],
			"usage_examples": ["EXEC dbo.MockProc"],
			"confidence": 0.95
		}`),
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string { return MockClientName }

// Calls returns the number of Complete invocations so far.
func (c *MockClient) Calls() int64 { return c.requestCount.Load() }

// Complete returns the configured response, honoring latency and failures.
func (c *MockClient) Complete(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()
	count := c.requestCount.Add(1)

	if c.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.Latency):
		}
	}

	if c.FailWith != nil && (c.FailFirst == 0 || int(count) <= c.FailFirst) {
		return nil, c.FailWith
	}
	if c.FailFirst > 0 && c.FailWith == nil && int(count) <= c.FailFirst {
		return nil, ErrRateLimited
	}

	return &Result{
		Content:   c.ResponseJSON,
		Usage:     Usage{PromptTokens: 100, CompletionTokens: 200, TotalTokens: 300},
		Provider:  MockClientName,
		ModelUsed: req.Model,
		RequestID: fmt.Sprintf("mock-%d", count),
		Elapsed:   time.Since(start),
	}, nil
}
