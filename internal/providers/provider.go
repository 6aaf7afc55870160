// Package providers contains the generation backend clients.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Failure classes for generation calls. RateLimited and Timeout are
// transient and retried with backoff; InvalidSchema is permanent.
var (
	ErrRateLimited   = errors.New("generation rate limited")
	ErrTimeout       = errors.New("generation timed out")
	ErrInvalidSchema = errors.New("generation response failed schema validation")
)

// Client is the generation backend interface.
type Client interface {
	// Complete sends a completion request. Implementations must respect
	// context cancellation and classify failures with the sentinel errors
	// above where possible.
	Complete(ctx context.Context, req *Request) (*Result, error)

	// Name returns the client identifier (e.g. "openai").
	Name() string
}

// Request is a single generation request.
type Request struct {
	// Instruction template output and the (possibly truncated) object
	// definition to document.
	System string
	Input  string

	// Model selection (uses client default if empty).
	Model string

	// Generation parameters.
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration

	// Request tracking.
	RequestID string
}

// Usage records token consumption for a call.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Result is the complete response from a generation call.
type Result struct {
	Content json.RawMessage `json:"content"`
	Usage   Usage           `json:"usage"`

	Provider  string        `json:"provider"`
	ModelUsed string        `json:"model_used"`
	RequestID string        `json:"request_id"`
	Elapsed   time.Duration `json:"elapsed"`
}
