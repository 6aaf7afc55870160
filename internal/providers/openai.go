package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	OpenAIClientName   = "openai"
	openAIDefaultModel = "gpt-4o-mini"
)

// Pricing approximations in USD per 1M tokens, used because billing data is
// not returned on the API. Unknown models report zero cost.
var openAIPricing = map[string]struct{ input, output float64 }{
	"gpt-4o":      {2.50, 10.00},
	"gpt-4o-mini": {0.15, 0.60},
}

// OpenAIConfig holds configuration for the OpenAI generation client.
type OpenAIConfig struct {
	APIKey     string
	Model      string        // Default model when the request has none
	BaseURL    string        // Optional (tests)
	Timeout    time.Duration // Default per-request timeout
	HTTPClient *http.Client  // Optional (tests)
}

// OpenAIClient implements Client using the official OpenAI SDK.
type OpenAIClient struct {
	model   string
	timeout time.Duration
	client  openai.Client
}

// NewOpenAIClient creates a new OpenAI generation client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// SDK-level transport retries are disabled; retry policy lives in
		// the budgeter where failures are classified first.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAIClient{
		model:   cfg.Model,
		timeout: cfg.Timeout,
		client:  openai.NewClient(opts...),
	}
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string { return OpenAIClientName }

// Complete sends a chat completion request expecting a JSON document body.
func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.model
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.Input),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if !json.Valid([]byte(content)) {
		return nil, fmt.Errorf("%w: response is not valid JSON", ErrInvalidSchema)
	}

	usage := Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	if p, ok := openAIPricing[model]; ok {
		usage.CostUSD = float64(usage.PromptTokens)/1e6*p.input +
			float64(usage.CompletionTokens)/1e6*p.output
	}

	return &Result{
		Content:   json.RawMessage(content),
		Usage:     usage,
		Provider:  OpenAIClientName,
		ModelUsed: model,
		RequestID: req.RequestID,
		Elapsed:   time.Since(start),
	}, nil
}

// mapOpenAIError classifies SDK errors into the pipeline failure taxonomy.
func mapOpenAIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
	}
	return err
}
