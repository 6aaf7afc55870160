package budget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/schemadoc/schemadoc/internal/classifier"
	"github.com/schemadoc/schemadoc/internal/docschema"
	"github.com/schemadoc/schemadoc/internal/providers"
	"github.com/schemadoc/schemadoc/internal/store"
)

// CacheStore is the slice of the durable store the generator needs.
type CacheStore interface {
	GetCacheEntry(ctx context.Context, key string) (*store.CacheEntry, error)
	PutCacheEntry(ctx context.Context, e *store.CacheEntry) error
}

// Output is a validated generation result.
type Output struct {
	Payload    json.RawMessage
	Usage      providers.Usage
	Confidence float64
	Warnings   []string
	CacheKey   string
	CacheHit   bool
}

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	Client  providers.Client
	Cache   CacheStore
	Limiter *providers.RateLimiter
	Policy  Policy
	Logger  *slog.Logger
}

// Generator runs budgeted, cached, validated generation calls.
type Generator struct {
	client  providers.Client
	cache   CacheStore
	limiter *providers.RateLimiter
	policy  Policy
	logger  *slog.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Policy.Budgets == nil {
		cfg.Policy = DefaultPolicy()
	}
	return &Generator{
		client:  cfg.Client,
		cache:   cfg.Cache,
		limiter: cfg.Limiter,
		policy:  cfg.Policy,
		logger:  logger.With("component", "generator"),
	}
}

// Generate produces validated documentation content for one object.
// normalizedInput must already be passed through Normalize. Cache hits
// return with zero token usage and no backend call.
func (g *Generator) Generate(ctx context.Context, tier classifier.Tier, sections []string, objectName, normalizedInput string) (*Output, error) {
	if out, err := g.FromCache(ctx, tier, sections, objectName, normalizedInput); err == nil {
		return out, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		// Cache trouble must not block generation.
		g.logger.Warn("cache lookup failed", "object", objectName, "error", err)
	}
	return g.GenerateUncached(ctx, tier, sections, objectName, normalizedInput)
}

// FromCache returns the cached output for this input, or store.ErrNotFound
// on a miss. Cached output was validated before it was written, so usage is
// zero and no backend call happens.
func (g *Generator) FromCache(ctx context.Context, tier classifier.Tier, sections []string, objectName, normalizedInput string) (*Output, error) {
	key := CacheKey(tier, normalizedInput, docschema.Version)
	if g.cache == nil {
		return nil, store.ErrNotFound
	}

	entry, err := g.cache.GetCacheEntry(ctx, key)
	if err != nil {
		return nil, err
	}

	g.logger.Debug("cache hit", "object", objectName, "key", key[:12])
	out := &Output{Payload: entry.Payload, CacheKey: key, CacheHit: true}
	if res, verr := docschema.Validate(int(tier), entry.Payload, sections); verr == nil {
		out.Confidence = res.Confidence
		out.Warnings = res.Warnings
	}
	return out, nil
}

// GenerateUncached skips the cache lookup, invokes the backend under the
// tier budget and writes the validated result through to the cache.
func (g *Generator) GenerateUncached(ctx context.Context, tier classifier.Tier, sections []string, objectName, normalizedInput string) (*Output, error) {
	key := CacheKey(tier, normalizedInput, docschema.Version)
	b := g.policy.ForTier(tier)
	input := Truncate(normalizedInput, b.MaxInputTokens)
	if input != normalizedInput {
		g.logger.Info("input truncated to budget",
			"object", objectName, "tier", int(tier), "max_input_tokens", b.MaxInputTokens)
	}

	req := &providers.Request{
		System:      instructions(tier, sections),
		Input:       input,
		Model:       b.Model,
		Temperature: b.Temperature,
		MaxTokens:   b.MaxOutputTokens,
		Timeout:     b.Timeout,
		RequestID:   key[:12],
	}

	var result *providers.Result
	err := retry.Do(
		func() error {
			if g.limiter != nil {
				if err := g.limiter.Wait(ctx); err != nil {
					return retry.Unrecoverable(err)
				}
			}
			r, err := g.client.Complete(ctx, req)
			if err != nil {
				if transient(err) {
					return err
				}
				return retry.Unrecoverable(err)
			}
			result = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(g.policy.MaxAttempts)),
		retry.Delay(g.policy.RetryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("generation failed for %s: %w", objectName, err)
	}

	res, err := docschema.Validate(int(tier), result.Content, sections)
	if err != nil {
		if errors.Is(err, docschema.ErrInvalid) {
			// Permanent: a malformed response will not improve on retry.
			return nil, fmt.Errorf("%w: %v", providers.ErrInvalidSchema, err)
		}
		return nil, err
	}

	out := &Output{
		Payload:    result.Content,
		Usage:      result.Usage,
		Confidence: res.Confidence,
		Warnings:   res.Warnings,
		CacheKey:   key,
	}

	if g.cache != nil {
		usageRaw, _ := json.Marshal(result.Usage)
		entry := &store.CacheEntry{
			Key:        key,
			Payload:    result.Content,
			TokenUsage: usageRaw,
			ExpiresAt:  time.Now().UTC().Add(g.policy.CacheTTL),
		}
		if err := g.cache.PutCacheEntry(ctx, entry); err != nil {
			// Write-through is best effort; the result is still good.
			g.logger.Warn("cache write failed", "object", objectName, "error", err)
		}
	}

	return out, nil
}

// transient reports whether a generation failure is worth retrying.
func transient(err error) bool {
	return errors.Is(err, providers.ErrRateLimited) || errors.Is(err, providers.ErrTimeout)
}

// instructions builds the tier-specific instruction template. Tier 1 asks
// for the full section set in depth; lower tiers get narrower asks.
func instructions(tier classifier.Tier, sections []string) string {
	var sb strings.Builder
	sb.WriteString("You are a database documentation writer. ")
	sb.WriteString("Document the following SQL Server object definition. ")
	switch tier {
	case classifier.Tier1:
		sb.WriteString("This is a high-complexity object: be thorough and cover edge cases. ")
	case classifier.Tier2:
		sb.WriteString("This is a medium-complexity object: be concise but complete. ")
	default:
		sb.WriteString("This is a simple object: keep the documentation brief. ")
	}
	sb.WriteString("Respond with a single JSON object containing exactly these fields: ")
	sb.WriteString(strings.Join(sections, ", "))
	sb.WriteString(", confidence. The confidence field is your 0-1 estimate of how ")
	sb.WriteString("reliably the definition could be documented.")
	return sb.String()
}
