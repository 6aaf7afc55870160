// Package sequence issues collision-free, monotonically increasing document
// numbers per category.
package sequence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/schemadoc/schemadoc/internal/store"
)

// DefaultMaxValue caps counters at six digits, matching the rendered
// document number format.
const DefaultMaxValue = 999999

// Issuer allocates document numbers. All increments for a category are
// serialized by the store's atomic compare-and-increment; the issuer never
// hands out the same value twice.
type Issuer struct {
	store         *store.Store
	warnThreshold int64
	logger        *slog.Logger
}

// Config configures an Issuer.
type Config struct {
	Store *store.Store
	// WarnThreshold is the remaining capacity below which Next logs a
	// warning so operators can act before issuance starts failing.
	WarnThreshold int64
	Logger        *slog.Logger
}

// NewIssuer creates an Issuer.
func NewIssuer(cfg Config) *Issuer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WarnThreshold <= 0 {
		cfg.WarnThreshold = 1000
	}
	return &Issuer{
		store:         cfg.Store,
		warnThreshold: cfg.WarnThreshold,
		logger:        logger.With("component", "sequence"),
	}
}

// Init creates counter rows for the given categories if missing. Called once
// at startup.
func (i *Issuer) Init(ctx context.Context, categories ...string) error {
	for _, cat := range categories {
		if err := i.store.EnsureCounter(ctx, cat, DefaultMaxValue); err != nil {
			return err
		}
	}
	return nil
}

// Next returns the next value for a category. Returns
// store.ErrCounterExhausted once the counter reaches its cap.
func (i *Issuer) Next(ctx context.Context, category, actor string) (int64, error) {
	value, err := i.store.IncrementCounter(ctx, category, actor)
	if err != nil {
		return 0, err
	}

	if remaining, rerr := i.Remaining(ctx, category); rerr == nil && remaining <= i.warnThreshold {
		i.logger.Warn("sequence capacity running low",
			"category", category, "remaining", remaining)
	}
	return value, nil
}

// Remaining returns how many values are left before exhaustion.
func (i *Issuer) Remaining(ctx context.Context, category string) (int64, error) {
	c, err := i.store.GetCounter(ctx, category)
	if err != nil {
		return 0, err
	}
	return c.MaxValue - c.CurrentValue, nil
}

// Reset zeroes a counter and records who did it and why. Explicit operator
// action only.
func (i *Issuer) Reset(ctx context.Context, category, actor, reason string) error {
	if err := i.store.ResetCounter(ctx, category, actor, reason); err != nil {
		return err
	}
	i.logger.Info("sequence counter reset",
		"category", category, "actor", actor, "reason", reason)
	return nil
}

// Status returns the counter row for a category.
func (i *Issuer) Status(ctx context.Context, category string) (*store.SequenceCounter, error) {
	return i.store.GetCounter(ctx, category)
}

// Format renders a value as a document number, e.g. Format("SP", 42) is
// "SP-000042".
func Format(category string, value int64) string {
	return fmt.Sprintf("%s-%06d", category, value)
}
