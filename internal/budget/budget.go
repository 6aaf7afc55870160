// Package budget computes per-tier generation budgets and drives the
// generation backend through cache, truncation, retry and validation.
package budget

import (
	"time"

	"github.com/schemadoc/schemadoc/internal/classifier"
)

// Budget is the token/cost envelope for one generation call.
type Budget struct {
	Tier            classifier.Tier `json:"tier"`
	MaxInputTokens  int             `json:"max_input_tokens"`
	MaxOutputTokens int             `json:"max_output_tokens"`
	Model           string          `json:"model"`
	Temperature     float64         `json:"temperature"`
	Timeout         time.Duration   `json:"timeout"`
}

// Policy holds the configurable generation policy: budgets per tier, retry
// bounds and cache TTL.
type Policy struct {
	Budgets        map[classifier.Tier]Budget
	CacheTTL       time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// DefaultPolicy returns the shipped policy. Higher tiers get larger budgets
// and a higher-capability model class.
func DefaultPolicy() Policy {
	return Policy{
		Budgets: map[classifier.Tier]Budget{
			classifier.Tier1: {
				Tier:            classifier.Tier1,
				MaxInputTokens:  24000,
				MaxOutputTokens: 4000,
				Model:           "gpt-4o",
				Temperature:     0.2,
				Timeout:         180 * time.Second,
			},
			classifier.Tier2: {
				Tier:            classifier.Tier2,
				MaxInputTokens:  12000,
				MaxOutputTokens: 2000,
				Model:           "gpt-4o-mini",
				Temperature:     0.2,
				Timeout:         120 * time.Second,
			},
			classifier.Tier3: {
				Tier:            classifier.Tier3,
				MaxInputTokens:  6000,
				MaxOutputTokens: 1000,
				Model:           "gpt-4o-mini",
				Temperature:     0.2,
				Timeout:         60 * time.Second,
			},
		},
		CacheTTL:       24 * time.Hour,
		MaxAttempts:    3,
		RetryBaseDelay: 2 * time.Second,
	}
}

// ForTier returns the budget for a tier, falling back to tier 2.
func (p Policy) ForTier(t classifier.Tier) Budget {
	if b, ok := p.Budgets[t]; ok {
		return b
	}
	return p.Budgets[classifier.Tier2]
}
