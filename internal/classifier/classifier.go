// Package classifier scores extracted metadata into a complexity tier.
// Classification is pure: no I/O, deterministic, and total over all inputs.
package classifier

import (
	"fmt"

	"github.com/schemadoc/schemadoc/internal/docmeta"
)

// Tier is a complexity class. Tier 1 is the most complex and receives the
// largest generation budget.
type Tier int

const (
	Tier1 Tier = 1
	Tier2 Tier = 2
	Tier3 Tier = 3
)

// Thresholds are the score cut-offs between tiers. Scores at or above Tier1
// map to tier 1, at or above Tier2 to tier 2, below to tier 3.
type Thresholds struct {
	Tier1 int
	Tier2 int
}

// DefaultThresholds mirrors the shipped policy (70/30).
func DefaultThresholds() Thresholds {
	return Thresholds{Tier1: 70, Tier2: 30}
}

// Result is the outcome of classifying one object's metadata.
type Result struct {
	Tier     Tier     `json:"tier"`
	Score    int      `json:"score"`
	Reasons  []string `json:"reasons"`
	Sections []string `json:"sections"`
}

// Section sets per tier, matching the rendered document layout. Tier 1 gets
// the full treatment; tier 3 only the essentials.
var tierSections = map[Tier][]string{
	Tier1: {
		"purpose", "recent_changes", "whats_new", "parameters", "logic_flow",
		"dependencies", "usage_examples", "performance_notes",
		"error_handling", "version_history",
	},
	Tier2: {
		"purpose", "recent_changes", "parameters", "logic_flow",
		"dependencies", "usage_examples",
	},
	Tier3: {"purpose", "parameters", "usage_examples"},
}

// Sections returns the response sections required for a tier.
func Sections(t Tier) []string {
	s := tierSections[t]
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// Classify maps metadata to a tier using the given thresholds. A nil
// metadata value is treated as the middle tier so a single bad extraction
// never blocks the pipeline.
func Classify(m *docmeta.Extracted, th Thresholds) Result {
	if m == nil {
		return Result{
			Tier:     Tier2,
			Reasons:  []string{"no metadata available, defaulting to tier 2"},
			Sections: Sections(Tier2),
		}
	}

	score := 0
	var reasons []string
	add := func(points int, reason string) {
		if points <= 0 {
			return
		}
		score += points
		reasons = append(reasons, fmt.Sprintf("%s (+%d)", reason, points))
	}

	add(sizeScore(m.LineCount), fmt.Sprintf("size %d lines", m.LineCount))

	// Fan-out: 4 points per referenced object, capped at 20.
	add(capInt(m.ReferencedObjects*4, 20), fmt.Sprintf("%d referenced objects", m.ReferencedObjects))

	// Parameters: 2 points each, capped at 10.
	add(capInt(m.ParameterCount*2, 10), fmt.Sprintf("%d parameters", m.ParameterCount))

	// Control flow: 30 combined.
	if m.HasNestedConditionals {
		add(10, "nested conditionals")
	}
	if m.HasCursors {
		add(10, "cursor usage")
	}
	if m.HasRecursion {
		add(10, "recursion")
	}

	if m.HasTransactions {
		add(10, "explicit transactions")
	}
	if m.HasDynamicSQL {
		add(10, "dynamic SQL execution")
	}
	if m.HasErrorHandling {
		add(10, "structured error handling")
	}

	if score > 100 {
		score = 100
	}

	tier := Tier3
	switch {
	case score >= th.Tier1:
		tier = Tier1
	case score >= th.Tier2:
		tier = Tier2
	}

	return Result{
		Tier:     tier,
		Score:    score,
		Reasons:  reasons,
		Sections: Sections(tier),
	}
}

// sizeScore maps a line count onto the 0-20 size component.
func sizeScore(lines int) int {
	switch {
	case lines >= 500:
		return 20
	case lines >= 300:
		return 16
	case lines >= 150:
		return 12
	case lines >= 75:
		return 10
	case lines >= 30:
		return 6
	default:
		return 2
	}
}

func capInt(v, max int) int {
	if v > max {
		return max
	}
	return v
}
