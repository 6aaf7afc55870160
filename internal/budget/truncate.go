package budget

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/schemadoc/schemadoc/internal/classifier"
)

// TruncationMarker is appended whenever a definition body is cut to fit the
// input budget.
const TruncationMarker = "-- [definition truncated to fit generation budget]"

var (
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineCommentRe  = regexp.MustCompile(`(?m)--[^\r\n]*`)
	blankRunRe     = regexp.MustCompile(`\n{3,}`)
	trailingWSRe   = regexp.MustCompile(`(?m)[ \t]+$`)
	bodyStartRe    = regexp.MustCompile(`(?im)^\s*(AS|BEGIN)\s*$`)
)

// Normalize strips comments and formatting noise from a definition so that
// cosmetically different copies of the same object hash to the same cache
// key.
func Normalize(definition string) string {
	s := strings.ReplaceAll(definition, "\r\n", "\n")
	s = blockCommentRe.ReplaceAllString(s, "")
	s = lineCommentRe.ReplaceAllString(s, "")
	s = trailingWSRe.ReplaceAllString(s, "")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// CacheKey derives the content-addressed cache key for a generation input.
// Identical (tier, normalized definition, schema version) triples always
// produce the same key.
func CacheKey(tier classifier.Tier, normalized, schemaVersion string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d\x00%s\x00%s", tier, normalized, schemaVersion)
	return hex.EncodeToString(h.Sum(nil))
}

// EstimateTokens approximates the token count of a text. Four characters
// per token tracks close enough for budget enforcement.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// Truncate cuts a normalized definition down to maxTokens. The declaration
// header and parameter block (everything before the body's AS/BEGIN) are
// preserved verbatim; only the body is cut, and a marker is appended.
func Truncate(normalized string, maxTokens int) string {
	if EstimateTokens(normalized) <= maxTokens {
		return normalized
	}

	header, body := splitHeader(normalized)

	maxChars := maxTokens * 4
	budget := maxChars - len(header) - len(TruncationMarker) - 2
	if budget < 0 {
		budget = 0
	}
	if budget > len(body) {
		budget = len(body)
	}

	// Cut at a line boundary so the tail isn't mid-statement garbage.
	cut := body[:budget]
	if idx := strings.LastIndexByte(cut, '\n'); idx > 0 {
		cut = cut[:idx]
	}

	return header + cut + "\n" + TruncationMarker
}

// splitHeader separates the declaration header (CREATE line through the
// parameter block) from the body. If no body start is found the whole text
// is treated as body.
func splitHeader(s string) (header, body string) {
	loc := bodyStartRe.FindStringIndex(s)
	if loc == nil {
		return "", s
	}
	return s[:loc[1]] + "\n", s[loc[1]:]
}
