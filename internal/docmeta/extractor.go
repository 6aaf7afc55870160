package docmeta

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// ErrExtractionUnavailable indicates the extraction backend could not be
// reached. Callers retry a bounded number of times before failing the item.
var ErrExtractionUnavailable = errors.New("metadata extraction unavailable")

// Extractor produces structured metadata for an object descriptor.
// Implementations may call out to a catalog service; they must respect
// context cancellation.
type Extractor interface {
	Extract(ctx context.Context, desc ObjectDescriptor) (*Extracted, error)
}

// StaticExtractor derives metadata from the object definition text alone.
// It is the default extractor when no catalog service is configured.
type StaticExtractor struct{}

var (
	paramRe     = regexp.MustCompile(`(?im)^\s*@\w+\s+\w+`)
	referenceRe = regexp.MustCompile(`(?i)\b(?:from|join|exec(?:ute)?|insert\s+into|update|delete\s+from)\s+(\[?\w+\]?\.\[?\w+\]?)`)
	cursorRe    = regexp.MustCompile(`(?i)\bdeclare\b.+\bcursor\b`)
	dynamicRe   = regexp.MustCompile(`(?i)\bsp_executesql\b|\bexec(?:ute)?\s*\(`)
	tranRe      = regexp.MustCompile(`(?i)\bbegin\s+tran(?:saction)?\b`)
	tryRe       = regexp.MustCompile(`(?i)\bbegin\s+try\b|\braiserror\b|\bthrow\b`)
	nestedIfRe  = regexp.MustCompile(`(?is)\bif\b.*\bif\b`)
)

// Extract scans the definition text for complexity indicators.
func (StaticExtractor) Extract(ctx context.Context, desc ObjectDescriptor) (*Extracted, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !desc.Valid() {
		return nil, errors.New("descriptor missing name or definition")
	}

	def := desc.Definition
	refs := map[string]struct{}{}
	for _, m := range referenceRe.FindAllStringSubmatch(def, -1) {
		refs[strings.ToLower(m[1])] = struct{}{}
	}

	m := &Extracted{
		LineCount:             strings.Count(def, "\n") + 1,
		ReferencedObjects:     len(refs),
		ParameterCount:        len(paramRe.FindAllString(def, -1)),
		HasNestedConditionals: nestedIfRe.MatchString(def),
		HasCursors:            cursorRe.MatchString(def),
		HasRecursion:          strings.Contains(strings.ToLower(def), strings.ToLower(desc.Name)+" ") && strings.Count(strings.ToLower(def), strings.ToLower(desc.Name)) > 1,
		HasTransactions:       tranRe.MatchString(def),
		HasDynamicSQL:         dynamicRe.MatchString(def),
		HasErrorHandling:      tryRe.MatchString(def),
		Confidence:            0.95,
		Method:                "static_scan",
	}
	return m, nil
}
