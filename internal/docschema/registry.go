// Package docschema validates generated documentation payloads against the
// per-tier response schemas.
package docschema

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Version identifies the response schema generation. It participates in
// cache keys, so bumping it invalidates all previously cached output.
const Version = "2025-08-01"

// ErrInvalid marks a payload that failed hard schema validation. It is a
// permanent failure, never retried.
var ErrInvalid = errors.New("payload failed schema validation")

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	compileOnce sync.Once
	compiled    map[int]*jsonschema.Schema
	compileErr  error
)

// compile loads and compiles all tier schemas exactly once.
func compile() {
	compiled = make(map[int]*jsonschema.Schema, 3)
	for tier := 1; tier <= 3; tier++ {
		name := fmt.Sprintf("schemas/tier%d.json", tier)
		data, err := schemaFS.ReadFile(name)
		if err != nil {
			compileErr = fmt.Errorf("read schema %s: %w", name, err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(name, strings.NewReader(string(data))); err != nil {
			compileErr = fmt.Errorf("add schema %s: %w", name, err)
			return
		}
		sch, err := c.Compile(name)
		if err != nil {
			compileErr = fmt.Errorf("compile schema %s: %w", name, err)
			return
		}
		compiled[tier] = sch
	}
}

// Result is the outcome of validating one payload.
type Result struct {
	// Confidence reported by the generation backend, 0 if absent.
	Confidence float64

	// Warnings are soft gaps: sections the tier expects that came back
	// empty. They do not fail validation but do route to review.
	Warnings []string
}

// Validate checks payload against the tier's schema. Hard violations return
// an error wrapping ErrInvalid; soft gaps surface as Result.Warnings.
// expectedSections is the classifier's section set for the tier.
func Validate(tier int, payload json.RawMessage, expectedSections []string) (*Result, error) {
	compileOnce.Do(compile)
	if compileErr != nil {
		return nil, compileErr
	}
	sch, ok := compiled[tier]
	if !ok {
		return nil, fmt.Errorf("no schema for tier %d", tier)
	}

	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: not a JSON object: %v", ErrInvalid, err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	res := &Result{}
	if c, ok := doc["confidence"].(float64); ok {
		res.Confidence = c
	}

	for _, section := range expectedSections {
		if sectionEmpty(doc[section]) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("section %q is empty", section))
		}
	}
	return res, nil
}

// sectionEmpty reports whether a section value carries no content.
func sectionEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}
