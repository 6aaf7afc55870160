package docschema

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

var tier3Sections = []string{"purpose", "parameters", "usage_examples"}

const validTier3 = `{
	"purpose": "Returns active users.",
	"parameters": [{"name": "@Days", "type": "INT", "description": "Lookback window"}],
	"usage_examples": ["SELECT * FROM dbo.ActiveUsers"],
	"confidence": 0.9
}`

func TestValidateAccepts(t *testing.T) {
	res, err := Validate(3, json.RawMessage(validTier3), tier3Sections)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if res.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", res.Confidence)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", res.Warnings)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	_, err := Validate(3, json.RawMessage(`{"purpose": "x"}`), tier3Sections)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("error = %v, want ErrInvalid", err)
	}
}

func TestValidateNotAnObject(t *testing.T) {
	_, err := Validate(3, json.RawMessage(`[1, 2, 3]`), tier3Sections)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("error = %v, want ErrInvalid", err)
	}
}

func TestValidateWrongType(t *testing.T) {
	payload := `{
		"purpose": "x",
		"parameters": "not an array",
		"usage_examples": ["q"],
		"confidence": 0.5
	}`
	_, err := Validate(3, json.RawMessage(payload), tier3Sections)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("error = %v, want ErrInvalid", err)
	}
}

func TestValidateEmptySectionWarns(t *testing.T) {
	payload := `{
		"purpose": "Returns active users.",
		"parameters": [],
		"usage_examples": ["SELECT 1"],
		"confidence": 0.92
	}`
	res, err := Validate(3, json.RawMessage(payload), tier3Sections)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "parameters") {
		t.Errorf("Warnings = %v, want one about parameters", res.Warnings)
	}
}

func TestValidateUnknownTier(t *testing.T) {
	if _, err := Validate(9, json.RawMessage(validTier3), nil); err == nil {
		t.Fatal("expected error for unknown tier")
	}
}

func TestValidateConfidenceOutOfRange(t *testing.T) {
	payload := strings.Replace(validTier3, "0.9", "1.5", 1)
	if _, err := Validate(3, json.RawMessage(payload), tier3Sections); !errors.Is(err, ErrInvalid) {
		t.Fatalf("error = %v, want ErrInvalid for confidence > 1", err)
	}
}

func TestAllTierSchemasCompile(t *testing.T) {
	// Tier 1 requires the widest section set; a payload covering every
	// section must satisfy all three schemas.
	payload := `{
		"purpose": "Synchronizes orders.",
		"recent_changes": [{"date": "2025-06-01", "summary": "Initial"}],
		"whats_new": "Initial release.",
		"parameters": [{"name": "@OrderID", "type": "INT", "description": "Order id"}],
		"logic_flow": ["Validate input", "Upsert order"],
		"dependencies": ["dbo.Orders"],
		"usage_examples": ["EXEC dbo.OrderSync @OrderID = 1"],
		"performance_notes": "Index seek on OrderID.",
		"error_handling": "TRY/CATCH with rethrow.",
		"version_history": [{"version": "1.0", "summary": "Initial"}],
		"confidence": 0.95
	}`
	for tier := 1; tier <= 3; tier++ {
		if _, err := Validate(tier, json.RawMessage(payload), nil); err != nil {
			t.Errorf("tier %d: Validate() error = %v", tier, err)
		}
	}
}
