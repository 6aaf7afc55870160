package budget

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/schemadoc/schemadoc/internal/classifier"
	"github.com/schemadoc/schemadoc/internal/providers"
	"github.com/schemadoc/schemadoc/internal/store"
)

func testPolicy() Policy {
	p := DefaultPolicy()
	p.MaxAttempts = 3
	p.RetryBaseDelay = time.Millisecond
	return p
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestGenerateWritesThroughCache(t *testing.T) {
	st := openTestStore(t)
	client := providers.NewMockClient()
	g := NewGenerator(GeneratorConfig{Client: client, Cache: st, Policy: testPolicy()})

	sections := classifier.Sections(classifier.Tier3)
	input := Normalize("CREATE VIEW dbo.V AS SELECT 1")

	first, err := g.Generate(t.Context(), classifier.Tier3, sections, "dbo.V", input)
	if err != nil {
		t.Fatalf("first Generate() error = %v", err)
	}
	if first.CacheHit {
		t.Error("first call reported a cache hit")
	}
	if first.Usage.TotalTokens == 0 {
		t.Error("first call reported zero token usage")
	}
	if first.Confidence != 0.95 {
		t.Errorf("Confidence = %v, want 0.95", first.Confidence)
	}

	second, err := g.Generate(t.Context(), classifier.Tier3, sections, "dbo.V", input)
	if err != nil {
		t.Fatalf("second Generate() error = %v", err)
	}
	if !second.CacheHit {
		t.Error("second call missed the cache")
	}
	if second.Usage.TotalTokens != 0 {
		t.Errorf("cache hit reported usage %+v, want zero", second.Usage)
	}
	if second.CacheKey != first.CacheKey {
		t.Errorf("cache keys differ: %s vs %s", second.CacheKey, first.CacheKey)
	}
	if string(second.Payload) != string(first.Payload) {
		t.Error("cached payload differs from generated payload")
	}
	if client.Calls() != 1 {
		t.Errorf("backend calls = %d, want 1", client.Calls())
	}
}

func TestGenerateRetriesTransientFailures(t *testing.T) {
	client := providers.NewMockClient()
	client.FailFirst = 2 // rate limited twice, then succeed

	g := NewGenerator(GeneratorConfig{Client: client, Policy: testPolicy()})
	out, err := g.Generate(t.Context(), classifier.Tier3, classifier.Sections(classifier.Tier3), "dbo.V", "SELECT 1")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out == nil || client.Calls() != 3 {
		t.Errorf("calls = %d, want 3", client.Calls())
	}
}

func TestGenerateExhaustsRetries(t *testing.T) {
	client := providers.NewMockClient()
	client.FailWith = providers.ErrRateLimited

	g := NewGenerator(GeneratorConfig{Client: client, Policy: testPolicy()})
	_, err := g.Generate(t.Context(), classifier.Tier3, nil, "dbo.V", "SELECT 1")
	if !errors.Is(err, providers.ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
	if client.Calls() != 3 {
		t.Errorf("calls = %d, want 3 (max attempts)", client.Calls())
	}
}

func TestGeneratePermanentErrorNotRetried(t *testing.T) {
	client := providers.NewMockClient()
	client.FailWith = errors.New("model not found")

	g := NewGenerator(GeneratorConfig{Client: client, Policy: testPolicy()})
	if _, err := g.Generate(t.Context(), classifier.Tier3, nil, "dbo.V", "SELECT 1"); err == nil {
		t.Fatal("expected error")
	}
	if client.Calls() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on permanent failure)", client.Calls())
	}
}

func TestGenerateInvalidPayloadNotRetried(t *testing.T) {
	client := providers.NewMockClient()
	client.ResponseJSON = json.RawMessage(`{"purpose": 42}`)

	g := NewGenerator(GeneratorConfig{Client: client, Policy: testPolicy()})
	_, err := g.Generate(t.Context(), classifier.Tier3, classifier.Sections(classifier.Tier3), "dbo.V", "SELECT 1")
	if !errors.Is(err, providers.ErrInvalidSchema) {
		t.Fatalf("error = %v, want ErrInvalidSchema", err)
	}
	if client.Calls() != 1 {
		t.Errorf("calls = %d, want 1 (schema failures are permanent)", client.Calls())
	}
}

func TestFromCacheMiss(t *testing.T) {
	st := openTestStore(t)
	g := NewGenerator(GeneratorConfig{Client: providers.NewMockClient(), Cache: st, Policy: testPolicy()})

	_, err := g.FromCache(t.Context(), classifier.Tier3, nil, "dbo.V", "SELECT 1")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("error = %v, want store.ErrNotFound on a cold cache", err)
	}
}

func TestGenerateSurvivesCacheFailure(t *testing.T) {
	// No cache configured at all: generation must still work.
	client := providers.NewMockClient()
	g := NewGenerator(GeneratorConfig{Client: client, Policy: testPolicy()})

	out, err := g.Generate(t.Context(), classifier.Tier3, nil, "dbo.V", "SELECT 1")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out.CacheHit {
		t.Error("reported cache hit without a cache")
	}
}
