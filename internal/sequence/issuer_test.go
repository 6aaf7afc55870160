package sequence

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/schemadoc/schemadoc/internal/store"
)

func newTestIssuer(t *testing.T) (*Issuer, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "seq.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	issuer := NewIssuer(Config{Store: st})
	if err := issuer.Init(t.Context(), "SP", "VW", "FN"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return issuer, st
}

func TestNextIsMonotonic(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	for want := int64(1); want <= 5; want++ {
		v, err := issuer.Next(t.Context(), "SP", "test")
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if v != want {
			t.Errorf("Next() = %d, want %d", v, want)
		}
	}

	// Categories are independent.
	if v, err := issuer.Next(t.Context(), "VW", "test"); err != nil || v != 1 {
		t.Errorf("Next(VW) = %d, %v, want 1", v, err)
	}

	remaining, err := issuer.Remaining(t.Context(), "SP")
	if err != nil {
		t.Fatalf("Remaining() error = %v", err)
	}
	if remaining != DefaultMaxValue-5 {
		t.Errorf("Remaining() = %d, want %d", remaining, DefaultMaxValue-5)
	}
}

func TestResetStartsOver(t *testing.T) {
	issuer, st := newTestIssuer(t)

	for i := 0; i < 42; i++ {
		if _, err := issuer.Next(t.Context(), "SP", "test"); err != nil {
			t.Fatalf("Next() error = %v", err)
		}
	}

	if err := issuer.Reset(t.Context(), "SP", "ops", "yearly rollover"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	c, err := issuer.Status(t.Context(), "SP")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if c.CurrentValue != 0 || c.ResetCount != 1 {
		t.Errorf("CurrentValue = %d, ResetCount = %d, want 0 and 1", c.CurrentValue, c.ResetCount)
	}

	audits, err := st.ListAudits(t.Context(), "SP")
	if err != nil {
		t.Fatalf("ListAudits() error = %v", err)
	}
	if len(audits) != 1 || audits[0].ValueBefore != 42 {
		t.Errorf("audits = %+v, want one row with value_before 42", audits)
	}

	if v, err := issuer.Next(t.Context(), "SP", "test"); err != nil || v != 1 {
		t.Errorf("Next() after reset = %d, %v, want 1", v, err)
	}
}

func TestNextUnknownCategory(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	if _, err := issuer.Next(t.Context(), "XX", "test"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		category string
		value    int64
		want     string
	}{
		{"SP", 42, "SP-000042"},
		{"VW", 1, "VW-000001"},
		{"FN", 999999, "FN-999999"},
	}
	for _, tt := range tests {
		if got := Format(tt.category, tt.value); got != tt.want {
			t.Errorf("Format(%s, %d) = %q, want %q", tt.category, tt.value, got, tt.want)
		}
	}
}
