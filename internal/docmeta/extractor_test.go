package docmeta

import (
	"context"
	"errors"
	"testing"
)

const sampleProc = `CREATE PROCEDURE dbo.OrderSync
    @OrderID INT,
    @Mode VARCHAR(10)
AS
BEGIN
    BEGIN TRY
        BEGIN TRAN
        IF @Mode = 'full'
        BEGIN
            IF @OrderID > 0
                UPDATE dbo.Orders SET synced = 1
        END
        DECLARE order_cur CURSOR FOR SELECT id FROM dbo.OrderLines
        EXEC sp_executesql @sql
        COMMIT
    END TRY
    BEGIN CATCH
        ROLLBACK
    END CATCH
END`

func TestStaticExtractor(t *testing.T) {
	desc := ObjectDescriptor{
		Schema:     "dbo",
		Name:       "OrderSync",
		Kind:       KindStoredProcedure,
		Definition: sampleProc,
	}

	meta, err := StaticExtractor{}.Extract(t.Context(), desc)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if meta.ParameterCount != 2 {
		t.Errorf("ParameterCount = %d, want 2", meta.ParameterCount)
	}
	if meta.ReferencedObjects != 2 {
		t.Errorf("ReferencedObjects = %d, want 2 (dbo.Orders, dbo.OrderLines)", meta.ReferencedObjects)
	}
	if !meta.HasCursors {
		t.Error("HasCursors = false, want true")
	}
	if !meta.HasDynamicSQL {
		t.Error("HasDynamicSQL = false, want true")
	}
	if !meta.HasTransactions {
		t.Error("HasTransactions = false, want true")
	}
	if !meta.HasErrorHandling {
		t.Error("HasErrorHandling = false, want true")
	}
	if !meta.HasNestedConditionals {
		t.Error("HasNestedConditionals = false, want true")
	}
	if meta.HasRecursion {
		t.Error("HasRecursion = true, want false")
	}
	if meta.Confidence <= 0 || meta.Confidence > 1 {
		t.Errorf("Confidence = %v, want in (0,1]", meta.Confidence)
	}
	if meta.Method != "static_scan" {
		t.Errorf("Method = %q, want static_scan", meta.Method)
	}
}

func TestStaticExtractorInvalidDescriptor(t *testing.T) {
	_, err := StaticExtractor{}.Extract(t.Context(), ObjectDescriptor{Name: "NoBody"})
	if err == nil {
		t.Fatal("expected error for descriptor without definition")
	}
}

func TestStaticExtractorCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	desc := ObjectDescriptor{Name: "X", Definition: "SELECT 1", Kind: KindView}
	if _, err := (StaticExtractor{}).Extract(ctx, desc); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestMockExtractorFailFirst(t *testing.T) {
	m := NewMockExtractor()
	m.FailFirst = 2

	desc := ObjectDescriptor{Name: "X", Definition: "SELECT 1"}
	for i := 0; i < 2; i++ {
		if _, err := m.Extract(t.Context(), desc); !errors.Is(err, ErrExtractionUnavailable) {
			t.Fatalf("call %d error = %v, want ErrExtractionUnavailable", i+1, err)
		}
	}
	meta, err := m.Extract(t.Context(), desc)
	if err != nil {
		t.Fatalf("third call error = %v", err)
	}
	if meta == nil || m.Calls() != 3 {
		t.Errorf("meta = %v, calls = %d", meta, m.Calls())
	}
}

func TestObjectKindCategory(t *testing.T) {
	tests := []struct {
		kind ObjectKind
		want string
	}{
		{KindStoredProcedure, "SP"},
		{KindView, "VW"},
		{KindFunction, "FN"},
		{ObjectKind("trigger"), "OB"},
	}
	for _, tt := range tests {
		if got := tt.kind.Category(); got != tt.want {
			t.Errorf("Category(%q) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestDescriptorNormalize(t *testing.T) {
	d := ObjectDescriptor{Schema: " dbo ", Name: " OrderSync ", Kind: "VIEW", Definition: "SELECT 1"}
	d.Normalize()
	if d.Schema != "dbo" || d.Name != "OrderSync" || d.Kind != KindView {
		t.Errorf("Normalize() = %+v", d)
	}
	if d.FullName() != "dbo.OrderSync" {
		t.Errorf("FullName() = %q", d.FullName())
	}
	if !d.Valid() {
		t.Error("Valid() = false")
	}
}
