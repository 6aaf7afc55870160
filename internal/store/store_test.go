package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/schemadoc/schemadoc/internal/docmeta"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedBatch(t *testing.T, st *Store, total int) *BatchJob {
	t.Helper()
	b := &BatchJob{ID: fmt.Sprintf("batch-%s", t.Name()), Source: "test", Total: total}
	if err := st.CreateBatch(t.Context(), b); err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
	return b
}

func TestBatchLifecycle(t *testing.T) {
	st := openTestStore(t)
	b := seedBatch(t, st, 3)

	t.Run("initial_state", func(t *testing.T) {
		got, err := st.GetBatch(t.Context(), b.ID)
		if err != nil {
			t.Fatalf("GetBatch() error = %v", err)
		}
		if got.Status != BatchPending {
			t.Errorf("Status = %q, want pending", got.Status)
		}
		if got.Total != 3 || got.Processed != 0 {
			t.Errorf("Total = %d, Processed = %d", got.Total, got.Processed)
		}
		if got.StartedAt != nil || got.CompletedAt != nil {
			t.Error("timestamps set before the batch ran")
		}
	})

	t.Run("running_stamps_started", func(t *testing.T) {
		if err := st.UpdateBatchStatus(t.Context(), b.ID, BatchRunning, ""); err != nil {
			t.Fatalf("UpdateBatchStatus() error = %v", err)
		}
		got, _ := st.GetBatch(t.Context(), b.ID)
		if got.StartedAt == nil {
			t.Error("StartedAt not stamped")
		}
	})

	t.Run("counts_accumulate", func(t *testing.T) {
		if err := st.AddBatchCounts(t.Context(), b.ID, BatchCounts{Processed: 1, Succeeded: 1, ConfHigh: 1}); err != nil {
			t.Fatalf("AddBatchCounts() error = %v", err)
		}
		if err := st.AddBatchCounts(t.Context(), b.ID, BatchCounts{Processed: 1, Failed: 1}); err != nil {
			t.Fatalf("AddBatchCounts() error = %v", err)
		}
		if err := st.AddBatchCounts(t.Context(), b.ID, BatchCounts{Processed: 1, Cancelled: 1}); err != nil {
			t.Fatalf("AddBatchCounts() error = %v", err)
		}

		got, _ := st.GetBatch(t.Context(), b.ID)
		if got.Processed != got.Succeeded+got.Failed+got.Cancelled {
			t.Errorf("processed %d != succeeded %d + failed %d + cancelled %d",
				got.Processed, got.Succeeded, got.Failed, got.Cancelled)
		}
		if got.ConfHigh != 1 {
			t.Errorf("ConfHigh = %d, want 1", got.ConfHigh)
		}
	})

	t.Run("completed_stamps_finish", func(t *testing.T) {
		if err := st.UpdateBatchStatus(t.Context(), b.ID, BatchCompleted, ""); err != nil {
			t.Fatalf("UpdateBatchStatus() error = %v", err)
		}
		got, _ := st.GetBatch(t.Context(), b.ID)
		if got.CompletedAt == nil {
			t.Error("CompletedAt not stamped")
		}
	})
}

func TestAddBatchCountsRejectsNegative(t *testing.T) {
	st := openTestStore(t)
	b := seedBatch(t, st, 1)

	if err := st.AddBatchCounts(t.Context(), b.ID, BatchCounts{Processed: -1}); err == nil {
		t.Fatal("expected error for negative delta")
	}
}

func TestGetBatchNotFound(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.GetBatch(t.Context(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestItemGuardedUpdate(t *testing.T) {
	st := openTestStore(t)
	b := seedBatch(t, st, 1)

	it := &BatchItem{
		ID:         "item-1",
		BatchID:    b.ID,
		ObjectName: "OrderSync",
		ObjectKind: docmeta.KindStoredProcedure,
		Status:     "pending",
	}
	if err := st.CreateItems(t.Context(), []*BatchItem{it}); err != nil {
		t.Fatalf("CreateItems() error = %v", err)
	}

	it.Status = "extracting"
	if err := st.UpdateItem(t.Context(), it, "pending"); err != nil {
		t.Fatalf("UpdateItem() error = %v", err)
	}

	// A second writer still holding the old status must lose.
	stale := *it
	stale.Status = "failed"
	if err := st.UpdateItem(t.Context(), &stale, "pending"); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale update error = %v, want ErrConflict", err)
	}

	got, err := st.GetItem(t.Context(), it.ID)
	if err != nil {
		t.Fatalf("GetItem() error = %v", err)
	}
	if got.Status != "extracting" {
		t.Errorf("Status = %q, want extracting", got.Status)
	}
}

func TestItemRoundTrip(t *testing.T) {
	st := openTestStore(t)
	b := seedBatch(t, st, 1)

	it := &BatchItem{
		ID:           "item-rt",
		BatchID:      b.ID,
		ObjectSchema: "dbo",
		ObjectName:   "OrderSync",
		ObjectKind:   docmeta.KindStoredProcedure,
		QA:           true,
		Status:       "pending",
	}
	if err := st.CreateItems(t.Context(), []*BatchItem{it}); err != nil {
		t.Fatalf("CreateItems() error = %v", err)
	}

	now := time.Now().UTC()
	it.Status = "review_pending"
	it.Metadata = &docmeta.Extracted{LineCount: 42, HasCursors: true, Confidence: 0.8}
	it.Confidence = 0.8
	it.Tier = 2
	it.Content = []byte(`{"purpose":"x"}`)
	it.LowConfidence = true
	it.Reviewer = "dana"
	it.ReviewedAt = &now
	it.ReviewNotes = "check the cursor loop"
	if err := st.UpdateItem(t.Context(), it, "pending"); err != nil {
		t.Fatalf("UpdateItem() error = %v", err)
	}

	got, err := st.GetItem(t.Context(), it.ID)
	if err != nil {
		t.Fatalf("GetItem() error = %v", err)
	}
	if got.FullName() != "dbo.OrderSync" || !got.QA {
		t.Errorf("identity fields lost: %+v", got)
	}
	if got.Metadata == nil || got.Metadata.LineCount != 42 || !got.Metadata.HasCursors {
		t.Errorf("Metadata = %+v", got.Metadata)
	}
	if string(got.Content) != `{"purpose":"x"}` {
		t.Errorf("Content = %s", got.Content)
	}
	if !got.LowConfidence || got.Reviewer != "dana" || got.ReviewedAt == nil {
		t.Errorf("review fields lost: %+v", got)
	}
}

func TestListItemsFilters(t *testing.T) {
	st := openTestStore(t)
	b := seedBatch(t, st, 3)

	items := []*BatchItem{
		{ID: "i1", BatchID: b.ID, ObjectName: "A", ObjectKind: docmeta.KindView, Status: "completed"},
		{ID: "i2", BatchID: b.ID, ObjectName: "B", ObjectKind: docmeta.KindView, Status: "review_pending"},
		{ID: "i3", BatchID: b.ID, ObjectName: "C", ObjectKind: docmeta.KindView, Status: "review_pending", LowConfidence: true},
	}
	if err := st.CreateItems(t.Context(), items); err != nil {
		t.Fatalf("CreateItems() error = %v", err)
	}
	// LowConfidence is only persisted via UpdateItem.
	if err := st.UpdateItem(t.Context(), items[2], "review_pending"); err != nil {
		t.Fatalf("UpdateItem() error = %v", err)
	}

	pending, err := st.ListItems(t.Context(), ItemFilter{BatchID: b.ID, Status: "review_pending"})
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("review_pending items = %d, want 2", len(pending))
	}

	low, err := st.ListItems(t.Context(), ItemFilter{BatchID: b.ID, LowConfidence: true})
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if len(low) != 1 || low[0].ID != "i3" {
		t.Errorf("low-confidence items = %+v, want just i3", low)
	}
}

func TestCascadeDelete(t *testing.T) {
	st := openTestStore(t)
	b := seedBatch(t, st, 1)

	it := &BatchItem{ID: "orphan", BatchID: b.ID, ObjectName: "A", ObjectKind: docmeta.KindView, Status: "pending"}
	if err := st.CreateItems(t.Context(), []*BatchItem{it}); err != nil {
		t.Fatalf("CreateItems() error = %v", err)
	}

	if err := st.DeleteBatch(t.Context(), b.ID); err != nil {
		t.Fatalf("DeleteBatch() error = %v", err)
	}
	if _, err := st.GetItem(t.Context(), it.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("item survived batch deletion: %v", err)
	}
}

func TestDeleteBatchesBefore(t *testing.T) {
	st := openTestStore(t)
	b := seedBatch(t, st, 1)
	if err := st.UpdateBatchStatus(t.Context(), b.ID, BatchCompleted, ""); err != nil {
		t.Fatalf("UpdateBatchStatus() error = %v", err)
	}

	// Cutoff in the past keeps the batch, cutoff in the future removes it.
	n, err := st.DeleteBatchesBefore(t.Context(), time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("DeleteBatchesBefore(past) = %d, %v", n, err)
	}
	n, err = st.DeleteBatchesBefore(t.Context(), time.Now().Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("DeleteBatchesBefore(future) = %d, %v", n, err)
	}
}

func TestCacheEntryExpiry(t *testing.T) {
	st := openTestStore(t)

	live := &CacheEntry{Key: "live", Payload: []byte(`{"a":1}`), ExpiresAt: time.Now().Add(time.Hour)}
	dead := &CacheEntry{Key: "dead", Payload: []byte(`{"b":2}`), ExpiresAt: time.Now().Add(-time.Minute)}
	for _, e := range []*CacheEntry{live, dead} {
		if err := st.PutCacheEntry(t.Context(), e); err != nil {
			t.Fatalf("PutCacheEntry(%s) error = %v", e.Key, err)
		}
	}

	if got, err := st.GetCacheEntry(t.Context(), "live"); err != nil || string(got.Payload) != `{"a":1}` {
		t.Errorf("live entry: %v, %v", got, err)
	}
	if _, err := st.GetCacheEntry(t.Context(), "dead"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired entry error = %v, want ErrNotFound", err)
	}

	n, err := st.DeleteExpiredCacheEntries(t.Context())
	if err != nil || n != 1 {
		t.Errorf("DeleteExpiredCacheEntries() = %d, %v, want 1", n, err)
	}
}

func TestCacheEntryUpsert(t *testing.T) {
	st := openTestStore(t)

	e := &CacheEntry{Key: "k", Payload: []byte(`{"v":1}`), ExpiresAt: time.Now().Add(time.Hour)}
	if err := st.PutCacheEntry(t.Context(), e); err != nil {
		t.Fatalf("first put error = %v", err)
	}
	e.Payload = []byte(`{"v":2}`)
	if err := st.PutCacheEntry(t.Context(), e); err != nil {
		t.Fatalf("second put error = %v", err)
	}

	got, err := st.GetCacheEntry(t.Context(), "k")
	if err != nil {
		t.Fatalf("GetCacheEntry() error = %v", err)
	}
	if string(got.Payload) != `{"v":2}` {
		t.Errorf("Payload = %s, want last write", got.Payload)
	}
}

func TestIncrementCounterConcurrent(t *testing.T) {
	st := openTestStore(t)
	if err := st.EnsureCounter(t.Context(), "SP", 999999); err != nil {
		t.Fatalf("EnsureCounter() error = %v", err)
	}

	const workers, perWorker = 10, 10
	values := make(chan int64, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				v, err := st.IncrementCounter(t.Context(), "SP", "test")
				if err != nil {
					t.Errorf("IncrementCounter() error = %v", err)
					return
				}
				values <- v
			}
		}()
	}
	wg.Wait()
	close(values)

	seen := make(map[int64]bool)
	for v := range values {
		if seen[v] {
			t.Fatalf("value %d issued twice", v)
		}
		seen[v] = true
	}
	if len(seen) != workers*perWorker {
		t.Errorf("issued %d distinct values, want %d", len(seen), workers*perWorker)
	}
	for v := int64(1); v <= workers*perWorker; v++ {
		if !seen[v] {
			t.Errorf("value %d missing from the sequence", v)
		}
	}
}

func TestIncrementCounterExhaustion(t *testing.T) {
	st := openTestStore(t)
	if err := st.EnsureCounter(t.Context(), "VW", 2); err != nil {
		t.Fatalf("EnsureCounter() error = %v", err)
	}

	for want := int64(1); want <= 2; want++ {
		v, err := st.IncrementCounter(t.Context(), "VW", "test")
		if err != nil || v != want {
			t.Fatalf("IncrementCounter() = %d, %v, want %d", v, err, want)
		}
	}
	if _, err := st.IncrementCounter(t.Context(), "VW", "test"); !errors.Is(err, ErrCounterExhausted) {
		t.Fatalf("error = %v, want ErrCounterExhausted", err)
	}
}

func TestIncrementCounterUnknownCategory(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.IncrementCounter(t.Context(), "XX", "test"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestResetCounterWritesOneAudit(t *testing.T) {
	st := openTestStore(t)
	if err := st.EnsureCounter(t.Context(), "FN", 999999); err != nil {
		t.Fatalf("EnsureCounter() error = %v", err)
	}
	for i := 0; i < 42; i++ {
		if _, err := st.IncrementCounter(t.Context(), "FN", "test"); err != nil {
			t.Fatalf("IncrementCounter() error = %v", err)
		}
	}

	if err := st.ResetCounter(t.Context(), "FN", "ops", "fiscal year rollover"); err != nil {
		t.Fatalf("ResetCounter() error = %v", err)
	}

	c, err := st.GetCounter(t.Context(), "FN")
	if err != nil {
		t.Fatalf("GetCounter() error = %v", err)
	}
	if c.CurrentValue != 0 || c.ResetCount != 1 {
		t.Errorf("CurrentValue = %d, ResetCount = %d, want 0 and 1", c.CurrentValue, c.ResetCount)
	}

	audits, err := st.ListAudits(t.Context(), "FN")
	if err != nil {
		t.Fatalf("ListAudits() error = %v", err)
	}
	if len(audits) != 1 {
		t.Fatalf("audits = %d rows, want exactly 1", len(audits))
	}
	a := audits[0]
	if a.Action != "reset" || a.Actor != "ops" || a.ValueBefore != 42 || a.ValueAfter != 0 {
		t.Errorf("audit = %+v", a)
	}

	// The next value after a reset starts over at 1.
	if v, err := st.IncrementCounter(t.Context(), "FN", "test"); err != nil || v != 1 {
		t.Errorf("IncrementCounter() after reset = %d, %v, want 1", v, err)
	}
}

func TestEnsureCounterIdempotent(t *testing.T) {
	st := openTestStore(t)
	if err := st.EnsureCounter(t.Context(), "SP", 999999); err != nil {
		t.Fatalf("first EnsureCounter() error = %v", err)
	}
	if _, err := st.IncrementCounter(t.Context(), "SP", "test"); err != nil {
		t.Fatalf("IncrementCounter() error = %v", err)
	}
	if err := st.EnsureCounter(t.Context(), "SP", 999999); err != nil {
		t.Fatalf("second EnsureCounter() error = %v", err)
	}
	c, _ := st.GetCounter(t.Context(), "SP")
	if c.CurrentValue != 1 {
		t.Errorf("CurrentValue = %d, ensure must not reset", c.CurrentValue)
	}
}
