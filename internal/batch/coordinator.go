// Package batch coordinates concurrent processing of submitted batches.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/schemadoc/schemadoc/internal/docmeta"
	"github.com/schemadoc/schemadoc/internal/events"
	"github.com/schemadoc/schemadoc/internal/pipeline"
	"github.com/schemadoc/schemadoc/internal/store"
)

// ErrBatchNotRunning is returned by Cancel for unknown or finished batches.
var ErrBatchNotRunning = errors.New("batch is not running")

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	Store   *store.Store
	Machine *pipeline.Machine
	Events  events.Publisher
	Workers int
	// Review thresholds drive the confidence histogram buckets; they
	// match the machine's routing thresholds.
	Review pipeline.ReviewThresholds
	Logger *slog.Logger
}

// Coordinator owns the worker pool that drives item state machines and
// maintains batch-level aggregates. One slow item never blocks the batch;
// workers pull items independently.
type Coordinator struct {
	store   *store.Store
	machine *pipeline.Machine
	events  events.Publisher
	workers int
	review  pipeline.ReviewThresholds
	logger  *slog.Logger

	mu     sync.Mutex
	active map[string]*batchState
}

// batchState tracks one in-flight batch.
type batchState struct {
	cancelled bool
	done      chan struct{}
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Events == nil {
		cfg.Events = events.NopPublisher{}
	}
	if cfg.Review == (pipeline.ReviewThresholds{}) {
		cfg.Review = pipeline.DefaultReviewThresholds()
	}
	return &Coordinator{
		store:   cfg.Store,
		machine: cfg.Machine,
		events:  cfg.Events,
		workers: cfg.Workers,
		review:  cfg.Review,
		logger:  logger.With("component", "batch"),
		active:  make(map[string]*batchState),
	}
}

// Submit creates a batch for the descriptors and starts processing it in
// the background. The returned job reflects the initial pending state.
func (c *Coordinator) Submit(ctx context.Context, source string, descs []docmeta.ObjectDescriptor) (*store.BatchJob, error) {
	if len(descs) == 0 {
		return nil, errors.New("batch has no items")
	}

	items := make([]*store.BatchItem, 0, len(descs))
	byItem := make(map[string]docmeta.ObjectDescriptor, len(descs))
	for i := range descs {
		descs[i].Normalize()
		if !descs[i].Valid() {
			return nil, fmt.Errorf("descriptor %d is missing a name or definition", i)
		}
		it := &store.BatchItem{
			ID:           uuid.NewString(),
			ObjectSchema: descs[i].Schema,
			ObjectName:   descs[i].Name,
			ObjectKind:   descs[i].Kind,
			QA:           descs[i].QA,
			Status:       string(pipeline.StatusPending),
		}
		items = append(items, it)
		byItem[it.ID] = descs[i]
	}

	job := &store.BatchJob{
		ID:     uuid.NewString(),
		Source: source,
		Status: store.BatchPending,
		Total:  len(items),
	}
	if err := c.store.CreateBatch(ctx, job); err != nil {
		return nil, err
	}
	for _, it := range items {
		it.BatchID = job.ID
	}
	if err := c.store.CreateItems(ctx, items); err != nil {
		return nil, err
	}

	state := &batchState{done: make(chan struct{})}
	c.mu.Lock()
	c.active[job.ID] = state
	c.mu.Unlock()

	// The batch outlives the submitting caller's context.
	go c.run(context.WithoutCancel(ctx), job.ID, state, items, byItem)

	return job, nil
}

// Status returns a snapshot of the batch aggregates.
func (c *Coordinator) Status(ctx context.Context, batchID string) (*store.BatchJob, error) {
	return c.store.GetBatch(ctx, batchID)
}

// Cancel stops dispatching unstarted items of a running batch. Items whose
// generation is already in flight complete naturally.
func (c *Coordinator) Cancel(batchID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.active[batchID]
	if !ok {
		return ErrBatchNotRunning
	}
	state.cancelled = true
	c.logger.Info("batch cancel requested", "batch", batchID)
	return nil
}

// Wait blocks until the batch finishes processing. Mostly for tests and the
// CLI's synchronous mode.
func (c *Coordinator) Wait(batchID string) {
	c.mu.Lock()
	state, ok := c.active[batchID]
	c.mu.Unlock()
	if ok {
		<-state.done
	}
}

// run processes all items of one batch through the worker pool.
func (c *Coordinator) run(ctx context.Context, batchID string, state *batchState, items []*store.BatchItem, descs map[string]docmeta.ObjectDescriptor) {
	defer close(state.done)
	log := c.logger.With("batch", batchID)

	if err := c.store.UpdateBatchStatus(ctx, batchID, store.BatchRunning, ""); err != nil {
		log.Error("failed to mark batch running", "error", err)
	}
	c.events.Publish(events.Event{
		Type:    events.BatchStarted,
		BatchID: batchID,
		Detail:  map[string]any{"total": len(items)},
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for _, it := range items {
		c.mu.Lock()
		cancelled := state.cancelled
		c.mu.Unlock()

		if cancelled {
			c.cancelItem(ctx, batchID, it, log)
			continue
		}

		g.Go(func() error {
			outcome, err := c.machine.Run(gctx, it, descs[it.ID])
			if err != nil {
				log.Error("item processing error", "item", it.ID, "error", err)
				c.applyCounts(ctx, batchID, store.BatchCounts{Processed: 1, Failed: 1})
				return nil // one bad item never aborts the batch
			}
			c.applyOutcome(ctx, batchID, outcome)
			c.publishProgress(ctx, batchID)
			return nil
		})
	}

	_ = g.Wait()

	c.mu.Lock()
	cancelled := state.cancelled
	delete(c.active, batchID)
	c.mu.Unlock()

	final := store.BatchCompleted
	eventType := events.BatchCompleted
	if cancelled {
		final = store.BatchCancelled
		eventType = events.BatchCancelled
	}
	if err := c.store.UpdateBatchStatus(ctx, batchID, final, ""); err != nil {
		log.Error("failed to finalize batch", "error", err)
	}
	c.events.Publish(events.Event{Type: eventType, BatchID: batchID})
	log.Info("batch finished", "status", final)
}

// cancelItem marks an undispatched item cancelled.
func (c *Coordinator) cancelItem(ctx context.Context, batchID string, it *store.BatchItem, log *slog.Logger) {
	from := it.Status
	it.Status = string(pipeline.StatusCancelled)
	if err := c.store.UpdateItem(ctx, it, from); err != nil {
		log.Error("failed to cancel item", "item", it.ID, "error", err)
		return
	}
	c.applyCounts(ctx, batchID, store.BatchCounts{Processed: 1, Cancelled: 1})
}

// applyOutcome folds one item outcome into the batch aggregates.
func (c *Coordinator) applyOutcome(ctx context.Context, batchID string, o *pipeline.Outcome) {
	var counts store.BatchCounts
	switch o.Status {
	case pipeline.StatusCompleted:
		counts.Processed = 1
		counts.Succeeded = 1
	case pipeline.StatusFailed:
		counts.Processed = 1
		counts.Failed = 1
	case pipeline.StatusCancelled:
		counts.Processed = 1
		counts.Cancelled = 1
	case pipeline.StatusReviewPending:
		counts.Review = 1
	}

	if o.Status == pipeline.StatusCompleted || o.Status == pipeline.StatusReviewPending {
		switch {
		case o.Confidence >= c.review.High:
			counts.ConfHigh = 1
		case o.Confidence >= c.review.Low:
			counts.ConfMedium = 1
		default:
			counts.ConfLow = 1
		}
	}

	c.applyCounts(ctx, batchID, counts)
}

func (c *Coordinator) applyCounts(ctx context.Context, batchID string, counts store.BatchCounts) {
	if err := c.store.AddBatchCounts(ctx, batchID, counts); err != nil {
		c.logger.Error("failed to update batch counts", "batch", batchID, "error", err)
	}
}

func (c *Coordinator) publishProgress(ctx context.Context, batchID string) {
	job, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return
	}
	c.events.Publish(events.Event{
		Type:    events.BatchProgress,
		BatchID: batchID,
		Detail: map[string]any{
			"total":     job.Total,
			"processed": job.Processed,
			"review":    job.Review,
		},
	})
}

// Sweep archives terminal batches older than the retention window and
// expired cache entries. Returns the number of batches removed.
func (c *Coordinator) Sweep(ctx context.Context, retention time.Duration) (int, error) {
	n, err := c.store.DeleteBatchesBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if _, err := c.store.DeleteExpiredCacheEntries(ctx); err != nil {
		return n, err
	}
	return n, nil
}
