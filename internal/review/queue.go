// Package review manages the human-review backlog for low-confidence items.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/schemadoc/schemadoc/internal/pipeline"
	"github.com/schemadoc/schemadoc/internal/sequence"
	"github.com/schemadoc/schemadoc/internal/store"
)

// Filter selects review items.
type Filter struct {
	BatchID string
	// LowConfidenceOnly restricts to items flagged for prioritization.
	LowConfidenceOnly bool
	Limit             int
}

// QueueConfig configures a Queue.
type QueueConfig struct {
	Store  *store.Store
	Issuer *sequence.Issuer
	Logger *slog.Logger
}

// Queue exposes the review backlog. Bulk dispositions are independent per
// item: one bad id never blocks the rest, and callers get back a count.
type Queue struct {
	store  *store.Store
	issuer *sequence.Issuer
	logger *slog.Logger
}

// NewQueue creates a Queue.
func NewQueue(cfg QueueConfig) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:  cfg.Store,
		issuer: cfg.Issuer,
		logger: logger.With("component", "review"),
	}
}

// List returns items awaiting review, oldest first.
func (q *Queue) List(ctx context.Context, f Filter) ([]*store.BatchItem, error) {
	return q.store.ListItems(ctx, store.ItemFilter{
		BatchID:       f.BatchID,
		Status:        string(pipeline.StatusReviewPending),
		LowConfidence: f.LowConfidenceOnly,
		Limit:         f.Limit,
	})
}

// Approve marks items approved and completes them, allocating a document
// number for each. Items not awaiting review are skipped. Returns how many
// were approved.
func (q *Queue) Approve(ctx context.Context, ids []string, reviewer string) (int, error) {
	if reviewer == "" {
		return 0, errors.New("reviewer is required")
	}

	approved := 0
	for _, id := range ids {
		if err := q.approveOne(ctx, id, reviewer); err != nil {
			q.logger.Warn("approve skipped", "item", id, "error", err)
			continue
		}
		approved++
	}
	return approved, nil
}

func (q *Queue) approveOne(ctx context.Context, id, reviewer string) error {
	it, err := q.store.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if it.Status != string(pipeline.StatusReviewPending) {
		// Includes terminal items: a rejected or completed item is never
		// moved again.
		return fmt.Errorf("item is %s, not awaiting review", it.Status)
	}

	now := time.Now().UTC()
	it.Reviewer = reviewer
	it.ReviewedAt = &now

	it.Status = string(pipeline.StatusApproved)
	if err := q.store.UpdateItem(ctx, it, string(pipeline.StatusReviewPending)); err != nil {
		return err
	}

	// Identifier allocation happens on approval, mirroring the automatic
	// completion path.
	if q.issuer != nil {
		category := it.ObjectKind.Category()
		value, nerr := q.issuer.Next(ctx, category, reviewer)
		if nerr != nil {
			if errors.Is(nerr, store.ErrCounterExhausted) {
				it.Error = fmt.Sprintf("document number pending: %v", nerr)
			} else {
				return nerr
			}
		} else {
			it.DocNumber = sequence.Format(category, value)
		}
	}

	it.Status = string(pipeline.StatusCompleted)
	if err := q.store.UpdateItem(ctx, it, string(pipeline.StatusApproved)); err != nil {
		return err
	}

	q.bumpCounts(ctx, it.BatchID, store.BatchCounts{Processed: 1, Succeeded: 1})
	return nil
}

// Reject marks items rejected, retaining the reviewer's reason for
// downstream quality analysis. Returns how many were rejected.
func (q *Queue) Reject(ctx context.Context, ids []string, reviewer, reason string) (int, error) {
	if reviewer == "" {
		return 0, errors.New("reviewer is required")
	}

	rejected := 0
	for _, id := range ids {
		if err := q.rejectOne(ctx, id, reviewer, reason); err != nil {
			q.logger.Warn("reject skipped", "item", id, "error", err)
			continue
		}
		rejected++
	}
	return rejected, nil
}

func (q *Queue) rejectOne(ctx context.Context, id, reviewer, reason string) error {
	it, err := q.store.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if it.Status != string(pipeline.StatusReviewPending) {
		return fmt.Errorf("item is %s, not awaiting review", it.Status)
	}

	now := time.Now().UTC()
	it.Reviewer = reviewer
	it.ReviewedAt = &now
	if reason != "" {
		if it.ReviewNotes != "" {
			it.ReviewNotes += "; "
		}
		it.ReviewNotes += reason
	}

	it.Status = string(pipeline.StatusRejected)
	if err := q.store.UpdateItem(ctx, it, string(pipeline.StatusReviewPending)); err != nil {
		return err
	}

	// Rejection is a valid business outcome; it lands in the failed
	// bucket so processed keeps matching succeeded+failed+cancelled.
	q.bumpCounts(ctx, it.BatchID, store.BatchCounts{Processed: 1, Failed: 1})
	return nil
}

func (q *Queue) bumpCounts(ctx context.Context, batchID string, counts store.BatchCounts) {
	if err := q.store.AddBatchCounts(ctx, batchID, counts); err != nil {
		q.logger.Error("failed to update batch counts", "batch", batchID, "error", err)
	}
}
