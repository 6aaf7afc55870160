package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BatchStatus is the lifecycle state of a batch job.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
	BatchCancelled BatchStatus = "cancelled"
)

// BatchJob is the persisted aggregate for one submitted batch.
type BatchJob struct {
	ID     string      `json:"id"`
	Source string      `json:"source"`
	Status BatchStatus `json:"status"`

	Total     int `json:"total"`
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Review    int `json:"review"`

	// Confidence histogram buckets.
	ConfHigh   int `json:"confidence_high"`
	ConfMedium int `json:"confidence_medium"`
	ConfLow    int `json:"confidence_low"`

	LastError   string     `json:"last_error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// BatchCounts are non-negative deltas applied to a batch's aggregates.
// Batch counts only ever grow.
type BatchCounts struct {
	Processed  int
	Succeeded  int
	Failed     int
	Cancelled  int
	Review     int
	ConfHigh   int
	ConfMedium int
	ConfLow    int
}

func (c BatchCounts) valid() bool {
	return c.Processed >= 0 && c.Succeeded >= 0 && c.Failed >= 0 &&
		c.Cancelled >= 0 && c.Review >= 0 &&
		c.ConfHigh >= 0 && c.ConfMedium >= 0 && c.ConfLow >= 0
}

// CreateBatch inserts a new batch job row.
func (s *Store) CreateBatch(ctx context.Context, b *BatchJob) error {
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	if b.Status == "" {
		b.Status = BatchPending
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO batch_jobs (id, source, status, total, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.Source, b.Status, b.Total, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

// GetBatch returns the batch with the given ID.
func (s *Store) GetBatch(ctx context.Context, id string) (*BatchJob, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, source, status, total, processed, succeeded, failed,
               cancelled, review, conf_high, conf_medium, conf_low,
               last_error, started_at, completed_at, created_at, updated_at
        FROM batch_jobs WHERE id = ?`, id)
	return scanBatch(row)
}

// ListBatches returns batches newest first.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]*BatchJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, source, status, total, processed, succeeded, failed,
               cancelled, review, conf_high, conf_medium, conf_low,
               last_error, started_at, completed_at, created_at, updated_at
        FROM batch_jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []*BatchJob
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpdateBatchStatus moves a batch to a new status, stamping start/end times.
func (s *Store) UpdateBatchStatus(ctx context.Context, id string, status BatchStatus, lastError string) error {
	now := time.Now().UTC()

	var started, completed *time.Time
	switch status {
	case BatchRunning:
		started = &now
	case BatchCompleted, BatchFailed, BatchCancelled:
		completed = &now
	}

	res, err := s.db.ExecContext(ctx, `
        UPDATE batch_jobs
        SET status = ?,
            last_error = CASE WHEN ? != '' THEN ? ELSE last_error END,
            started_at = COALESCE(started_at, ?),
            completed_at = COALESCE(?, completed_at),
            updated_at = ?
        WHERE id = ?`,
		status, lastError, lastError, started, completed, now, id)
	if err != nil {
		return fmt.Errorf("update batch status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddBatchCounts applies monotonic counter deltas to a batch.
func (s *Store) AddBatchCounts(ctx context.Context, id string, c BatchCounts) error {
	if !c.valid() {
		return errors.New("batch counts may not decrease")
	}

	res, err := s.db.ExecContext(ctx, `
        UPDATE batch_jobs
        SET processed = processed + ?,
            succeeded = succeeded + ?,
            failed = failed + ?,
            cancelled = cancelled + ?,
            review = review + ?,
            conf_high = conf_high + ?,
            conf_medium = conf_medium + ?,
            conf_low = conf_low + ?,
            updated_at = ?
        WHERE id = ?`,
		c.Processed, c.Succeeded, c.Failed, c.Cancelled, c.Review,
		c.ConfHigh, c.ConfMedium, c.ConfLow, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("add batch counts: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBatch removes a batch and (via cascade) its items. Used by the
// retention sweep.
func (s *Store) DeleteBatch(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM batch_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	return nil
}

// DeleteBatchesBefore removes terminal batches older than cutoff and returns
// how many were deleted.
func (s *Store) DeleteBatchesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
        DELETE FROM batch_jobs
        WHERE completed_at IS NOT NULL AND completed_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old batches: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*BatchJob, error) {
	var b BatchJob
	var started, completed sql.NullTime
	err := row.Scan(&b.ID, &b.Source, &b.Status, &b.Total, &b.Processed,
		&b.Succeeded, &b.Failed, &b.Cancelled, &b.Review,
		&b.ConfHigh, &b.ConfMedium, &b.ConfLow,
		&b.LastError, &started, &completed, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	if started.Valid {
		b.StartedAt = &started.Time
	}
	if completed.Valid {
		b.CompletedAt = &completed.Time
	}
	return &b, nil
}
