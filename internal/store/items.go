package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/schemadoc/schemadoc/internal/docmeta"
)

// BatchItem is one object descriptor's progress through the pipeline.
type BatchItem struct {
	ID      string `json:"id"`
	BatchID string `json:"batch_id"`

	ObjectSchema string            `json:"object_schema,omitempty"`
	ObjectName   string            `json:"object_name"`
	ObjectKind   docmeta.ObjectKind `json:"object_kind"`
	QA           bool              `json:"qa,omitempty"`

	Status string `json:"status"`

	Metadata         *docmeta.Extracted `json:"metadata,omitempty"`
	Confidence       float64            `json:"confidence"`
	ExtractionMethod string             `json:"extraction_method,omitempty"`
	Tier             int                `json:"tier,omitempty"`

	Content   json.RawMessage `json:"content,omitempty"`
	DocNumber string          `json:"doc_number,omitempty"`

	LowConfidence bool       `json:"low_confidence,omitempty"`
	Reviewer      string     `json:"reviewer,omitempty"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes   string     `json:"review_notes,omitempty"`

	RetryCount int    `json:"retry_count"`
	Error      string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FullName returns the schema-qualified object name.
func (it *BatchItem) FullName() string {
	if it.ObjectSchema == "" {
		return it.ObjectName
	}
	return it.ObjectSchema + "." + it.ObjectName
}

// ItemFilter selects batch items.
type ItemFilter struct {
	BatchID       string
	Status        string
	LowConfidence bool // only items flagged low confidence
	Limit         int
}

// CreateItems inserts all items in one transaction.
func (s *Store) CreateItems(ctx context.Context, items []*BatchItem) error {
	if len(items) == 0 {
		return nil
	}
	now := time.Now().UTC()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, it := range items {
			it.CreatedAt = now
			it.UpdatedAt = now
			if _, err := tx.ExecContext(ctx, `
                INSERT INTO batch_items
                    (id, batch_id, object_schema, object_name, object_kind, qa,
                     status, created_at, updated_at)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				it.ID, it.BatchID, it.ObjectSchema, it.ObjectName,
				it.ObjectKind, it.QA, it.Status, it.CreatedAt, it.UpdatedAt); err != nil {
				return fmt.Errorf("create item %s: %w", it.FullName(), err)
			}
		}
		return nil
	})
}

// GetItem returns the item with the given ID.
func (s *Store) GetItem(ctx context.Context, id string) (*BatchItem, error) {
	row := s.db.QueryRowContext(ctx, itemSelect+` WHERE id = ?`, id)
	return scanItem(row)
}

// ListItems returns items matching the filter, oldest first.
func (s *Store) ListItems(ctx context.Context, f ItemFilter) ([]*BatchItem, error) {
	var conds []string
	var args []any
	if f.BatchID != "" {
		conds = append(conds, "batch_id = ?")
		args = append(args, f.BatchID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.LowConfidence {
		conds = append(conds, "low_confidence = 1")
	}

	q := itemSelect
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []*BatchItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// UpdateItem persists the item's mutable fields, guarded on the status the
// caller last observed. ErrConflict means another writer moved the item
// first; terminal statuses can never be overwritten this way.
func (s *Store) UpdateItem(ctx context.Context, it *BatchItem, fromStatus string) error {
	it.UpdatedAt = time.Now().UTC()

	var metadata string
	if it.Metadata != nil {
		raw, err := json.Marshal(it.Metadata)
		if err != nil {
			return fmt.Errorf("marshal item metadata: %w", err)
		}
		metadata = string(raw)
	}

	var reviewedAt any
	if it.ReviewedAt != nil {
		reviewedAt = it.ReviewedAt.UTC()
	}

	res, err := s.db.ExecContext(ctx, `
        UPDATE batch_items
        SET status = ?, metadata = ?, confidence = ?, extraction_method = ?,
            tier = ?, content = ?, doc_number = ?, low_confidence = ?,
            reviewer = ?, reviewed_at = ?, review_notes = ?,
            retry_count = ?, error = ?, updated_at = ?
        WHERE id = ? AND status = ?`,
		it.Status, metadata, it.Confidence, it.ExtractionMethod,
		it.Tier, string(it.Content), it.DocNumber, it.LowConfidence,
		it.Reviewer, reviewedAt, it.ReviewNotes,
		it.RetryCount, it.Error, it.UpdatedAt,
		it.ID, fromStatus)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("item %s no longer in status %q: %w", it.ID, fromStatus, ErrConflict)
	}
	return nil
}

const itemSelect = `
    SELECT id, batch_id, object_schema, object_name, object_kind, qa, status,
           metadata, confidence, extraction_method, tier, content, doc_number,
           low_confidence, reviewer, reviewed_at, review_notes, retry_count,
           error, created_at, updated_at
    FROM batch_items`

func scanItem(row rowScanner) (*BatchItem, error) {
	var it BatchItem
	var metadata, content string
	var reviewedAt sql.NullTime
	err := row.Scan(&it.ID, &it.BatchID, &it.ObjectSchema, &it.ObjectName,
		&it.ObjectKind, &it.QA, &it.Status, &metadata, &it.Confidence,
		&it.ExtractionMethod, &it.Tier, &content, &it.DocNumber,
		&it.LowConfidence, &it.Reviewer, &reviewedAt, &it.ReviewNotes,
		&it.RetryCount, &it.Error, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}

	if metadata != "" {
		var m docmeta.Extracted
		if err := json.Unmarshal([]byte(metadata), &m); err != nil {
			return nil, fmt.Errorf("unmarshal item metadata: %w", err)
		}
		it.Metadata = &m
	}
	if content != "" {
		it.Content = json.RawMessage(content)
	}
	if reviewedAt.Valid {
		it.ReviewedAt = &reviewedAt.Time
	}
	return &it, nil
}
