package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/schemadoc/schemadoc/internal/budget"
	"github.com/schemadoc/schemadoc/internal/classifier"
	"github.com/schemadoc/schemadoc/internal/docmeta"
	"github.com/schemadoc/schemadoc/internal/events"
	"github.com/schemadoc/schemadoc/internal/providers"
	"github.com/schemadoc/schemadoc/internal/sequence"
	"github.com/schemadoc/schemadoc/internal/store"
)

// ItemStore is the slice of the durable store the machine needs.
type ItemStore interface {
	UpdateItem(ctx context.Context, it *store.BatchItem, fromStatus string) error
}

// GenerationService produces validated content for an object definition.
type GenerationService interface {
	FromCache(ctx context.Context, tier classifier.Tier, sections []string, objectName, normalizedInput string) (*budget.Output, error)
	GenerateUncached(ctx context.Context, tier classifier.Tier, sections []string, objectName, normalizedInput string) (*budget.Output, error)
}

// NumberIssuer allocates document numbers on completion.
type NumberIssuer interface {
	Next(ctx context.Context, category, actor string) (int64, error)
}

// ReviewThresholds are the confidence cut-offs for review routing.
type ReviewThresholds struct {
	// High or above completes without review.
	High float64
	// Below Low the review item is additionally flagged low-confidence
	// for prioritization.
	Low float64
}

// DefaultReviewThresholds mirrors the shipped policy (0.85/0.70).
func DefaultReviewThresholds() ReviewThresholds {
	return ReviewThresholds{High: 0.85, Low: 0.70}
}

// MachineConfig configures a Machine.
type MachineConfig struct {
	Store     ItemStore
	Extractor docmeta.Extractor
	Generator GenerationService
	Issuer    NumberIssuer
	Events    events.Publisher

	Review     ReviewThresholds
	Classifier classifier.Thresholds

	// Extraction retry bounds.
	ExtractRetries    int
	ExtractRetryDelay time.Duration

	Logger *slog.Logger
}

// Machine drives batch items through the documentation lifecycle. Safe for
// concurrent use; each Run call owns its item exclusively.
type Machine struct {
	cfg MachineConfig
}

// Outcome summarizes one item's terminal (or review) state for the batch
// coordinator's aggregates.
type Outcome struct {
	Status        ItemStatus
	Tier          int
	Confidence    float64
	LowConfidence bool
	Usage         providers.Usage
	CacheHit      bool
}

// NewMachine creates a Machine.
func NewMachine(cfg MachineConfig) *Machine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("component", "item")
	if cfg.Review == (ReviewThresholds{}) {
		cfg.Review = DefaultReviewThresholds()
	}
	if cfg.Classifier == (classifier.Thresholds{}) {
		cfg.Classifier = classifier.DefaultThresholds()
	}
	if cfg.ExtractRetries <= 0 {
		cfg.ExtractRetries = 3
	}
	if cfg.ExtractRetryDelay <= 0 {
		cfg.ExtractRetryDelay = time.Second
	}
	if cfg.Events == nil {
		cfg.Events = events.NopPublisher{}
	}
	return &Machine{cfg: cfg}
}

// Run processes one item to a terminal or review state. The descriptor
// carries the full object definition, which is not persisted on the item.
// Cancellation is cooperative: it is honored between transitions, and never
// once generation has started.
func (m *Machine) Run(ctx context.Context, it *store.BatchItem, desc docmeta.ObjectDescriptor) (*Outcome, error) {
	log := m.cfg.Logger.With("item", it.ID, "object", it.FullName())

	if err := m.advance(ctx, it, StatusExtracting); err != nil {
		return nil, err
	}

	meta, err := m.extract(ctx, it, desc)
	if err != nil {
		if errors.Is(err, context.Canceled) && Cancellable(ItemStatus(it.Status)) {
			return m.cancel(it)
		}
		return m.fail(it, fmt.Errorf("metadata extraction: %w", err))
	}

	it.Metadata = meta
	it.Confidence = meta.Confidence
	it.ExtractionMethod = meta.Method

	cls := classifier.Classify(meta, m.cfg.Classifier)
	it.Tier = int(cls.Tier)
	if err := m.advance(ctx, it, StatusClassified); err != nil {
		return nil, err
	}
	log.Debug("item classified", "tier", it.Tier, "score", cls.Score)

	// Last cancellation point before spend. Past here the generation call
	// runs on a detached context so a batch cancel never aborts it
	// mid-call.
	if ctx.Err() != nil {
		return m.cancel(it)
	}
	ctx = context.WithoutCancel(ctx)

	normalized := budget.Normalize(desc.Definition)

	out, cacheErr := m.cfg.Generator.FromCache(ctx, cls.Tier, cls.Sections, it.FullName(), normalized)
	if cacheErr == nil {
		if err := m.advance(ctx, it, StatusCacheHit); err != nil {
			return nil, err
		}
	} else {
		if !errors.Is(cacheErr, store.ErrNotFound) {
			log.Warn("cache lookup failed", "error", cacheErr)
		}
		if err := m.advance(ctx, it, StatusGenerating); err != nil {
			return nil, err
		}
		out, err = m.cfg.Generator.GenerateUncached(ctx, cls.Tier, cls.Sections, it.FullName(), normalized)
		if err != nil {
			return m.fail(it, err)
		}
	}

	it.Content = out.Payload
	if err := m.advance(ctx, it, StatusValidating); err != nil {
		return nil, err
	}

	// Routing confidence is the weaker of extraction and generation.
	conf := meta.Confidence
	if out.Confidence > 0 && out.Confidence < conf {
		conf = out.Confidence
	}
	it.Confidence = conf

	outcome := &Outcome{
		Tier:       it.Tier,
		Confidence: conf,
		Usage:      out.Usage,
		CacheHit:   out.CacheHit,
	}

	if conf >= m.cfg.Review.High && len(out.Warnings) == 0 {
		m.allocateNumber(ctx, it, log)
		if err := m.advance(ctx, it, StatusCompleted); err != nil {
			return nil, err
		}
		outcome.Status = StatusCompleted
		return outcome, nil
	}

	it.LowConfidence = conf < m.cfg.Review.Low
	if len(out.Warnings) > 0 {
		it.ReviewNotes = "validation warnings: " + joinWarnings(out.Warnings)
	}
	if err := m.advance(ctx, it, StatusReviewPending); err != nil {
		return nil, err
	}

	m.cfg.Events.Publish(events.Event{
		Type:    events.ItemReviewRequired,
		BatchID: it.BatchID,
		ItemID:  it.ID,
		Detail: map[string]any{
			"object":         it.FullName(),
			"confidence":     conf,
			"low_confidence": it.LowConfidence,
		},
	})

	outcome.Status = StatusReviewPending
	outcome.LowConfidence = it.LowConfidence
	return outcome, nil
}

// extract calls the extractor with bounded retries on unavailability.
func (m *Machine) extract(ctx context.Context, it *store.BatchItem, desc docmeta.ObjectDescriptor) (*docmeta.Extracted, error) {
	var lastErr error
	for attempt := 0; attempt < m.cfg.ExtractRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.cfg.ExtractRetryDelay * time.Duration(attempt)):
			}
		}

		meta, err := m.cfg.Extractor.Extract(ctx, desc)
		if err == nil {
			return meta, nil
		}
		lastErr = err
		it.RetryCount++
		if !errors.Is(err, docmeta.ErrExtractionUnavailable) {
			break
		}
	}
	return nil, lastErr
}

// allocateNumber assigns a document number at the completion transition.
// Counter exhaustion does not fail the item: the number stays empty with
// the error recorded until operators resolve the counter.
func (m *Machine) allocateNumber(ctx context.Context, it *store.BatchItem, log *slog.Logger) {
	if m.cfg.Issuer == nil {
		return
	}
	category := it.ObjectKind.Category()
	value, err := m.cfg.Issuer.Next(ctx, category, "pipeline")
	if err != nil {
		if errors.Is(err, store.ErrCounterExhausted) {
			log.Error("document number exhausted, item held pending id",
				"category", category)
			it.Error = fmt.Sprintf("document number pending: %v", err)
			return
		}
		log.Error("document number allocation failed", "error", err)
		it.Error = fmt.Sprintf("document number pending: %v", err)
		return
	}
	it.DocNumber = sequence.Format(category, value)
}

// advance moves the item to the next status, checking the transition table
// and persisting with the prior status as guard.
func (m *Machine) advance(ctx context.Context, it *store.BatchItem, to ItemStatus) error {
	from := ItemStatus(it.Status)
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s for item %s", from, to, it.ID)
	}
	it.Status = string(to)
	if err := m.cfg.Store.UpdateItem(ctx, it, string(from)); err != nil {
		it.Status = string(from)
		return err
	}
	return nil
}

// fail records the error and moves the item to failed.
func (m *Machine) fail(it *store.BatchItem, cause error) (*Outcome, error) {
	it.Error = cause.Error()
	if err := m.advance(context.Background(), it, StatusFailed); err != nil {
		return nil, errors.Join(cause, err)
	}
	m.cfg.Logger.Warn("item failed", "item", it.ID, "error", cause)
	return &Outcome{Status: StatusFailed, Tier: it.Tier, Confidence: it.Confidence}, nil
}

// cancel moves a still-cancellable item to cancelled.
func (m *Machine) cancel(it *store.BatchItem) (*Outcome, error) {
	if err := m.advance(context.Background(), it, StatusCancelled); err != nil {
		return nil, err
	}
	return &Outcome{Status: StatusCancelled, Tier: it.Tier}, nil
}

func joinWarnings(ws []string) string {
	out := ""
	for i, w := range ws {
		if i > 0 {
			out += "; "
		}
		out += w
	}
	return out
}
