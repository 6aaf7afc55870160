// Package pipeline drives one batch item through its documentation
// lifecycle: extraction, classification, cached or budgeted generation,
// validation and review routing.
package pipeline

// ItemStatus is the lifecycle state of one batch item. Statuses are plain
// strings persisted as rows; every mutation is checked against the allowed
// transition table below.
type ItemStatus string

const (
	StatusPending       ItemStatus = "pending"
	StatusExtracting    ItemStatus = "extracting"
	StatusClassified    ItemStatus = "classified"
	StatusCacheHit      ItemStatus = "cache_hit"
	StatusGenerating    ItemStatus = "generating"
	StatusValidating    ItemStatus = "validating"
	StatusCompleted     ItemStatus = "completed"
	StatusReviewPending ItemStatus = "review_pending"
	StatusApproved      ItemStatus = "approved"
	StatusRejected      ItemStatus = "rejected"
	StatusFailed        ItemStatus = "failed"
	StatusCancelled     ItemStatus = "cancelled"
)

// transitions is the allowed-transition table. A status absent from the map
// is terminal.
var transitions = map[ItemStatus][]ItemStatus{
	StatusPending:       {StatusExtracting, StatusFailed, StatusCancelled},
	StatusExtracting:    {StatusClassified, StatusFailed, StatusCancelled},
	StatusClassified:    {StatusCacheHit, StatusGenerating, StatusFailed, StatusCancelled},
	StatusCacheHit:      {StatusValidating, StatusFailed},
	StatusGenerating:    {StatusValidating, StatusFailed},
	StatusValidating:    {StatusCompleted, StatusReviewPending, StatusFailed},
	StatusReviewPending: {StatusApproved, StatusRejected},
	StatusApproved:      {StatusCompleted},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to ItemStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status can never be left.
func Terminal(s ItemStatus) bool {
	return len(transitions[s]) == 0
}

// Cancellable reports whether an item in this status may still be
// cancelled. Once generation has started the call is allowed to finish so
// the spend isn't wasted on a discarded result.
func Cancellable(s ItemStatus) bool {
	switch s {
	case StatusPending, StatusExtracting, StatusClassified:
		return true
	default:
		return false
	}
}
