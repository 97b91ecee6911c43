package ledger

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmerrifield20/clinledger/internal/audit"
	"go.uber.org/zap"
)

// MinInvalidationReasonLength is the minimum number of characters a
// justification must have after surrounding whitespace is trimmed.
const MinInvalidationReasonLength = 10

// InvalidationResult describes an entry after invalidation.
type InvalidationResult struct {
	EntryID      uuid.UUID    `json:"entry_id"`
	Namespace    Namespace    `json:"namespace"`
	Sequence     int64        `json:"sequence"`
	Status       Status       `json:"status"`
	Invalidation Invalidation `json:"invalidation"`
}

// Invalidate marks a VALID entry as INVALIDATED with a mandatory
// justification. The entry is never deleted and its content and previous
// hashes are untouched, so the chain stays intact. Invalidating an already
// invalidated entry is rejected with ErrAlreadyInvalidated.
//
// Invalidation does not re-verify the chain; chain audits are a separate action.
func (c *Core) Invalidate(ctx context.Context, ns Namespace, id uuid.UUID, invalidatedBy, reason string) (*InvalidationResult, error) {
	res, err := c.invalidate(ctx, ns, id, invalidatedBy, reason)
	if c.metrics != nil {
		c.metrics.RecordInvalidation(ns, Classify(err))
	}
	return res, err
}

func (c *Core) invalidate(ctx context.Context, ns Namespace, id uuid.UUID, invalidatedBy, reason string) (*InvalidationResult, error) {
	invalidatedBy = strings.TrimSpace(invalidatedBy)
	reason = strings.TrimSpace(reason)
	if invalidatedBy == "" {
		return nil, ValidationErrorf("invalidated_by is required")
	}
	if n := utf8.RuneCountInString(reason); n < MinInvalidationReasonLength {
		return nil, ValidationErrorf("reason must be at least %d characters, got %d",
			MinInvalidationReasonLength, n)
	}

	inv := Invalidation{
		InvalidatedBy: invalidatedBy,
		Reason:        reason,
		InvalidatedAt: c.now().UTC(),
	}
	e, err := c.store.Invalidate(ctx, ns, id, inv)
	if err != nil {
		return nil, storageError("invalidate entry", err)
	}

	c.logger.Info("ledger entry invalidated",
		zap.String("namespace", ns.String()),
		zap.Int64("sequence", e.Sequence),
		zap.String("invalidated_by", invalidatedBy),
	)
	c.emit(ctx, audit.Event{
		Kind:      audit.KindInvalidate,
		Namespace: ns.String(),
		EntryID:   e.ID.String(),
		Sequence:  e.Sequence,
		Actor:     invalidatedBy,
		Outcome:   "invalidated",
		Detail:    map[string]string{"reason": reason},
	})

	return &InvalidationResult{
		EntryID:      e.ID,
		Namespace:    ns,
		Sequence:     e.Sequence,
		Status:       e.Status,
		Invalidation: inv,
	}, nil
}
