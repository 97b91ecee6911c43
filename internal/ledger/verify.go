package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmerrifield20/clinledger/internal/audit"
	"go.uber.org/zap"
)

// EntryVerification is the outcome of VerifyEntry.
type EntryVerification struct {
	EntryID        uuid.UUID `json:"entry_id"`
	Namespace      Namespace `json:"namespace"`
	Sequence       int64     `json:"sequence"`
	IsValid        bool      `json:"is_valid"`
	Code           Code      `json:"code,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Status         Status    `json:"status"`
	ContentHash    string    `json:"content_hash"`
	RecomputedHash string    `json:"recomputed_hash,omitempty"`
	Entry          *Entry    `json:"-"`
}

// BreakKind names the invariant a chain walk found violated.
type BreakKind string

const (
	BreakSequenceGap  BreakKind = "SEQUENCE_GAP"
	BreakLinkMismatch BreakKind = "LINK_MISMATCH"
	BreakHashMismatch BreakKind = "HASH_MISMATCH"
	BreakHeadMismatch BreakKind = "HEAD_MISMATCH"
)

// ChainReport is the outcome of VerifyChain.
type ChainReport struct {
	Namespace           Namespace `json:"namespace"`
	IsValid             bool      `json:"is_valid"`
	TotalEntries        int64     `json:"total_entries"`
	FirstBrokenSequence *int64    `json:"first_broken_sequence,omitempty"`
	Code                Code      `json:"code,omitempty"`
	Break               BreakKind `json:"break,omitempty"`
	Detail              string    `json:"detail,omitempty"`
	HeadHash            string    `json:"head_hash"`
}

// Err returns nil for an intact chain, otherwise an error wrapping
// ErrTamperDetected or ErrChainBroken. Both are hard stops.
func (r ChainReport) Err() error {
	if r.IsValid {
		return nil
	}
	seq := int64(0)
	if r.FirstBrokenSequence != nil {
		seq = *r.FirstBrokenSequence
	}
	if r.Code == CodeTamperDetected {
		return fmt.Errorf("%w: %s sequence %d: %s", ErrTamperDetected, r.Namespace, seq, r.Detail)
	}
	return fmt.Errorf("%w: %s sequence %d: %s", ErrChainBroken, r.Namespace, seq, r.Detail)
}

// VerifyEntry recomputes the content hash of the entry with the given ID from
// its persisted payload and previous hash, then checks its status.
func (c *Core) VerifyEntry(ctx context.Context, ns Namespace, id uuid.UUID) (*EntryVerification, error) {
	e, err := c.store.Get(ctx, ns, id)
	if err != nil {
		c.recordVerification(ns, "entry", Classify(err))
		return nil, storageError("get entry", err)
	}
	v := c.verifyEntry(e)
	c.recordVerification(ns, "entry", v.Code)
	return v, nil
}

// VerifyEntryBySequence is VerifyEntry addressed by sequence number.
func (c *Core) VerifyEntryBySequence(ctx context.Context, ns Namespace, seq int64) (*EntryVerification, error) {
	e, err := c.store.GetBySequence(ctx, ns, seq)
	if err != nil {
		c.recordVerification(ns, "entry", Classify(err))
		return nil, storageError("get entry", err)
	}
	v := c.verifyEntry(e)
	c.recordVerification(ns, "entry", v.Code)
	return v, nil
}

func (c *Core) verifyEntry(e *Entry) *EntryVerification {
	v := &EntryVerification{
		EntryID:     e.ID,
		Namespace:   e.Namespace,
		Sequence:    e.Sequence,
		Status:      e.Status,
		ContentHash: e.ContentHash,
		Entry:       e,
	}

	recomputed, err := c.recompute(e)
	if err != nil {
		v.Code = CodeTamperDetected
		v.Reason = "tampering detected: " + err.Error()
		return v
	}
	v.RecomputedHash = recomputed
	if recomputed != e.ContentHash {
		v.Code = CodeTamperDetected
		v.Reason = "tampering detected: stored content hash does not match recomputed hash"
		c.logger.Warn("ledger entry hash mismatch",
			zap.String("namespace", e.Namespace.String()),
			zap.Int64("sequence", e.Sequence),
			zap.String("stored", e.ContentHash),
			zap.String("recomputed", recomputed),
		)
		return v
	}

	if e.Status == StatusInvalidated {
		v.Code = CodeInvalidated
		if e.Invalidation != nil {
			v.Reason = e.Invalidation.Reason
		} else {
			v.Reason = "entry has been invalidated"
		}
		return v
	}

	v.IsValid = true
	return v
}

// recompute derives an entry's content hash with the encoder version and hash
// algorithm it was written with.
func (c *Core) recompute(e *Entry) (string, error) {
	enc, err := c.encoders.Lookup(e.EncodingVersion)
	if err != nil {
		return "", err
	}
	h, ok := c.hashers[e.HashAlgorithm]
	if !ok {
		return "", fmt.Errorf("unknown hash algorithm %q", e.HashAlgorithm)
	}
	return computeHash(h, enc, e.Payload, e.PreviousHash)
}

// VerifyChain walks ns in ascending sequence order and checks sequence
// contiguity, the previous-hash link and the recomputed content hash of every
// entry. Checking stops at the first violation; TotalEntries still counts the
// whole namespace. Invalidated entries are not breaks.
// A broken chain is reported, never repaired.
func (c *Core) VerifyChain(ctx context.Context, ns Namespace) (*ChainReport, error) {
	if _, err := c.options(ns); err != nil {
		return nil, err
	}
	report := &ChainReport{Namespace: ns, IsValid: true}

	expectedSeq := int64(1)
	prevHash := GenesisHash
	fail := func(seq int64, kind BreakKind, code Code, detail string) error {
		report.IsValid = false
		report.FirstBrokenSequence = &seq
		report.Break = kind
		report.Code = code
		report.Detail = detail
		return nil
	}

	err := c.store.Scan(ctx, ns, func(e *Entry) error {
		report.TotalEntries++
		if !report.IsValid {
			return nil
		}
		if e.Sequence != expectedSeq {
			return fail(expectedSeq, BreakSequenceGap, CodeChainBroken,
				fmt.Sprintf("expected sequence %d, found %d", expectedSeq, e.Sequence))
		}
		if e.PreviousHash != prevHash {
			return fail(e.Sequence, BreakLinkMismatch, CodeChainBroken,
				"previous_hash does not match predecessor content_hash")
		}
		recomputed, err := c.recompute(e)
		if err != nil {
			return fail(e.Sequence, BreakHashMismatch, CodeTamperDetected, err.Error())
		}
		if recomputed != e.ContentHash {
			return fail(e.Sequence, BreakHashMismatch, CodeTamperDetected,
				"content_hash does not match recomputed hash")
		}
		expectedSeq++
		prevHash = e.ContentHash
		return nil
	})
	if err != nil {
		c.recordVerification(ns, "chain", CodeStorage)
		return nil, storageError("scan chain", err)
	}

	head, err := c.store.Head(ctx, ns)
	if err != nil {
		c.recordVerification(ns, "chain", CodeStorage)
		return nil, storageError("read head", err)
	}
	report.HeadHash = head.Hash

	walked := expectedSeq - 1
	if report.IsValid && (head.Sequence != walked || head.Hash != prevHash) {
		seq := walked
		if head.Sequence != walked {
			seq = min(head.Sequence, walked) + 1
		}
		report.IsValid = false
		report.FirstBrokenSequence = &seq
		report.Break = BreakHeadMismatch
		report.Code = CodeChainBroken
		report.Detail = fmt.Sprintf("head at sequence %d does not match last entry %d", head.Sequence, walked)
	}

	if !report.IsValid {
		c.logger.Warn("ledger chain verification failed",
			zap.String("namespace", ns.String()),
			zap.Int64("first_broken_sequence", *report.FirstBrokenSequence),
			zap.String("break", string(report.Break)),
			zap.String("detail", report.Detail),
		)
	}
	c.recordVerification(ns, "chain", report.Code)

	outcome := "intact"
	if !report.IsValid {
		outcome = string(report.Break)
	}
	c.emit(ctx, audit.Event{
		Kind:      audit.KindChainVerified,
		Namespace: ns.String(),
		Outcome:   outcome,
		Detail:    map[string]string{"head_hash": report.HeadHash},
	})
	return report, nil
}

func (c *Core) recordVerification(ns Namespace, scope string, code Code) {
	if c.metrics != nil {
		c.metrics.RecordVerification(ns, scope, code)
	}
}
