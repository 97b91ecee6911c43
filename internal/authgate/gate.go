// Package authgate validates signer credentials before a signature is appended
// to the ledger, and records every attempt outside the hash chain.
package authgate

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/clinledger/internal/audit"
	"github.com/jmerrifield20/clinledger/internal/ledger"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Outcome classifies an authentication attempt.
type Outcome string

const (
	OutcomeSuccess        Outcome = "SUCCESS"
	OutcomeFailedPassword Outcome = "FAILED_PASSWORD"
	OutcomeUnknownSigner  Outcome = "UNKNOWN_SIGNER"
	OutcomeMalformedHash  Outcome = "MALFORMED_CREDENTIAL_HASH"
)

const sha256Prefix = "sha256:"

// Attempt is one credential check.
type Attempt struct {
	SignerID string
	// Supplied is the plaintext credential entered by the signer.
	Supplied string
	// ExpectedHash is the stored credential hash. Empty means the signer is unknown.
	ExpectedHash string
	IPAddress    string
	SessionID    string
}

// Gate checks credentials in constant time and records every attempt.
type Gate struct {
	attempts AttemptStore
	sink     audit.Sink
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithAuditSink reports every attempt to s.
func WithAuditSink(s audit.Sink) Option {
	return func(g *Gate) { g.sink = s }
}

// WithClock sets the timestamp source for attempt records.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a Gate that persists attempts to store.
func NewGate(store AttemptStore, logger *zap.Logger, opts ...Option) *Gate {
	g := &Gate{
		attempts: store,
		sink:     audit.Nop,
		now:      time.Now,
		logger:   logger,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Authenticate compares the supplied credential against the expected hash and
// records the attempt. A failed check is not an error: the returned result has
// Passed=false and the ledger turns it into ErrAuthenticationFailure. An error
// is returned only when the attempt could not be recorded, in which case the
// result is always a failure.
func (g *Gate) Authenticate(ctx context.Context, a Attempt) (*ledger.AuthnResult, error) {
	outcome, reason := check(a.Supplied, a.ExpectedHash)

	rec := AttemptRecord{
		ID:          uuid.New(),
		SignerID:    a.SignerID,
		Outcome:     outcome,
		Reason:      reason,
		AttemptedAt: g.now().UTC(),
		IPAddress:   a.IPAddress,
		SessionID:   a.SessionID,
	}
	res := &ledger.AuthnResult{
		SignerID:  a.SignerID,
		Passed:    outcome == OutcomeSuccess,
		Outcome:   string(outcome),
		Reason:    reason,
		AttemptID: rec.ID.String(),
	}

	if err := g.attempts.Record(ctx, rec); err != nil {
		res.Passed = false
		return res, fmt.Errorf("record auth attempt: %w: %w", ledger.ErrStorage, err)
	}

	if outcome != OutcomeSuccess {
		g.logger.Warn("signer authentication failed",
			zap.String("signer_id", a.SignerID),
			zap.String("outcome", string(outcome)),
			zap.String("ip_address", a.IPAddress),
		)
	}

	e := audit.Stamp(audit.Event{
		Kind:    audit.KindAuthAttempt,
		EntryID: rec.ID.String(),
		Actor:   a.SignerID,
		Outcome: string(outcome),
		Detail: map[string]string{
			"reason":     reason,
			"ip_address": a.IPAddress,
			"session_id": a.SessionID,
		},
	}, rec.AttemptedAt)
	if err := g.sink.Emit(ctx, e); err != nil {
		g.logger.Warn("audit sink emit failed", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
	return res, nil
}

// check returns the outcome of comparing supplied with expectedHash.
func check(supplied, expectedHash string) (Outcome, string) {
	switch {
	case expectedHash == "":
		return OutcomeUnknownSigner, "signer has no registered credential"
	case isBcrypt(expectedHash):
		err := bcrypt.CompareHashAndPassword([]byte(expectedHash), []byte(supplied))
		switch {
		case err == nil:
			return OutcomeSuccess, ""
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return OutcomeFailedPassword, "credential does not match"
		default:
			return OutcomeMalformedHash, err.Error()
		}
	case strings.HasPrefix(expectedHash, sha256Prefix):
		want, err := hex.DecodeString(strings.TrimPrefix(expectedHash, sha256Prefix))
		if err != nil || len(want) != sha256.Size {
			return OutcomeMalformedHash, "sha256 credential hash must be 64 hex characters"
		}
		got := sha256.Sum256([]byte(supplied))
		if subtle.ConstantTimeCompare(got[:], want) != 1 {
			return OutcomeFailedPassword, "credential does not match"
		}
		return OutcomeSuccess, ""
	default:
		return OutcomeMalformedHash, "unrecognised credential hash format"
	}
}

func isBcrypt(h string) bool {
	return strings.HasPrefix(h, "$2a$") || strings.HasPrefix(h, "$2b$") || strings.HasPrefix(h, "$2y$")
}

// HashSHA256 returns the sha256:<hex> form of secret.
func HashSHA256(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return sha256Prefix + hex.EncodeToString(sum[:])
}

// HashBcrypt returns a bcrypt hash of secret at the given cost.
// A cost of 0 uses bcrypt.DefaultCost.
func HashBcrypt(secret string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("hash credential: %w", err)
	}
	return string(h), nil
}
