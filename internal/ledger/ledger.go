// Package ledger implements the tamper-evident, hash-chained integrity ledger
// behind electronic signatures and protocol-deviation records.
//
// A ledger is split into namespaces. Every namespace is its own chain: the first
// entry links to the GenesisHash sentinel and every later entry records the
// content hash of its predecessor. An entry's content hash covers the canonical
// encoding of its payload followed by the previous hash, so any retroactive edit
// or deletion is detectable via VerifyEntry and VerifyChain.
//
// Appends are serialised per namespace by the Store. Verification and
// invalidation never take the append critical section.
//
// Two Store implementations are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
package ledger

import (
	"fmt"
	"strings"
)

// Namespace names an independently chained sequence of entries.
type Namespace string

// Namespaces used by the signature and deviation features.
const (
	NamespaceSignatures Namespace = "signatures"
	NamespaceDeviations Namespace = "deviations"
)

func (n Namespace) String() string { return string(n) }

// NamespaceOptions configures a registered namespace.
type NamespaceOptions struct {
	// RequireAuthentication rejects appends that do not carry a passed AuthnResult.
	RequireAuthentication bool
}

// Status is the validity state of an entry. The only permitted transition is
// StatusValid to StatusInvalidated.
type Status string

const (
	StatusValid       Status = "VALID"
	StatusInvalidated Status = "INVALIDATED"
)

func (s Status) String() string { return string(s) }

// ParseStatus converts s into a Status, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusValid:
		return StatusValid, nil
	case StatusInvalidated:
		return StatusInvalidated, nil
	}
	return "", ValidationErrorf("unknown status %q", s)
}

// Payload is namespace-specific event data. Domain packages implement it.
type Payload interface {
	// Validate checks required fields and enumerated values.
	Validate() error

	// Fields returns the payload as a field map for canonical encoding.
	Fields() map[string]any
}

// SignerBound is implemented by payloads that name the signer who must have
// been authenticated for the append.
type SignerBound interface {
	Signer() string
}

// AuthnResult is the outcome of an authentication check that precedes an
// append to a namespace requiring authentication.
type AuthnResult struct {
	SignerID  string `json:"signer_id"`
	Passed    bool   `json:"passed"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	AttemptID string `json:"attempt_id,omitempty"`
}

func (r *AuthnResult) check(payload Payload) error {
	if r == nil {
		return fmt.Errorf("%w: no authentication result supplied", ErrAuthenticationFailure)
	}
	if !r.Passed {
		reason := r.Reason
		if reason == "" {
			reason = r.Outcome
		}
		return fmt.Errorf("%w: %s", ErrAuthenticationFailure, reason)
	}
	if sb, ok := payload.(SignerBound); ok && sb.Signer() != r.SignerID {
		return fmt.Errorf("%w: authenticated signer %q does not match payload signer %q",
			ErrAuthenticationFailure, r.SignerID, sb.Signer())
	}
	return nil
}
