package ledger

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/clinledger/internal/canonical"
)

// GenesisHash is the previous_hash of the first entry in every namespace.
const GenesisHash = "GENESIS"

// Entry is a single record in a ledger namespace.
type Entry struct {
	ID              uuid.UUID      `json:"id"`
	Namespace       Namespace      `json:"namespace"`
	Sequence        int64          `json:"sequence"`
	Payload         map[string]any `json:"payload"`
	EncodingVersion int            `json:"encoding_version"`
	HashAlgorithm   string         `json:"hash_algorithm"`
	ContentHash     string         `json:"content_hash"`
	PreviousHash    string         `json:"previous_hash"`
	Status          Status         `json:"status"`
	Invalidation    *Invalidation  `json:"invalidation,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Invalidation records who invalidated an entry, when, and why.
type Invalidation struct {
	InvalidatedBy string    `json:"invalidated_by"`
	Reason        string    `json:"reason"`
	InvalidatedAt time.Time `json:"invalidated_at"`
}

// Head is the tail of a namespace: the last assigned sequence number and its
// content hash. An empty namespace has Sequence 0 and Hash GenesisHash.
type Head struct {
	Namespace Namespace `json:"namespace"`
	Sequence  int64     `json:"sequence"`
	Hash      string    `json:"hash"`
}

// emptyHead returns the head of a namespace with no entries.
func emptyHead(ns Namespace) Head {
	return Head{Namespace: ns, Sequence: 0, Hash: GenesisHash}
}

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Payload = cloneFields(e.Payload)
	if e.Invalidation != nil {
		inv := *e.Invalidation
		cp.Invalidation = &inv
	}
	return &cp
}

// computeHash returns hex(H(encode(payload) || previousHash)).
func computeHash(h Hasher, enc canonical.Encoder, payload map[string]any, previousHash string) (string, error) {
	data, err := enc.Encode(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	d := h.New()
	d.Write(data)
	d.Write([]byte(previousHash))
	return hex.EncodeToString(d.Sum(nil)), nil
}

func cloneFields(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneFields(t)
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}
