package client

import (
	"encoding/json"
	"time"
)

// Head is the tail of a namespace.
type Head struct {
	Namespace string `json:"namespace"`
	Sequence  int64  `json:"sequence"`
	Hash      string `json:"hash"`
}

// Entry is a ledger entry.
type Entry struct {
	ID              string          `json:"id"`
	Namespace       string          `json:"namespace"`
	Sequence        int64           `json:"sequence"`
	Payload         json.RawMessage `json:"payload"`
	EncodingVersion int             `json:"encoding_version"`
	HashAlgorithm   string          `json:"hash_algorithm"`
	ContentHash     string          `json:"content_hash"`
	PreviousHash    string          `json:"previous_hash"`
	Status          string          `json:"status"`
	Invalidation    *Invalidation   `json:"invalidation,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Invalidation records who invalidated an entry and why.
type Invalidation struct {
	InvalidatedBy string    `json:"invalidated_by"`
	Reason        string    `json:"reason"`
	InvalidatedAt time.Time `json:"invalidated_at"`
}

// ChainReport is the result of a full chain walk.
type ChainReport struct {
	Namespace           string `json:"namespace"`
	IsValid             bool   `json:"is_valid"`
	TotalEntries        int64  `json:"total_entries"`
	FirstBrokenSequence *int64 `json:"first_broken_sequence,omitempty"`
	Code                string `json:"code,omitempty"`
	Break               string `json:"break,omitempty"`
	Detail              string `json:"detail,omitempty"`
	HeadHash            string `json:"head_hash"`
}

// EntryVerification is the result of verifying a single entry.
type EntryVerification struct {
	EntryID        string `json:"entry_id"`
	Namespace      string `json:"namespace"`
	Sequence       int64  `json:"sequence"`
	IsValid        bool   `json:"is_valid"`
	Code           string `json:"code,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Status         string `json:"status"`
	ContentHash    string `json:"content_hash"`
	RecomputedHash string `json:"recomputed_hash,omitempty"`
}

// InvalidationResult describes an entry after invalidation.
type InvalidationResult struct {
	EntryID      string       `json:"entry_id"`
	Namespace    string       `json:"namespace"`
	Sequence     int64        `json:"sequence"`
	Status       string       `json:"status"`
	Invalidation Invalidation `json:"invalidation"`
}

// Stats counts a namespace by status and by payload field.
type Stats struct {
	Namespace string                      `json:"namespace"`
	Total     int64                       `json:"total"`
	ByStatus  map[string]int64            `json:"by_status"`
	ByField   map[string]map[string]int64 `json:"by_field,omitempty"`
}

// AppendResult identifies a newly appended entry.
type AppendResult struct {
	ID           string    `json:"id"`
	Namespace    string    `json:"namespace"`
	Sequence     int64     `json:"sequence"`
	ContentHash  string    `json:"content_hash"`
	PreviousHash string    `json:"previous_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// SignRequest is the payload for Sign.
type SignRequest struct {
	TableName  string `json:"table_name"`
	RecordID   string `json:"record_id"`
	SignerID   string `json:"signer_id"`
	Credential string `json:"credential"`
	Meaning    string `json:"meaning"`
	SessionID  string `json:"session_id,omitempty"`
}

// Signature is the decoded payload of a signature entry.
type Signature struct {
	EntryID             string    `json:"entry_id"`
	Sequence            int64     `json:"sequence"`
	TableName           string    `json:"table_name"`
	RecordID            string    `json:"record_id"`
	SignerID            string    `json:"signer_id"`
	SignerName          string    `json:"signer_name,omitempty"`
	Meaning             string    `json:"meaning"`
	Statement           string    `json:"statement,omitempty"`
	SignedAt            time.Time `json:"signed_at"`
	RecordHash          string    `json:"record_hash,omitempty"`
	RecordHashAlgorithm string    `json:"record_hash_algorithm,omitempty"`
	Status              string    `json:"status"`
}

// SignatureVerification is the result of VerifySignature. RecordUnchanged is
// nil when the server could not compare the record.
type SignatureVerification struct {
	EntryVerification
	Signature         Signature `json:"signature"`
	RecordUnchanged   *bool     `json:"record_unchanged,omitempty"`
	CurrentRecordHash string    `json:"current_record_hash,omitempty"`
	RecordDetail      string    `json:"record_detail,omitempty"`
}

// DeviationReport is the payload for ReportDeviation. Dates use YYYY-MM-DD.
type DeviationReport struct {
	ProtocolID       string `json:"protocol_id"`
	SubjectID        string `json:"subject_id"`
	Category         string `json:"category"`
	Severity         string `json:"severity"`
	Description      string `json:"description"`
	OccurredOn       string `json:"occurred_on"`
	DetectedOn       string `json:"detected_on"`
	ReportedBy       string `json:"reported_by"`
	CorrectiveAction string `json:"corrective_action,omitempty"`
}
