package signature

import (
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/clinledger/internal/ledger"
)

// identifierRe matches a table name, optionally schema-qualified.
var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}(\.[A-Za-z_][A-Za-z0-9_]{0,62})?$`)

// Context is where a signature was applied from.
type Context struct {
	IPAddress string `json:"ip_address,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Payload is the ledger payload of an electronic signature.
type Payload struct {
	TableName  string
	RecordID   string
	SignerID   string
	SignerName string
	Meaning    Meaning
	SignedAt   time.Time
	// RecordHash is a digest of the signed record at signing time.
	RecordHash          string
	RecordHashAlgorithm string
	Context             Context
}

// Validate implements ledger.Payload.
func (p Payload) Validate() error {
	switch {
	case p.TableName == "":
		return ledger.ValidationErrorf("table_name is required")
	case !identifierRe.MatchString(p.TableName):
		return ledger.ValidationErrorf("table_name %q is not a valid identifier", p.TableName)
	case p.RecordID == "":
		return ledger.ValidationErrorf("record_id is required")
	case p.SignerID == "":
		return ledger.ValidationErrorf("signer_id is required")
	case !p.Meaning.Valid():
		return ledger.ValidationErrorf("unknown signature meaning %q", p.Meaning)
	case p.SignedAt.IsZero():
		return ledger.ValidationErrorf("signed_at is required")
	case p.RecordHash != "" && p.RecordHashAlgorithm == "":
		return ledger.ValidationErrorf("record_hash_algorithm is required with record_hash")
	}
	return nil
}

// Fields implements ledger.Payload.
func (p Payload) Fields() map[string]any {
	return map[string]any{
		"table_name":            p.TableName,
		"record_id":             p.RecordID,
		"signer_id":             p.SignerID,
		"signer_name":           p.SignerName,
		"meaning":               p.Meaning,
		"signed_at":             p.SignedAt,
		"record_hash":           p.RecordHash,
		"record_hash_algorithm": p.RecordHashAlgorithm,
		"context": map[string]string{
			"ip_address": p.Context.IPAddress,
			"session_id": p.Context.SessionID,
			"user_agent": p.Context.UserAgent,
		},
	}
}

// Signer implements ledger.SignerBound.
func (p Payload) Signer() string { return p.SignerID }

// Signature is the read view of a signature entry.
type Signature struct {
	EntryID             uuid.UUID     `json:"entry_id"`
	Sequence            int64         `json:"sequence"`
	TableName           string        `json:"table_name"`
	RecordID            string        `json:"record_id"`
	SignerID            string        `json:"signer_id"`
	SignerName          string        `json:"signer_name,omitempty"`
	Meaning             Meaning       `json:"meaning"`
	Statement           string        `json:"statement,omitempty"`
	SignedAt            time.Time     `json:"signed_at"`
	RecordHash          string        `json:"record_hash,omitempty"`
	RecordHashAlgorithm string        `json:"record_hash_algorithm,omitempty"`
	Status              ledger.Status `json:"status"`
	ContentHash         string        `json:"content_hash"`
}

// FromEntry decodes a signatures-namespace entry.
func FromEntry(e *ledger.Entry) Signature {
	s := Signature{
		EntryID:             e.ID,
		Sequence:            e.Sequence,
		TableName:           str(e.Payload, "table_name"),
		RecordID:            str(e.Payload, "record_id"),
		SignerID:            str(e.Payload, "signer_id"),
		SignerName:          str(e.Payload, "signer_name"),
		Meaning:             Meaning(str(e.Payload, "meaning")),
		RecordHash:          str(e.Payload, "record_hash"),
		RecordHashAlgorithm: str(e.Payload, "record_hash_algorithm"),
		Status:              e.Status,
		ContentHash:         e.ContentHash,
	}
	s.Statement = s.Meaning.Description()
	if t, err := time.Parse(time.RFC3339Nano, str(e.Payload, "signed_at")); err == nil {
		s.SignedAt = t
	}
	return s
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
