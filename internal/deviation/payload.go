package deviation

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmerrifield20/clinledger/internal/ledger"
)

// DateLayout is the wire format of OccurredOn and DetectedOn.
const DateLayout = "2006-01-02"

// MinDescriptionLength is the minimum number of characters in a description.
const MinDescriptionLength = 10

// Payload is the ledger payload of a protocol deviation.
type Payload struct {
	ProtocolID       string
	SubjectID        string
	Category         Category
	Severity         Severity
	Description      string
	OccurredOn       time.Time
	DetectedOn       time.Time
	ReportedBy       string
	ReportedAt       time.Time
	CorrectiveAction string
}

// Validate implements ledger.Payload.
func (p Payload) Validate() error {
	switch {
	case strings.TrimSpace(p.ProtocolID) == "":
		return ledger.ValidationErrorf("protocol_id is required")
	case strings.TrimSpace(p.SubjectID) == "":
		return ledger.ValidationErrorf("subject_id is required")
	case !p.Category.Valid():
		return ledger.ValidationErrorf("unknown deviation category %q", p.Category)
	case !p.Severity.Valid():
		return ledger.ValidationErrorf("unknown severity %q", p.Severity)
	case utf8.RuneCountInString(strings.TrimSpace(p.Description)) < MinDescriptionLength:
		return ledger.ValidationErrorf("description must be at least %d characters", MinDescriptionLength)
	case p.OccurredOn.IsZero():
		return ledger.ValidationErrorf("occurred_on is required")
	case p.DetectedOn.IsZero():
		return ledger.ValidationErrorf("detected_on is required")
	case day(p.DetectedOn).Before(day(p.OccurredOn)):
		return ledger.ValidationErrorf("detected_on %s is before occurred_on %s",
			p.DetectedOn.Format(DateLayout), p.OccurredOn.Format(DateLayout))
	case strings.TrimSpace(p.ReportedBy) == "":
		return ledger.ValidationErrorf("reported_by is required")
	case p.ReportedAt.IsZero():
		return ledger.ValidationErrorf("reported_at is required")
	}
	return nil
}

// Fields implements ledger.Payload. Dates are recorded without a time of day.
func (p Payload) Fields() map[string]any {
	return map[string]any{
		"protocol_id":       strings.TrimSpace(p.ProtocolID),
		"subject_id":        strings.TrimSpace(p.SubjectID),
		"category":          p.Category,
		"severity":          p.Severity,
		"description":       strings.TrimSpace(p.Description),
		"occurred_on":       p.OccurredOn.Format(DateLayout),
		"detected_on":       p.DetectedOn.Format(DateLayout),
		"reported_by":       strings.TrimSpace(p.ReportedBy),
		"reported_at":       p.ReportedAt,
		"corrective_action": strings.TrimSpace(p.CorrectiveAction),
	}
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Deviation is the read view of a deviation entry.
type Deviation struct {
	EntryID          uuid.UUID     `json:"entry_id"`
	Sequence         int64         `json:"sequence"`
	ProtocolID       string        `json:"protocol_id"`
	SubjectID        string        `json:"subject_id"`
	Category         Category      `json:"category"`
	Severity         Severity      `json:"severity"`
	Description      string        `json:"description"`
	OccurredOn       string        `json:"occurred_on"`
	DetectedOn       string        `json:"detected_on"`
	ReportedBy       string        `json:"reported_by"`
	ReportedAt       time.Time     `json:"reported_at"`
	CorrectiveAction string        `json:"corrective_action,omitempty"`
	Status           ledger.Status `json:"status"`
	ContentHash      string        `json:"content_hash"`
}

// FromEntry decodes a deviations-namespace entry.
func FromEntry(e *ledger.Entry) Deviation {
	d := Deviation{
		EntryID:          e.ID,
		Sequence:         e.Sequence,
		ProtocolID:       str(e.Payload, "protocol_id"),
		SubjectID:        str(e.Payload, "subject_id"),
		Category:         Category(str(e.Payload, "category")),
		Severity:         Severity(str(e.Payload, "severity")),
		Description:      str(e.Payload, "description"),
		OccurredOn:       str(e.Payload, "occurred_on"),
		DetectedOn:       str(e.Payload, "detected_on"),
		ReportedBy:       str(e.Payload, "reported_by"),
		CorrectiveAction: str(e.Payload, "corrective_action"),
		Status:           e.Status,
		ContentHash:      e.ContentHash,
	}
	if t, err := time.Parse(time.RFC3339Nano, str(e.Payload, "reported_at")); err == nil {
		d.ReportedAt = t
	}
	return d
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
