// Package deviation records protocol deviations on a single ledger chain
// shared by every protocol.
package deviation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/clinledger/internal/ledger"
	"go.uber.org/zap"
)

// Namespace is the ledger namespace deviations are appended to.
const Namespace = ledger.NamespaceDeviations

// ReportRequest describes a deviation to record. ReportedAt is assigned by the
// service clock.
type ReportRequest struct {
	ProtocolID       string
	SubjectID        string
	Category         Category
	Severity         Severity
	Description      string
	OccurredOn       time.Time
	DetectedOn       time.Time
	ReportedBy       string
	CorrectiveAction string
}

// Verification pairs an entry verification with the decoded deviation.
type Verification struct {
	*ledger.EntryVerification
	Deviation Deviation `json:"deviation"`
}

// Stats aggregates the deviations namespace.
type Stats struct {
	Total      int64                   `json:"total"`
	ByStatus   map[ledger.Status]int64 `json:"by_status"`
	BySeverity map[string]int64        `json:"by_severity"`
	ByCategory map[string]int64        `json:"by_category"`
	ByProtocol map[string]int64        `json:"by_protocol"`
}

// Service records and verifies protocol deviations.
type Service struct {
	core   *ledger.Core
	logger *zap.Logger
}

// NewService creates a Service and registers the deviations namespace on core.
func NewService(core *ledger.Core, logger *zap.Logger) *Service {
	core.Register(Namespace, ledger.NamespaceOptions{})
	return &Service{core: core, logger: logger}
}

// Report validates req and appends it to the deviations chain.
func (s *Service) Report(ctx context.Context, req ReportRequest) (*ledger.AppendResult, error) {
	p := Payload{
		ProtocolID:       req.ProtocolID,
		SubjectID:        req.SubjectID,
		Category:         req.Category,
		Severity:         req.Severity,
		Description:      req.Description,
		OccurredOn:       req.OccurredOn,
		DetectedOn:       req.DetectedOn,
		ReportedBy:       req.ReportedBy,
		ReportedAt:       s.core.Now(),
		CorrectiveAction: req.CorrectiveAction,
	}
	res, err := s.core.Append(ctx, Namespace, p, nil)
	if err != nil {
		return nil, err
	}
	if p.Severity == SeverityCritical {
		s.logger.Warn("critical protocol deviation reported",
			zap.String("protocol_id", p.ProtocolID),
			zap.String("subject_id", p.SubjectID),
			zap.String("category", string(p.Category)),
			zap.Int64("sequence", res.Sequence),
		)
	}
	return res, nil
}

// Verify checks a deviation entry.
func (s *Service) Verify(ctx context.Context, id uuid.UUID) (*Verification, error) {
	ev, err := s.core.VerifyEntry(ctx, Namespace, id)
	if err != nil {
		return nil, err
	}
	return &Verification{EntryVerification: ev, Deviation: FromEntry(ev.Entry)}, nil
}

// ListByProtocol returns deviations recorded against protocolID in sequence order.
func (s *Service) ListByProtocol(ctx context.Context, protocolID string) ([]Deviation, error) {
	return s.list(ctx, ledger.Filter{Field: "protocol_id", Value: protocolID})
}

// ListBySubject returns deviations recorded for subjectID in sequence order.
func (s *Service) ListBySubject(ctx context.Context, subjectID string) ([]Deviation, error) {
	return s.list(ctx, ledger.Filter{Field: "subject_id", Value: subjectID})
}

func (s *Service) list(ctx context.Context, f ledger.Filter) ([]Deviation, error) {
	entries, err := s.core.List(ctx, Namespace, f)
	if err != nil {
		return nil, err
	}
	out := make([]Deviation, 0, len(entries))
	for _, e := range entries {
		out = append(out, FromEntry(e))
	}
	return out, nil
}

// Stats counts deviations by status, severity, category and protocol.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	st, err := s.core.Stats(ctx, Namespace, "severity", "category", "protocol_id")
	if err != nil {
		return nil, err
	}
	return &Stats{
		Total:      st.Total,
		ByStatus:   st.ByStatus,
		BySeverity: st.ByField["severity"],
		ByCategory: st.ByField["category"],
		ByProtocol: st.ByField["protocol_id"],
	}, nil
}
