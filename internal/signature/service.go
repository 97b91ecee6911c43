// Package signature applies and verifies electronic signatures on domain
// records. Each signature is an entry in the ledger's signatures namespace and
// carries a digest of the signed record, so later changes to the record are
// reported separately from the signature's own integrity.
package signature

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmerrifield20/clinledger/internal/authgate"
	"github.com/jmerrifield20/clinledger/internal/ledger"
	"go.uber.org/zap"
)

// Namespace is the ledger namespace signatures are appended to.
const Namespace = ledger.NamespaceSignatures

// SignRequest is a request to sign a record.
type SignRequest struct {
	TableName  string  `json:"table_name"`
	RecordID   string  `json:"record_id"`
	SignerID   string  `json:"signer_id"`
	Credential string  `json:"credential"`
	Meaning    Meaning `json:"meaning"`
	Context    Context `json:"context"`
}

// Verification is the outcome of Verify. RecordUnchanged is nil when the
// signature carries no record digest or no RecordSource is configured. A
// changed record does not affect IsValid.
type Verification struct {
	*ledger.EntryVerification
	Signature         Signature `json:"signature"`
	RecordUnchanged   *bool     `json:"record_unchanged,omitempty"`
	CurrentRecordHash string    `json:"current_record_hash,omitempty"`
	RecordDetail      string    `json:"record_detail,omitempty"`
}

// Stats aggregates the signatures namespace.
type Stats struct {
	Total     int64                   `json:"total"`
	ByStatus  map[ledger.Status]int64 `json:"by_status"`
	ByMeaning map[string]int64        `json:"by_meaning"`
	ByTable   map[string]int64        `json:"by_table"`
	BySigner  map[string]int64        `json:"by_signer"`
}

// Service applies and verifies signatures.
type Service struct {
	core    *ledger.Core
	gate    *authgate.Gate
	signers Directory
	records RecordSource
	logger  *zap.Logger
}

// NewService creates a Service and registers the signatures namespace on core
// as requiring authentication. records may be nil, in which case no record
// digest is taken.
func NewService(core *ledger.Core, gate *authgate.Gate, signers Directory, records RecordSource, logger *zap.Logger) *Service {
	core.Register(Namespace, ledger.NamespaceOptions{RequireAuthentication: true})
	return &Service{core: core, gate: gate, signers: signers, records: records, logger: logger}
}

// Sign checks the record exists, authenticates the signer, snapshots the
// record and appends the signature. A wrong credential records a failed
// attempt and appends nothing. A missing record records no attempt.
func (s *Service) Sign(ctx context.Context, req SignRequest) (*ledger.AppendResult, error) {
	req.TableName = strings.TrimSpace(req.TableName)
	req.RecordID = strings.TrimSpace(req.RecordID)
	req.SignerID = strings.TrimSpace(req.SignerID)

	p := Payload{
		TableName: req.TableName,
		RecordID:  req.RecordID,
		SignerID:  req.SignerID,
		Meaning:   req.Meaning,
		SignedAt:  s.core.Now(),
		Context:   req.Context,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	// The record must exist before any attempt is recorded against it.
	var rec map[string]any
	if s.records != nil {
		var err error
		rec, err = s.records.CurrentRecord(ctx, req.TableName, req.RecordID)
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				return nil, ledger.ValidationErrorf("record %s/%s does not exist", req.TableName, req.RecordID)
			}
			return nil, err
		}
	}

	signer, err := s.signers.Lookup(ctx, req.SignerID)
	switch {
	case errors.Is(err, ErrUnknownSigner):
		// Unknown signers are still recorded as attempts.
		signer = Signer{ID: req.SignerID}
	case err != nil:
		return nil, fmt.Errorf("%w: lookup signer: %w", ledger.ErrStorage, err)
	}

	authn, err := s.gate.Authenticate(ctx, authgate.Attempt{
		SignerID:     req.SignerID,
		Supplied:     req.Credential,
		ExpectedHash: signer.CredentialHash,
		IPAddress:    req.Context.IPAddress,
		SessionID:    req.Context.SessionID,
	})
	if err != nil {
		return nil, err
	}
	if !authn.Passed {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAuthenticationFailure, authn.Outcome)
	}
	p.SignerName = signer.Name

	if s.records != nil {
		h := s.core.Hasher()
		if p.RecordHash, err = HashRecord(h, rec); err != nil {
			return nil, ledger.ValidationErrorf("hash record: %v", err)
		}
		p.RecordHashAlgorithm = h.Name()
	}

	res, err := s.core.Append(ctx, Namespace, p, authn)
	if err != nil {
		return nil, err
	}
	s.logger.Info("record signed",
		zap.String("table", p.TableName),
		zap.String("record_id", p.RecordID),
		zap.String("signer_id", p.SignerID),
		zap.String("meaning", string(p.Meaning)),
		zap.Int64("sequence", res.Sequence),
	)
	return res, nil
}

// Verify checks a signature entry and, when possible, whether the signed
// record has changed since signing.
func (s *Service) Verify(ctx context.Context, id uuid.UUID) (*Verification, error) {
	ev, err := s.core.VerifyEntry(ctx, Namespace, id)
	if err != nil {
		return nil, err
	}
	sig := FromEntry(ev.Entry)
	v := &Verification{EntryVerification: ev, Signature: sig}

	snapshot := sig.RecordHash
	if snapshot == "" || s.records == nil {
		return v, nil
	}

	unchanged := false
	v.RecordUnchanged = &unchanged
	rec, err := s.records.CurrentRecord(ctx, sig.TableName, sig.RecordID)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		v.RecordDetail = "record no longer exists"
		return v, nil
	case err != nil:
		return nil, err
	}

	algo := str(ev.Entry.Payload, "record_hash_algorithm")
	h, ok := s.core.HasherByName(algo)
	if !ok {
		v.RecordDetail = fmt.Sprintf("unknown hash algorithm %q", algo)
		return v, nil
	}
	current, err := HashRecord(h, rec)
	if err != nil {
		v.RecordDetail = err.Error()
		return v, nil
	}
	v.CurrentRecordHash = current
	unchanged = current == snapshot
	if !unchanged {
		v.RecordDetail = "record has changed since it was signed"
	}
	return v, nil
}

// ListForRecord returns every signature on table/recordID in sequence order,
// including invalidated ones.
func (s *Service) ListForRecord(ctx context.Context, table, recordID string) ([]Signature, error) {
	entries, err := s.core.List(ctx, Namespace, ledger.Filter{Field: "table_name", Value: table})
	if err != nil {
		return nil, err
	}
	var out []Signature
	for _, e := range entries {
		if recordID != "" && str(e.Payload, "record_id") != recordID {
			continue
		}
		out = append(out, FromEntry(e))
	}
	return out, nil
}

// Stats counts signatures by status, meaning, table and signer.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	st, err := s.core.Stats(ctx, Namespace, "meaning", "table_name", "signer_id")
	if err != nil {
		return nil, err
	}
	return &Stats{
		Total:     st.Total,
		ByStatus:  st.ByStatus,
		ByMeaning: st.ByField["meaning"],
		ByTable:   st.ByField["table_name"],
		BySigner:  st.ByField["signer_id"],
	}, nil
}
