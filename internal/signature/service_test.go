package signature_test

import (
	"context"
	"crypto/sha512"
	"errors"
	"testing"
	"time"

	"github.com/jmerrifield20/clinledger/internal/authgate"
	"github.com/jmerrifield20/clinledger/internal/ledger"
	"github.com/jmerrifield20/clinledger/internal/signature"
	"go.uber.org/zap"
)

var ctx = context.Background()

type fixture struct {
	svc      *signature.Service
	core     *ledger.Core
	records  *signature.MapRecordSource
	attempts *authgate.MemoryAttemptStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	core := ledger.New(ledger.NewMemoryStore(), logger,
		ledger.WithClock(func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }))
	attempts := authgate.NewMemoryAttemptStore()
	gate := authgate.NewGate(attempts, logger)
	dir := signature.StaticDirectory{
		"u-alice": {Name: "Alice Investigator", CredentialHash: authgate.HashSHA256("alice-pass")},
		"u-bob":   {Name: "Bob Monitor", CredentialHash: authgate.HashSHA256("bob-pass")},
	}
	records := signature.NewMapRecordSource()
	records.Put("visits", "42", map[string]any{"id": "42", "weight_kg": 71.5, "subject": "S-001"})

	return &fixture{
		svc:      signature.NewService(core, gate, dir, records, logger),
		core:     core,
		records:  records,
		attempts: attempts,
	}
}

func (f *fixture) sign(t *testing.T, signer, cred string, m signature.Meaning) (*ledger.AppendResult, error) {
	t.Helper()
	return f.svc.Sign(ctx, signature.SignRequest{
		TableName:  "visits",
		RecordID:   "42",
		SignerID:   signer,
		Credential: cred,
		Meaning:    m,
		Context:    signature.Context{IPAddress: "10.1.1.1", SessionID: "sess-9"},
	})
}

func TestSign_chainsSignaturesOnOneRecord(t *testing.T) {
	f := newFixture(t)

	first, err := f.sign(t, "u-alice", "alice-pass", signature.MeaningCreatedBy)
	if err != nil {
		t.Fatal(err)
	}
	v, err := f.svc.Verify(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsValid {
		t.Fatalf("expected valid signature, got %+v", v.EntryVerification)
	}

	second, err := f.sign(t, "u-bob", "bob-pass", signature.MeaningReviewedBy)
	if err != nil {
		t.Fatal(err)
	}
	if second.PreviousHash != first.ContentHash {
		t.Errorf("second signature should link to the first: %s != %s", second.PreviousHash, first.ContentHash)
	}
	if second.ContentHash == first.ContentHash {
		t.Error("distinct signatures share a content hash")
	}

	sigs, err := f.svc.ListForRecord(ctx, "visits", "42")
	if err != nil {
		t.Fatal(err)
	}
	if len(sigs) != 2 {
		t.Fatalf("expected 2 signatures, got %d", len(sigs))
	}
	if sigs[0].Meaning != signature.MeaningCreatedBy || sigs[0].SignerName != "Alice Investigator" {
		t.Errorf("first signature: %+v", sigs[0])
	}
	if sigs[1].Statement != signature.MeaningReviewedBy.Description() {
		t.Errorf("statement: %q", sigs[1].Statement)
	}
	if !sigs[0].SignedAt.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("signed at: %v", sigs[0].SignedAt)
	}
}

func TestSign_wrongCredentialAppendsNothing(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		_, err := f.sign(t, "u-alice", "not-my-password", signature.MeaningApprovedBy)
		if !errors.Is(err, ledger.ErrAuthenticationFailure) {
			t.Fatalf("attempt %d: expected ErrAuthenticationFailure, got %v", i, err)
		}
	}

	failed, err := f.attempts.List(ctx, authgate.AttemptFilter{SignerID: "u-alice"})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 3 {
		t.Fatalf("expected 3 attempt records, got %d", len(failed))
	}
	for _, r := range failed {
		if r.Outcome != authgate.OutcomeFailedPassword || r.IPAddress != "10.1.1.1" {
			t.Errorf("attempt record: %+v", r)
		}
	}

	head, err := f.core.Head(ctx, signature.Namespace)
	if err != nil {
		t.Fatal(err)
	}
	if head.Sequence != 0 || head.Hash != ledger.GenesisHash {
		t.Errorf("head moved: %+v", head)
	}
}

func TestSign_unknownSignerIsRecorded(t *testing.T) {
	f := newFixture(t)

	_, err := f.sign(t, "u-mallory", "guess", signature.MeaningCreatedBy)
	if !errors.Is(err, ledger.ErrAuthenticationFailure) {
		t.Fatalf("expected ErrAuthenticationFailure, got %v", err)
	}
	recs, _ := f.attempts.List(ctx, authgate.AttemptFilter{SignerID: "u-mallory"})
	if len(recs) != 1 || recs[0].Outcome != authgate.OutcomeUnknownSigner {
		t.Errorf("attempts: %+v", recs)
	}
}

func TestSign_validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  signature.SignRequest
	}{
		{"unknown meaning", signature.SignRequest{TableName: "visits", RecordID: "42", SignerID: "u-alice", Meaning: "LIKED_BY"}},
		{"bad table", signature.SignRequest{TableName: "visits; drop", RecordID: "42", SignerID: "u-alice", Meaning: signature.MeaningCreatedBy}},
		{"missing record", signature.SignRequest{TableName: "visits", SignerID: "u-alice", Meaning: signature.MeaningCreatedBy}},
		{"missing signer", signature.SignRequest{TableName: "visits", RecordID: "42", Meaning: signature.MeaningCreatedBy}},
		{"record does not exist", signature.SignRequest{TableName: "visits", RecordID: "404", SignerID: "u-alice", Credential: "alice-pass", Meaning: signature.MeaningCreatedBy}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Sign(ctx, tt.req)
			if !errors.Is(err, ledger.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}

	// Malformed requests and missing records are rejected before any
	// credential check.
	if st, _ := f.attempts.Stats(ctx); st.Total != 0 {
		t.Errorf("expected no attempts to be recorded, got %d", st.Total)
	}
}

// allowListSource serves records from a MapRecordSource but refuses tables
// outside its allow-list, as PostgresRecordSource does.
type allowListSource struct {
	*signature.MapRecordSource
	allowed map[string]bool
}

func (s allowListSource) CurrentRecord(ctx context.Context, table, id string) (map[string]any, error) {
	if !s.allowed[table] {
		return nil, ledger.ValidationErrorf("table %q may not be signed", table)
	}
	return s.MapRecordSource.CurrentRecord(ctx, table, id)
}

func TestSign_disallowedTableRecordsNoAttempt(t *testing.T) {
	logger := zap.NewNop()
	core := ledger.New(ledger.NewMemoryStore(), logger)
	attempts := authgate.NewMemoryAttemptStore()
	records := signature.NewMapRecordSource()
	records.Put("visits", "42", map[string]any{"id": "42"})
	records.Put("payroll", "1", map[string]any{"id": "1"})
	svc := signature.NewService(core, authgate.NewGate(attempts, logger),
		signature.StaticDirectory{"u-alice": {Name: "Alice", CredentialHash: authgate.HashSHA256("alice-pass")}},
		allowListSource{MapRecordSource: records, allowed: map[string]bool{"visits": true}}, logger)

	_, err := svc.Sign(ctx, signature.SignRequest{
		TableName: "payroll", RecordID: "1", SignerID: "u-alice", Credential: "alice-pass", Meaning: signature.MeaningApprovedBy,
	})
	if !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if st, _ := attempts.Stats(ctx); st.Total != 0 {
		t.Errorf("expected no attempt for a disallowed table, got %d", st.Total)
	}

	if _, err := svc.Sign(ctx, signature.SignRequest{
		TableName: "visits", RecordID: "42", SignerID: "u-alice", Credential: "alice-pass", Meaning: signature.MeaningApprovedBy,
	}); err != nil {
		t.Fatal(err)
	}
	recs, _ := attempts.List(ctx, authgate.AttemptFilter{})
	if len(recs) != 1 || recs[0].Outcome != authgate.OutcomeSuccess {
		t.Errorf("attempts: %+v", recs)
	}
}

func TestVerify_injectedHasher(t *testing.T) {
	logger := zap.NewNop()
	core := ledger.New(ledger.NewMemoryStore(), logger,
		ledger.WithHasher(ledger.NewHasher("sha512-256", sha512.New512_256)))
	records := signature.NewMapRecordSource()
	records.Put("visits", "42", map[string]any{"id": "42", "weight_kg": 71.5})
	svc := signature.NewService(core, authgate.NewGate(authgate.NewMemoryAttemptStore(), logger),
		signature.StaticDirectory{"u-alice": {Name: "Alice", CredentialHash: authgate.HashSHA256("alice-pass")}},
		records, logger)

	res, err := svc.Sign(ctx, signature.SignRequest{
		TableName: "visits", RecordID: "42", SignerID: "u-alice", Credential: "alice-pass", Meaning: signature.MeaningVerifiedBy,
	})
	if err != nil {
		t.Fatal(err)
	}

	v, err := svc.Verify(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsValid {
		t.Fatalf("expected valid signature, got %+v", v.EntryVerification)
	}
	if v.Signature.RecordHashAlgorithm != "sha512-256" {
		t.Errorf("record hash algorithm: %q", v.Signature.RecordHashAlgorithm)
	}
	if v.RecordUnchanged == nil || !*v.RecordUnchanged {
		t.Errorf("untouched record reported as changed: %q", v.RecordDetail)
	}

	records.Put("visits", "42", map[string]any{"id": "42", "weight_kg": 80.0})
	if v, _ = svc.Verify(ctx, res.ID); v.RecordUnchanged == nil || *v.RecordUnchanged {
		t.Error("expected record_unchanged=false after the record changed")
	}
}

func TestVerify_reportsChangedRecordSeparately(t *testing.T) {
	f := newFixture(t)
	res, err := f.sign(t, "u-alice", "alice-pass", signature.MeaningVerifiedBy)
	if err != nil {
		t.Fatal(err)
	}

	v, err := f.svc.Verify(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if v.RecordUnchanged == nil || !*v.RecordUnchanged {
		t.Fatalf("record should be unchanged: %+v", v)
	}

	f.records.Put("visits", "42", map[string]any{"id": "42", "weight_kg": 75.0, "subject": "S-001"})
	v, err = f.svc.Verify(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsValid {
		t.Error("a changed record must not invalidate the signature itself")
	}
	if v.RecordUnchanged == nil || *v.RecordUnchanged {
		t.Error("expected record_unchanged=false")
	}
	if v.CurrentRecordHash == "" || v.CurrentRecordHash == v.Signature.RecordHash {
		t.Errorf("current record hash: %q", v.CurrentRecordHash)
	}

	f.records.Delete("visits", "42")
	v, err = f.svc.Verify(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if v.RecordUnchanged == nil || *v.RecordUnchanged || v.RecordDetail == "" {
		t.Errorf("deleted record: %+v", v)
	}
}

func TestVerify_invalidatedSignature(t *testing.T) {
	f := newFixture(t)
	res, err := f.sign(t, "u-alice", "alice-pass", signature.MeaningCreatedBy)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.core.Invalidate(ctx, signature.Namespace, res.ID, "qa-lead", "signed the wrong visit record"); err != nil {
		t.Fatal(err)
	}

	v, err := f.svc.Verify(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if v.IsValid || v.Code != ledger.CodeInvalidated || v.Reason != "signed the wrong visit record" {
		t.Errorf("verification: %+v", v.EntryVerification)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.records.Put("forms", "7", map[string]any{"id": "7"})
	if _, err := f.sign(t, "u-alice", "alice-pass", signature.MeaningCreatedBy); err != nil {
		t.Fatal(err)
	}
	if _, err := f.sign(t, "u-bob", "bob-pass", signature.MeaningReviewedBy); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Sign(ctx, signature.SignRequest{
		TableName: "forms", RecordID: "7", SignerID: "u-bob", Credential: "bob-pass", Meaning: signature.MeaningApprovedBy,
	}); err != nil {
		t.Fatal(err)
	}

	st, err := f.svc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 3 || st.ByStatus[ledger.StatusValid] != 3 {
		t.Errorf("stats: %+v", st)
	}
	if st.ByTable["visits"] != 2 || st.ByTable["forms"] != 1 {
		t.Errorf("by table: %v", st.ByTable)
	}
	if st.ByMeaning["APPROVED_BY"] != 1 || st.BySigner["u-bob"] != 2 {
		t.Errorf("by meaning %v, by signer %v", st.ByMeaning, st.BySigner)
	}
}

func TestParseMeaning(t *testing.T) {
	m, err := signature.ParseMeaning(" reviewed_by ")
	if err != nil || m != signature.MeaningReviewedBy {
		t.Errorf("ParseMeaning: %q, %v", m, err)
	}
	if _, err := signature.ParseMeaning("LIKED_BY"); !errors.Is(err, ledger.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if n := len(signature.Meanings()); n != 6 {
		t.Errorf("expected 6 meanings, got %d", n)
	}
}
