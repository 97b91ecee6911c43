package authgate_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jmerrifield20/clinledger/internal/audit"
	"github.com/jmerrifield20/clinledger/internal/authgate"
	"github.com/jmerrifield20/clinledger/internal/ledger"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var ctx = context.Background()

func TestAuthenticate_outcomes(t *testing.T) {
	bc, err := authgate.HashBcrypt("correct horse", bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	sha := authgate.HashSHA256("correct horse")

	tests := []struct {
		name     string
		supplied string
		hash     string
		want     authgate.Outcome
	}{
		{"bcrypt match", "correct horse", bc, authgate.OutcomeSuccess},
		{"bcrypt mismatch", "wrong", bc, authgate.OutcomeFailedPassword},
		{"sha256 match", "correct horse", sha, authgate.OutcomeSuccess},
		{"sha256 mismatch", "wrong", sha, authgate.OutcomeFailedPassword},
		{"empty supplied", "", sha, authgate.OutcomeFailedPassword},
		{"unknown signer", "correct horse", "", authgate.OutcomeUnknownSigner},
		{"short sha256", "correct horse", "sha256:abcd", authgate.OutcomeMalformedHash},
		{"non-hex sha256", "correct horse", "sha256:" + strings.Repeat("zz", 32), authgate.OutcomeMalformedHash},
		{"unknown format", "correct horse", "md5:abc", authgate.OutcomeMalformedHash},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := authgate.NewGate(authgate.NewMemoryAttemptStore(), zap.NewNop())
			res, err := g.Authenticate(ctx, authgate.Attempt{SignerID: "alice", Supplied: tt.supplied, ExpectedHash: tt.hash})
			if err != nil {
				t.Fatal(err)
			}
			if res.Outcome != string(tt.want) {
				t.Errorf("outcome: got %s, want %s", res.Outcome, tt.want)
			}
			if res.Passed != (tt.want == authgate.OutcomeSuccess) {
				t.Errorf("passed: got %v", res.Passed)
			}
			if res.SignerID != "alice" || res.AttemptID == "" {
				t.Errorf("result: %+v", res)
			}
		})
	}
}

func TestAuthenticate_recordsEveryAttempt(t *testing.T) {
	store := authgate.NewMemoryAttemptStore()
	var events []audit.Event
	sink := audit.SinkFunc(func(_ context.Context, e audit.Event) error {
		events = append(events, e)
		return nil
	})
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	g := authgate.NewGate(store, zap.NewNop(),
		authgate.WithAuditSink(sink),
		authgate.WithClock(func() time.Time { return now }),
	)
	hash := authgate.HashSHA256("secret-1")

	for i := 0; i < 3; i++ {
		if _, err := g.Authenticate(ctx, authgate.Attempt{
			SignerID: "alice", Supplied: "guess", ExpectedHash: hash, IPAddress: "10.0.0.7", SessionID: "s-1",
		}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := g.Authenticate(ctx, authgate.Attempt{SignerID: "bob", Supplied: "secret-1", ExpectedHash: hash}); err != nil {
		t.Fatal(err)
	}

	failed, err := store.List(ctx, authgate.AttemptFilter{Outcome: authgate.OutcomeFailedPassword})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 3 {
		t.Fatalf("expected 3 failed attempts, got %d", len(failed))
	}
	r := failed[0]
	if r.SignerID != "alice" || r.IPAddress != "10.0.0.7" || r.SessionID != "s-1" || !r.AttemptedAt.Equal(now) {
		t.Errorf("record: %+v", r)
	}

	latest, _ := store.List(ctx, authgate.AttemptFilter{Limit: 1})
	if len(latest) != 1 || latest[0].SignerID != "bob" {
		t.Errorf("most recent attempt should be bob's, got %+v", latest)
	}

	st, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 4 || st.ByOutcome[authgate.OutcomeFailedPassword] != 3 || st.ByOutcome[authgate.OutcomeSuccess] != 1 {
		t.Errorf("stats: %+v", st)
	}
	if st.BySigner["alice"] != 3 || st.BySigner["bob"] != 1 {
		t.Errorf("by signer: %v", st.BySigner)
	}

	if len(events) != 4 {
		t.Fatalf("expected 4 audit events, got %d", len(events))
	}
	if events[0].Kind != audit.KindAuthAttempt || events[0].Outcome != string(authgate.OutcomeFailedPassword) {
		t.Errorf("event: %+v", events[0])
	}
}

type failingStore struct{ authgate.AttemptStore }

func (failingStore) Record(context.Context, authgate.AttemptRecord) error {
	return errors.New("connection refused")
}

func TestAuthenticate_unrecordedAttemptFails(t *testing.T) {
	g := authgate.NewGate(failingStore{}, zap.NewNop())

	res, err := g.Authenticate(ctx, authgate.Attempt{
		SignerID: "alice", Supplied: "secret-1", ExpectedHash: authgate.HashSHA256("secret-1"),
	})
	if !errors.Is(err, ledger.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if res.Passed {
		t.Error("an unrecorded attempt must not pass")
	}
}
