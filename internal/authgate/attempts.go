package authgate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AttemptRecord is an authentication attempt. Records live outside the hash
// chain and never consume a sequence number.
type AttemptRecord struct {
	ID          uuid.UUID `json:"id"`
	SignerID    string    `json:"signer_id"`
	Outcome     Outcome   `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
	IPAddress   string    `json:"ip_address,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
}

// AttemptFilter narrows List results. Zero values match everything.
type AttemptFilter struct {
	SignerID string
	Outcome  Outcome
	Since    time.Time
	Limit    int
}

func (f AttemptFilter) matches(r AttemptRecord) bool {
	if f.SignerID != "" && r.SignerID != f.SignerID {
		return false
	}
	if f.Outcome != "" && r.Outcome != f.Outcome {
		return false
	}
	if !f.Since.IsZero() && r.AttemptedAt.Before(f.Since) {
		return false
	}
	return true
}

// AttemptStats counts attempts by outcome and by signer.
type AttemptStats struct {
	Total     int64             `json:"total"`
	ByOutcome map[Outcome]int64 `json:"by_outcome"`
	BySigner  map[string]int64  `json:"by_signer"`
}

// AttemptStore persists attempt records.
type AttemptStore interface {
	Record(ctx context.Context, r AttemptRecord) error
	// List returns matching records, most recent first.
	List(ctx context.Context, f AttemptFilter) ([]AttemptRecord, error)
	Stats(ctx context.Context) (AttemptStats, error)
}

// MemoryAttemptStore keeps attempts in memory.
type MemoryAttemptStore struct {
	mu      sync.RWMutex
	records []AttemptRecord
}

// NewMemoryAttemptStore creates an empty MemoryAttemptStore.
func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{}
}

// Record implements AttemptStore.
func (s *MemoryAttemptStore) Record(_ context.Context, r AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

// List implements AttemptStore.
func (s *MemoryAttemptStore) List(_ context.Context, f AttemptFilter) ([]AttemptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AttemptRecord
	for i := len(s.records) - 1; i >= 0; i-- {
		if !f.matches(s.records[i]) {
			continue
		}
		out = append(out, s.records[i])
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Stats implements AttemptStore.
func (s *MemoryAttemptStore) Stats(_ context.Context) (AttemptStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := newAttemptStats()
	for _, r := range s.records {
		st.Total++
		st.ByOutcome[r.Outcome]++
		st.BySigner[r.SignerID]++
	}
	return st, nil
}

func newAttemptStats() AttemptStats {
	return AttemptStats{
		ByOutcome: make(map[Outcome]int64),
		BySigner:  make(map[string]int64),
	}
}

// PostgresAttemptStore persists attempts to the auth_attempts table.
type PostgresAttemptStore struct {
	pool *pgxpool.Pool
}

// NewPostgresAttemptStore creates a PostgresAttemptStore backed by pool.
func NewPostgresAttemptStore(pool *pgxpool.Pool) *PostgresAttemptStore {
	return &PostgresAttemptStore{pool: pool}
}

// Record implements AttemptStore.
func (s *PostgresAttemptStore) Record(ctx context.Context, r AttemptRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO auth_attempts (id, signer_id, outcome, reason, ip_address, session_id, attempted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.SignerID, string(r.Outcome), r.Reason, r.IPAddress, r.SessionID, r.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("insert auth attempt: %w", err)
	}
	return nil
}

// List implements AttemptStore.
func (s *PostgresAttemptStore) List(ctx context.Context, f AttemptFilter) ([]AttemptRecord, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.SignerID != "" {
		where = append(where, "signer_id = "+arg(f.SignerID))
	}
	if f.Outcome != "" {
		where = append(where, "outcome = "+arg(string(f.Outcome)))
	}
	if !f.Since.IsZero() {
		where = append(where, "attempted_at >= "+arg(f.Since))
	}

	q := "SELECT id, signer_id, outcome, reason, ip_address, session_id, attempted_at FROM auth_attempts"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY attempted_at DESC"
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list auth attempts: %w", err)
	}
	defer rows.Close()

	var out []AttemptRecord
	for rows.Next() {
		var (
			r       AttemptRecord
			outcome string
		)
		if err := rows.Scan(&r.ID, &r.SignerID, &outcome, &r.Reason, &r.IPAddress, &r.SessionID, &r.AttemptedAt); err != nil {
			return nil, fmt.Errorf("scan auth attempt: %w", err)
		}
		r.Outcome = Outcome(outcome)
		r.AttemptedAt = r.AttemptedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats implements AttemptStore.
func (s *PostgresAttemptStore) Stats(ctx context.Context) (AttemptStats, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT signer_id, outcome, COUNT(*) FROM auth_attempts GROUP BY signer_id, outcome",
	)
	if err != nil {
		return AttemptStats{}, fmt.Errorf("auth attempt stats: %w", err)
	}
	defer rows.Close()

	st := newAttemptStats()
	for rows.Next() {
		var (
			signer, outcome string
			n               int64
		)
		if err := rows.Scan(&signer, &outcome, &n); err != nil {
			return AttemptStats{}, fmt.Errorf("scan auth attempt stats: %w", err)
		}
		st.Total += n
		st.ByOutcome[Outcome(outcome)] += n
		st.BySigner[signer] += n
	}
	return st, rows.Err()
}
