package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// lockPrefix scopes advisory lock keys so they cannot collide with other
// users of pg_advisory_xact_lock in the same database.
const lockPrefix = "ledger:"

const entryColumns = `id, namespace, sequence, payload, encoding_version, hash_algorithm,
	content_hash, previous_hash, status, invalidated_by, invalidation_reason, invalidated_at, created_at`

// PostgresStore persists ledger namespaces to PostgreSQL. It implements Store.
//
// Appends to one namespace are serialised by a transaction-scoped advisory
// lock plus a row lock on the namespace's ledger_heads row. The unique
// constraints on (namespace, sequence) and (namespace, previous_hash) reject a
// fork even if a writer bypasses the lock.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, ns Namespace, build BuildFunc) (*Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		"SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", lockPrefix+string(ns),
	); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_heads (namespace, sequence, hash, updated_at)
		 VALUES ($1, 0, $2, now()) ON CONFLICT (namespace) DO NOTHING`,
		string(ns), GenesisHash,
	); err != nil {
		return nil, fmt.Errorf("ensure head: %w", err)
	}

	head := Head{Namespace: ns}
	if err := tx.QueryRow(ctx,
		"SELECT sequence, hash FROM ledger_heads WHERE namespace = $1 FOR UPDATE", string(ns),
	).Scan(&head.Sequence, &head.Hash); err != nil {
		return nil, fmt.Errorf("lock head: %w", err)
	}

	entry, err := build(head)
	if err != nil {
		return nil, err
	}
	if entry.Sequence != head.Sequence+1 || entry.PreviousHash != head.Hash {
		return nil, fmt.Errorf("entry does not extend head %d/%s", head.Sequence, head.Hash)
	}

	payloadJSON, err := json.Marshal(entry.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, namespace, sequence, payload, encoding_version, hash_algorithm,
		 content_hash, previous_hash, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, string(ns), entry.Sequence, payloadJSON, entry.EncodingVersion,
		entry.HashAlgorithm, entry.ContentHash, entry.PreviousHash,
		string(entry.Status), entry.CreatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("chain fork rejected by %s: %w", pgErr.ConstraintName, err)
		}
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE ledger_heads SET sequence = $2, hash = $3, updated_at = now() WHERE namespace = $1",
		string(ns), entry.Sequence, entry.ContentHash,
	); err != nil {
		return nil, fmt.Errorf("advance head: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	s.logger.Debug("ledger row committed",
		zap.String("namespace", string(ns)),
		zap.Int64("sequence", entry.Sequence),
	)
	return entry, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, ns Namespace, id uuid.UUID) (*Entry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE namespace = $1 AND id = $2",
		string(ns), id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, ns, id)
		}
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return e, nil
}

// GetBySequence implements Store.
func (s *PostgresStore) GetBySequence(ctx context.Context, ns Namespace, seq int64) (*Entry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE namespace = $1 AND sequence = $2",
		string(ns), seq,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s sequence %d", ErrNotFound, ns, seq)
		}
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return e, nil
}

// Head implements Store.
func (s *PostgresStore) Head(ctx context.Context, ns Namespace) (Head, error) {
	h := Head{Namespace: ns}
	if err := s.pool.QueryRow(ctx,
		"SELECT sequence, hash FROM ledger_heads WHERE namespace = $1", string(ns),
	).Scan(&h.Sequence, &h.Hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return emptyHead(ns), nil
		}
		return Head{}, fmt.Errorf("read ledger head: %w", err)
	}
	return h, nil
}

// Scan implements Store. Rows are streamed in ascending sequence order.
func (s *PostgresStore) Scan(ctx context.Context, ns Namespace, fn func(*Entry) error) error {
	rows, err := s.pool.Query(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE namespace = $1 ORDER BY sequence ASC",
		string(ns),
	)
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan ledger row: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, ns Namespace, f Filter) ([]*Entry, error) {
	var (
		where = []string{"namespace = $1"}
		args  = []any{string(ns)}
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.Field != "" {
		where = append(where, "payload ->> "+arg(f.Field)+" = "+arg(f.Value))
	}
	q := "SELECT " + entryColumns + " FROM ledger_entries WHERE " +
		strings.Join(where, " AND ") + " ORDER BY sequence ASC"
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		q += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Invalidate implements Store. Only the status and invalidation columns are
// written; the hash columns are protected by a trigger as well.
func (s *PostgresStore) Invalidate(ctx context.Context, ns Namespace, id uuid.UUID, inv Invalidation) (*Entry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx,
		`UPDATE ledger_entries
		 SET status = $3, invalidated_by = $4, invalidation_reason = $5, invalidated_at = $6
		 WHERE namespace = $1 AND id = $2 AND status = $7
		 RETURNING `+entryColumns,
		string(ns), id, string(StatusInvalidated), inv.InvalidatedBy, inv.Reason,
		inv.InvalidatedAt, string(StatusValid),
	))
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("invalidate ledger entry: %w", err)
	}

	// Nothing updated: the entry is missing or no longer VALID.
	if _, err := s.Get(ctx, ns, id); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrAlreadyInvalidated, ns, id)
}

// Namespaces implements Store.
func (s *PostgresStore) Namespaces(ctx context.Context) ([]Namespace, error) {
	rows, err := s.pool.Query(ctx, "SELECT namespace FROM ledger_heads ORDER BY namespace")
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	defer rows.Close()

	var out []Namespace
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, fmt.Errorf("scan namespace: %w", err)
		}
		out = append(out, Namespace(ns))
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e             Entry
		ns, status    string
		payload       []byte
		invBy, reason *string
		invAt         *time.Time
	)
	if err := row.Scan(
		&e.ID, &ns, &e.Sequence, &payload, &e.EncodingVersion, &e.HashAlgorithm,
		&e.ContentHash, &e.PreviousHash, &status, &invBy, &reason, &invAt, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.Namespace = Namespace(ns)
	e.Status = Status(status)
	e.CreatedAt = e.CreatedAt.UTC()
	if err := json.Unmarshal(payload, &e.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of %s/%d: %w", ns, e.Sequence, err)
	}
	if invBy != nil && reason != nil && invAt != nil {
		e.Invalidation = &Invalidation{
			InvalidatedBy: *invBy,
			Reason:        *reason,
			InvalidatedAt: invAt.UTC(),
		}
	}
	return &e, nil
}
