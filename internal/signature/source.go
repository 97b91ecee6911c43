package signature

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/clinledger/internal/canonical"
	"github.com/jmerrifield20/clinledger/internal/ledger"
)

// ErrRecordNotFound is returned by a RecordSource when the signed record does not exist.
var ErrRecordNotFound = errors.New("record not found")

// RecordSource reads the current state of a domain record that signatures refer to.
type RecordSource interface {
	CurrentRecord(ctx context.Context, table, id string) (map[string]any, error)
}

// HashRecord returns hex(H(canonical(record))).
func HashRecord(h ledger.Hasher, record map[string]any) (string, error) {
	data, err := canonical.DefaultRegistry().Current().Encode(record)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	d := h.New()
	d.Write(data)
	return hex.EncodeToString(d.Sum(nil)), nil
}

// MapRecordSource is an in-memory RecordSource.
type MapRecordSource struct {
	mu      sync.RWMutex
	records map[string]map[string]any
}

// NewMapRecordSource creates an empty MapRecordSource.
func NewMapRecordSource() *MapRecordSource {
	return &MapRecordSource{records: make(map[string]map[string]any)}
}

func recordKey(table, id string) string { return table + "/" + id }

// Put stores record under table/id, replacing any previous state.
func (s *MapRecordSource) Put(table, id string, record map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey(table, id)] = record
}

// Delete removes table/id.
func (s *MapRecordSource) Delete(table, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordKey(table, id))
}

// CurrentRecord implements RecordSource.
func (s *MapRecordSource) CurrentRecord(_ context.Context, table, id string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[recordKey(table, id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, table, id)
	}
	return r, nil
}

// PostgresRecordSource reads records as JSON from an allow-listed set of tables.
type PostgresRecordSource struct {
	pool     *pgxpool.Pool
	allowed  map[string]bool
	idColumn string
}

// NewPostgresRecordSource creates a PostgresRecordSource. Only tables in
// allowed may be read; idColumn defaults to "id".
func NewPostgresRecordSource(pool *pgxpool.Pool, allowed []string, idColumn string) *PostgresRecordSource {
	if idColumn == "" {
		idColumn = "id"
	}
	m := make(map[string]bool, len(allowed))
	for _, t := range allowed {
		m[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return &PostgresRecordSource{pool: pool, allowed: m, idColumn: idColumn}
}

// CurrentRecord implements RecordSource.
func (s *PostgresRecordSource) CurrentRecord(ctx context.Context, table, id string) (map[string]any, error) {
	if !s.allowed[strings.ToLower(table)] {
		return nil, ledger.ValidationErrorf("table %q may not be signed", table)
	}
	ident := pgx.Identifier(strings.Split(table, "."))
	q := fmt.Sprintf("SELECT to_jsonb(t)::text FROM %s t WHERE t.%s::text = $1",
		ident.Sanitize(), pgx.Identifier{s.idColumn}.Sanitize())

	var raw string
	if err := s.pool.QueryRow(ctx, q, id).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, table, id)
		}
		return nil, fmt.Errorf("read record %s/%s: %w", table, id, err)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode record %s/%s: %w", table, id, err)
	}
	return rec, nil
}
