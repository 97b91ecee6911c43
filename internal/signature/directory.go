package signature

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUnknownSigner is returned by a Directory for an unregistered signer.
var ErrUnknownSigner = errors.New("unknown signer")

// Signer is a directory entry. CredentialHash is bcrypt or sha256:<hex>.
type Signer struct {
	ID             string
	Name           string
	CredentialHash string
}

// Directory resolves signers and their stored credential hashes.
// Credential storage itself is owned by the surrounding application.
type Directory interface {
	Lookup(ctx context.Context, signerID string) (Signer, error)
}

// StaticDirectory is a fixed, in-memory Directory keyed by signer ID.
type StaticDirectory map[string]Signer

// Lookup implements Directory.
func (d StaticDirectory) Lookup(_ context.Context, signerID string) (Signer, error) {
	s, ok := d[signerID]
	if !ok {
		return Signer{}, fmt.Errorf("%w: %s", ErrUnknownSigner, signerID)
	}
	if s.ID == "" {
		s.ID = signerID
	}
	return s, nil
}

// DirectoryConfig names the table and columns PostgresDirectory reads.
type DirectoryConfig struct {
	Table      string
	IDColumn   string
	NameColumn string
	HashColumn string
}

func (c DirectoryConfig) withDefaults() DirectoryConfig {
	if c.Table == "" {
		c.Table = "signers"
	}
	if c.IDColumn == "" {
		c.IDColumn = "id"
	}
	if c.NameColumn == "" {
		c.NameColumn = "display_name"
	}
	if c.HashColumn == "" {
		c.HashColumn = "password_hash"
	}
	return c
}

// PostgresDirectory looks signers up in an application-owned table.
type PostgresDirectory struct {
	pool  *pgxpool.Pool
	query string
}

// NewPostgresDirectory creates a PostgresDirectory. Identifiers are quoted, so
// cfg may come from configuration.
func NewPostgresDirectory(pool *pgxpool.Pool, cfg DirectoryConfig) *PostgresDirectory {
	cfg = cfg.withDefaults()
	q := fmt.Sprintf("SELECT %s, COALESCE(%s::text, ''), %s FROM %s WHERE %s = $1",
		pgx.Identifier{cfg.IDColumn}.Sanitize(),
		pgx.Identifier{cfg.NameColumn}.Sanitize(),
		pgx.Identifier{cfg.HashColumn}.Sanitize(),
		pgx.Identifier{cfg.Table}.Sanitize(),
		pgx.Identifier{cfg.IDColumn}.Sanitize(),
	)
	return &PostgresDirectory{pool: pool, query: q}
}

// Lookup implements Directory.
func (d *PostgresDirectory) Lookup(ctx context.Context, signerID string) (Signer, error) {
	var s Signer
	if err := d.pool.QueryRow(ctx, d.query, signerID).Scan(&s.ID, &s.Name, &s.CredentialHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Signer{}, fmt.Errorf("%w: %s", ErrUnknownSigner, signerID)
		}
		return Signer{}, fmt.Errorf("lookup signer: %w", err)
	}
	return s, nil
}
