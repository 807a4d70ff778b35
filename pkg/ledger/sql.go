package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Dialect selects SQL placeholder syntax.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLLedger implements Ledger using database/sql.
// It supports both Postgres and SQLite via standard drivers.
type SQLLedger struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLLedger(db *sql.DB, dialect Dialect) *SQLLedger {
	return &SQLLedger{db: db, dialect: dialect}
}

// OpenSQL opens and initializes a SQL ledger. The postgres driver must be
// registered by the caller.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQLLedger, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s ledger: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// One writer; also keeps ":memory:" databases on a single connection.
		db.SetMaxOpenConns(1)
	}
	l := NewSQLLedger(db, dialect)
	if err := l.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init %s ledger: %w", dialect, err)
	}
	return l, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS notarizations (
	proof_hash TEXT PRIMARY KEY,
	timestamp BIGINT NOT NULL,
	tx_hash TEXT NOT NULL,
	log_index BIGINT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`

func (s *SQLLedger) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLLedger) ID() string { return string(s.dialect) }

// Close closes the underlying database.
func (s *SQLLedger) Close() error { return s.db.Close() }

// q rewrites $n placeholders for the active dialect.
func (s *SQLLedger) q(query string) string {
	if s.dialect != DialectSQLite {
		return query
	}
	for i := 9; i >= 1; i-- {
		query = strings.ReplaceAll(query, fmt.Sprintf("$%d", i), "?")
	}
	return query
}

func (s *SQLLedger) Notarize(ctx context.Context, proofHash string, timestamp int64) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	// 1. Short-circuit on an existing record
	existing, err := s.lookup(ctx, tx, proofHash)
	switch {
	case err == nil:
		return checkExisting(existing, timestamp)
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	// 2. Next log position
	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(log_index), -1) + 1 FROM notarizations`).Scan(&next); err != nil {
		return nil, fmt.Errorf("%w: next index: %v", ErrUnavailable, err)
	}

	// 3. Insert; a concurrent writer of the same hash wins silently
	query := `
		INSERT INTO notarizations (proof_hash, timestamp, tx_hash, log_index, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (proof_hash) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, s.q(query),
		proofHash, timestamp, leafTxHash(proofHash, timestamp), next, time.Now().UTC(),
	); err != nil {
		return nil, fmt.Errorf("%w: insert: %v", ErrUnavailable, err)
	}

	rec, err := s.lookup(ctx, tx, proofHash)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return checkExisting(rec, timestamp)
}

func (s *SQLLedger) Lookup(ctx context.Context, proofHash string) (*Record, error) {
	return s.lookup(ctx, s.db, proofHash)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLLedger) lookup(ctx context.Context, q queryer, proofHash string) (*Record, error) {
	query := `SELECT proof_hash, timestamp, tx_hash, log_index FROM notarizations WHERE proof_hash = $1`
	row := q.QueryRowContext(ctx, s.q(query), proofHash)

	var rec Record
	if err := row.Scan(&rec.ProofHash, &rec.Timestamp, &rec.TxHash, &rec.LogIndex); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: lookup: %v", ErrUnavailable, err)
	}
	return &rec, nil
}
