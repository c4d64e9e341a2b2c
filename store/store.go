// Package store persists correlation records in the SQLite database shared
// with the bounce companion filter. This side only inserts; the companion
// sets bouncetime when a bounce arrives.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"

	"github.com/uatmail/verp-filter/outcome"
)

const schema = `
CREATE TABLE IF NOT EXISTS mails (
	verp TEXT NOT NULL,
	sender TEXT NOT NULL,
	recipient TEXT NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	bouncetime INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_mails_verp ON mails(verp);
`

// Record is one correlation row: a VERP token mapped back to the message
// that carried it.
type Record struct {
	Verp      string
	Sender    string
	Recipient string
	Subject   string
	// BounceTime is 0 until the bounce companion marks a bounce.
	BounceTime int64
}

type Store struct {
	db *sql.DB
}

// Open connects to an existing correlation database. A missing file, an
// unreadable file or a failing ping all classify as StoreUnavailable: the
// condition may be transient, so the caller defers the mail instead of
// bouncing it. Open never creates the database; that is Create's job.
func Open(ctx context.Context, path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, outcome.Errorf(outcome.KindStoreUnavailable, "stat database %s: %w", path, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, outcome.Errorf(outcome.KindStoreUnavailable, "open database %s: %w", path, err)
	}

	// Many filter processes share this file; keep a single connection and
	// hold it as briefly as possible.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, outcome.Errorf(outcome.KindStoreUnavailable, "ping database %s: %w", path, err)
	}

	return &Store{db: db}, nil
}

// Create opens or creates the database and ensures the mails schema
// exists. Used by `verp-filter init` and by tests; the filter path goes
// through Open.
func Create(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		// WAL is an optimization for concurrent filter processes, not a
		// requirement.
		if logger != nil {
			logger.Warn("failed to enable WAL journal mode", "database", path, "err", err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database %s: %w", path, err)
	}

	return &Store{db: db}, nil
}

// Insert writes one correlation record in its own transaction. All values
// are bound as parameters; subject and addresses are sender-controlled
// text and must never be interpolated into the statement.
func (s *Store) Insert(ctx context.Context, rec Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return outcome.Errorf(outcome.KindStoreWrite, "begin: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO mails (verp, sender, recipient, subject, bouncetime) VALUES (?, ?, ?, ?, ?)`,
		rec.Verp, rec.Sender, rec.Recipient, rec.Subject, rec.BounceTime)
	if err != nil {
		tx.Rollback()
		return outcome.Errorf(outcome.KindStoreWrite, "insert record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return outcome.Errorf(outcome.KindStoreWrite, "commit: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest inserts first. When
// bouncedOnly is set, only rows with a recorded bounce are returned.
func (s *Store) Recent(ctx context.Context, limit int, bouncedOnly bool) ([]Record, error) {
	query := `SELECT verp, sender, recipient, subject, bouncetime FROM mails`
	if bouncedOnly {
		query += ` WHERE bouncetime > 0`
	}
	query += ` ORDER BY rowid DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Verp, &rec.Sender, &rec.Recipient, &rec.Subject, &rec.BounceTime); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// Stats summarizes the table for the records subcommand.
type Stats struct {
	Total   int64
	Bounced int64
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN bouncetime > 0 THEN 1 ELSE 0 END), 0) FROM mails`)
	if err := row.Scan(&st.Total, &st.Bounced); err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return st, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
