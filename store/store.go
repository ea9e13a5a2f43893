package store

// Package store persists the prefix registry and the process run journal in
// a SQLite database. The registry lets a host re-open known prefixes across
// runs; the journal records every launch and how it ended. Schema creation
// is idempotent and happens inside a single transaction at open time.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tomyedwab/winehost/prefix"
	"github.com/tomyedwab/winehost/processes"
)

const schema = `
CREATE TABLE IF NOT EXISTS prefixes (
	path TEXT PRIMARY KEY,
	arch TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	prefix_path TEXT NOT NULL,
	program TEXT NOT NULL,
	pid INTEGER NOT NULL,
	state TEXT NOT NULL,
	exit_code INTEGER,
	started_at TIMESTAMP NOT NULL,
	ended_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS runs_prefix_path ON runs (prefix_path, started_at);
`

const upsertPrefixSql = `
INSERT INTO prefixes (path, arch, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (path)
DO UPDATE SET arch = $2, status = $3, updated_at = $4;
`

// PrefixRecord is one row of the prefix registry.
type PrefixRecord struct {
	Path      string    `db:"path"`
	Arch      string    `db:"arch"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// RunRecord is one row of the process run journal.
type RunRecord struct {
	ID         string        `db:"id"`
	PrefixPath string        `db:"prefix_path"`
	Program    string        `db:"program"`
	PID        int           `db:"pid"`
	State      string        `db:"state"`
	ExitCode   sql.NullInt64 `db:"exit_code"`
	StartedAt  time.Time     `db:"started_at"`
	EndedAt    sql.NullTime  `db:"ended_at"`
}

// Store manages the SQLite connection. It implements processes.RunStore.
type Store struct {
	db *sqlx.DB
}

// Open creates a new database connection and initializes the schema.
func Open(dataSourceName string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers anyway; a single connection avoids BUSY
	// errors and keeps :memory: databases on one connection.
	db.SetMaxOpenConns(1)

	tx, err := db.Beginx()
	if err != nil {
		db.Close()
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SavePrefix inserts or updates the registry row for a prefix.
func (s *Store) SavePrefix(ctx context.Context, p *prefix.Prefix) error {
	_, err := s.db.ExecContext(ctx, upsertPrefixSql,
		p.Path(), string(p.Arch()), p.Status().String(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving prefix %s: %w", p.Path(), err)
	}
	return nil
}

// GetPrefix returns the registry row for a prefix path.
func (s *Store) GetPrefix(ctx context.Context, path string) (PrefixRecord, error) {
	var rec PrefixRecord
	err := s.db.GetContext(ctx, &rec, "SELECT * FROM prefixes WHERE path = $1", path)
	if err != nil {
		return PrefixRecord{}, fmt.Errorf("loading prefix %s: %w", path, err)
	}
	return rec, nil
}

// ListPrefixes returns every known prefix, ordered by path.
func (s *Store) ListPrefixes(ctx context.Context) ([]PrefixRecord, error) {
	var recs []PrefixRecord
	err := s.db.SelectContext(ctx, &recs, "SELECT * FROM prefixes ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("listing prefixes: %w", err)
	}
	return recs, nil
}

// RecordLaunch journals a newly launched process.
func (s *Store) RecordLaunch(ctx context.Context, rec processes.RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, prefix_path, program, pid, state, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.PrefixPath, rec.Program, rec.PID, rec.State, rec.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("recording launch of run %s: %w", rec.ID, err)
	}
	return nil
}

// RecordExit journals the terminal state of a process run.
func (s *Store) RecordExit(ctx context.Context, id string, state string, exitCode int, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = $1, exit_code = $2, ended_at = $3 WHERE id = $4`,
		state, exitCode, endedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("recording exit of run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("recording exit of run %s: run not found", id)
	}
	return nil
}

// ListRuns returns the journal for one prefix, oldest first.
func (s *Store) ListRuns(ctx context.Context, prefixPath string) ([]RunRecord, error) {
	var recs []RunRecord
	err := s.db.SelectContext(ctx, &recs,
		"SELECT * FROM runs WHERE prefix_path = $1 ORDER BY started_at", prefixPath)
	if err != nil {
		return nil, fmt.Errorf("listing runs for prefix %s: %w", prefixPath, err)
	}
	return recs, nil
}
