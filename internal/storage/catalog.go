package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	scenario         TEXT NOT NULL,
	kind             TEXT NOT NULL,
	intervention     TEXT,
	phase            TEXT NOT NULL,
	cause            TEXT,
	converged        INTEGER NOT NULL,
	convergence_year INTEGER NOT NULL,
	years            INTEGER NOT NULL,
	replays          INTEGER NOT NULL DEFAULT 0,
	failed           INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS runs_scenario ON runs (scenario, created_at);
`

// ErrNotFound is returned for a run the catalog does not know.
var ErrNotFound = errors.New("storage: run not found")

// Catalog indexes stored runs in SQLite so they can be filtered without
// reading every run directory.
type Catalog struct {
	db *sql.DB
}

// OpenCatalog opens a SQLite database and runs migrations.
func OpenCatalog(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// Record inserts or replaces the catalog row for a run.
func (c *Catalog) Record(meta RunMetadata) error {
	_, err := c.db.Exec(
		`INSERT INTO runs (id, scenario, kind, intervention, phase, cause, converged, convergence_year, years, replays, failed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase, cause = excluded.cause, converged = excluded.converged,
			convergence_year = excluded.convergence_year, years = excluded.years,
			replays = excluded.replays, failed = excluded.failed`,
		meta.ID, meta.Scenario, string(meta.Kind), meta.Intervention, string(meta.Phase), string(meta.Cause),
		boolInt(meta.Converged), meta.ConvergenceYear, meta.Years, meta.Replays, meta.Failed,
		meta.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", meta.ID, err)
	}
	return nil
}

// Entry is one catalog row.
type Entry struct {
	ID              string
	Scenario        string
	Kind            Kind
	Intervention    string
	Phase           string
	Cause           string
	Converged       bool
	ConvergenceYear int
	Years           int
	Replays         int
	Failed          int
	CreatedAt       time.Time
}

// List returns runs newest first, optionally restricted to one scenario.
func (c *Catalog) List(scenario string) ([]Entry, error) {
	q := `SELECT id, scenario, kind, intervention, phase, cause, converged, convergence_year, years, replays, failed, created_at FROM runs`
	var args []any
	if scenario != "" {
		q += ` WHERE scenario = ?`
		args = append(args, scenario)
	}
	q += ` ORDER BY created_at DESC, id`

	rows, err := c.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (c *Catalog) Get(id string) (Entry, error) {
	row := c.db.QueryRow(
		`SELECT id, scenario, kind, intervention, phase, cause, converged, convergence_year, years, replays, failed, created_at
		 FROM runs WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

func (c *Catalog) Delete(id string) error {
	res, err := c.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e                   Entry
		kind, created       string
		intervention, cause sql.NullString
		converged           int
	)
	err := s.Scan(&e.ID, &e.Scenario, &kind, &intervention, &e.Phase, &cause,
		&converged, &e.ConvergenceYear, &e.Years, &e.Replays, &e.Failed, &created)
	if err != nil {
		return Entry{}, err
	}
	e.Kind = Kind(kind)
	e.Intervention = intervention.String
	e.Cause = cause.String
	e.Converged = converged != 0
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Entry{}, fmt.Errorf("run %s: created_at: %w", e.ID, err)
	}
	return e, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
