// Package history keeps a local SQLite record of pipeline runs and their
// failures so the stats command can report on past runs.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/tom-jm69/cs-medal-parser/engine/collectible"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNoRuns is returned by Last when nothing has been recorded yet.
var ErrNoRuns = errors.New("history: no runs recorded")

// Store is a run history backed by a single SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if _, _, err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) (uint, bool, error) {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return 0, false, fmt.Errorf("history: create sqlite driver: %w", err)
	}
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, false, fmt.Errorf("history: create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return 0, false, fmt.Errorf("history: create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, false, fmt.Errorf("history: run migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, false, fmt.Errorf("history: migration version: %w", err)
	}
	return version, dirty, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// RecordRun stores one summary and its failures in a single transaction.
func (s *Store) RecordRun(ctx context.Context, sum collectible.RunSummary) error {
	if sum.RunID == "" {
		return errors.New("history: run id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, started_at, finished_at, catalog_items, classified, succeeded, skipped, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.RunID,
		sum.StartedAt.UTC().Format(timeLayout),
		sum.FinishedAt.UTC().Format(timeLayout),
		sum.CatalogItems, sum.Classified, sum.Succeeded, sum.Skipped, sum.Failed,
	)
	if err != nil {
		return fmt.Errorf("history: insert run: %w", err)
	}
	for _, f := range sum.Failures {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO failures (run_id, item_id, file_name, error) VALUES (?, ?, ?, ?)`,
			sum.RunID, f.ItemID, f.FileName, f.ErrorDetail)
		if err != nil {
			return fmt.Errorf("history: insert failure: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first. Failures are not loaded.
func (s *Store) Recent(ctx context.Context, limit int) ([]collectible.RunSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, catalog_items, classified, succeeded, skipped, failed
		FROM runs
		ORDER BY started_at DESC, run_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query runs: %w", err)
	}
	defer rows.Close()

	var out []collectible.RunSummary
	for rows.Next() {
		var sum collectible.RunSummary
		var started, finished string
		if err := rows.Scan(&sum.RunID, &started, &finished,
			&sum.CatalogItems, &sum.Classified, &sum.Succeeded, &sum.Skipped, &sum.Failed); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		if sum.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("history: run %s started_at: %w", sum.RunID, err)
		}
		if sum.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
			return nil, fmt.Errorf("history: run %s finished_at: %w", sum.RunID, err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Last returns the newest run with its failures.
func (s *Store) Last(ctx context.Context) (collectible.RunSummary, error) {
	runs, err := s.Recent(ctx, 1)
	if err != nil {
		return collectible.RunSummary{}, err
	}
	if len(runs) == 0 {
		return collectible.RunSummary{}, ErrNoRuns
	}
	sum := runs[0]
	sum.Failures, err = s.Failures(ctx, sum.RunID)
	return sum, err
}

// Failures lists the failed items of one run in insertion order.
func (s *Store) Failures(ctx context.Context, runID string) ([]collectible.Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, file_name, error FROM failures WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: query failures: %w", err)
	}
	defer rows.Close()

	var out []collectible.Outcome
	for rows.Next() {
		var o collectible.Outcome
		if err := rows.Scan(&o.ItemID, &o.FileName, &o.ErrorDetail); err != nil {
			return nil, fmt.Errorf("history: scan failure: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
