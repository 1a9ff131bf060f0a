package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const defaultListLimit = 50

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB

	insertRunStmt *sql.Stmt
	getRunStmt    *sql.Stmt
	listRunsStmt  *sql.Stmt
}

// NewSQLiteStore opens or creates a SQLite store at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("store: empty sqlite path")
	}
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create sqlite dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	st := &SQLiteStore{db: db}
	if err := st.prepareStatements(); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode = WAL`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			total INTEGER NOT NULL,
			success INTEGER NOT NULL,
			fail INTEGER NOT NULL,
			retries INTEGER NOT NULL,
			total_latency_ms INTEGER NOT NULL,
			wall_ms INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) prepareStatements() error {
	if s == nil || s.db == nil {
		return errors.New("store: nil db")
	}

	var err error
	s.insertRunStmt, err = s.db.Prepare(`INSERT INTO runs
		(id, provider, model, total, success, fail, retries, total_latency_ms, wall_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare insert run: %w", err)
	}

	s.getRunStmt, err = s.db.Prepare(`SELECT
		id, provider, model, total, success, fail, retries, total_latency_ms, wall_ms, created_at
		FROM runs WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("store: prepare get run: %w", err)
	}

	s.listRunsStmt, err = s.db.Prepare(`SELECT
		id, provider, model, total, success, fail, retries, total_latency_ms, wall_ms, created_at
		FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`)
	if err != nil {
		return fmt.Errorf("store: prepare list runs: %w", err)
	}

	return nil
}

// SaveRun inserts one run record. A zero CreatedAt is filled with now.
func (s *SQLiteStore) SaveRun(ctx context.Context, rec *RunRecord) error {
	if s == nil || s.insertRunStmt == nil {
		return errors.New("store: not initialized")
	}
	if rec == nil {
		return errors.New("store: nil run record")
	}
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("store: empty run id")
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.insertRunStmt.ExecContext(ctx,
		rec.ID, rec.Provider, rec.Model,
		rec.Total, rec.Success, rec.Fail, rec.Retries,
		rec.TotalLatencyMs, rec.WallMs, createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}
	return nil
}

// GetRun fetches one run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	if s == nil || s.getRunStmt == nil {
		return nil, errors.New("store: not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("store: empty run id")
	}

	row := s.getRunStmt.QueryRowContext(ctx, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: run %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	return rec, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil || s.listRunsStmt == nil {
		return nil, errors.New("store: not initialized")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.listRunsStmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var rec RunRecord
	var createdAt int64
	if err := row.Scan(
		&rec.ID, &rec.Provider, &rec.Model,
		&rec.Total, &rec.Success, &rec.Fail, &rec.Retries,
		&rec.TotalLatencyMs, &rec.WallMs, &createdAt,
	); err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	return &rec, nil
}

// Close releases prepared statements and the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil {
		return nil
	}

	var firstErr error
	for _, stmt := range []*sql.Stmt{s.insertRunStmt, s.getRunStmt, s.listRunsStmt} {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
