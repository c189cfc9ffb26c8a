// Package journal keeps a history of executions in SQLite.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite"
)

// MemoryPath keeps the journal in memory for the life of the process.
const MemoryPath = ":memory:"

// MaxTextBytes bounds the stdout and stderr stored per entry.
const MaxTextBytes = 4096

// Entry is one recorded execution.
type Entry struct {
	ID             string
	KernelID       string
	Kind           string
	Code           string
	Status         string
	ExecutionCount int
	Stdout         string
	Stderr         string
	ErrorName      string
	ErrorValue     string
	ImageCount     int
	DurationMs     int64
	CreatedAt      time.Time
}

// Journal is a SQLite backed execution history. It is safe for concurrent
// use.
type Journal struct {
	db *sql.DB
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Open opens or creates the journal at path. An empty path or MemoryPath
// keeps the journal in memory.
func Open(path string) (*Journal, error) {
	if path == "" {
		path = MemoryPath
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("journal: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	// A single connection keeps an in-memory database alive and serializes
	// writers.
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: init schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaExecutions); err != nil {
		return err
	}
	if _, err := db.Exec(schemaExecutionsIndex); err != nil {
		return err
	}
	return nil
}

const schemaExecutions = `
CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	kernel_id TEXT,
	kind TEXT,
	code TEXT,
	status TEXT,
	execution_count INTEGER,
	stdout TEXT,
	stderr TEXT,
	error_name TEXT,
	error_value TEXT,
	image_count INTEGER,
	duration_ms INTEGER,
	created_at DATETIME
)`

const schemaExecutionsIndex = `
CREATE INDEX IF NOT EXISTS idx_executions_kernel ON executions(kernel_id, created_at)`

// Record stores e. Stdout and Stderr are truncated to MaxTextBytes.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("journal: record: missing id")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO executions (
			id, kernel_id, kind, code, status, execution_count, stdout, stderr,
			error_name, error_value, image_count, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.KernelID,
		e.Kind,
		e.Code,
		e.Status,
		e.ExecutionCount,
		truncate(e.Stdout),
		truncate(e.Stderr),
		e.ErrorName,
		e.ErrorValue,
		e.ImageCount,
		e.DurationMs,
		timeToDB(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("journal: record %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return []Entry{}, nil
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, kernel_id, kind, code, status, execution_count, stdout, stderr,
		 error_name, error_value, image_count, duration_ms, created_at
		 FROM executions ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("journal: recent: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	return out, nil
}

// CountByKernel returns how many executions ran on kernelID.
func (j *Journal) CountByKernel(ctx context.Context, kernelID string) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM executions WHERE kernel_id = ?`, kernelID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("journal: count: %w", err)
	}
	return n, nil
}

func scanEntry(r rowScanner) (Entry, error) {
	var (
		e         Entry
		createdAt string
	)
	err := r.Scan(
		&e.ID,
		&e.KernelID,
		&e.Kind,
		&e.Code,
		&e.Status,
		&e.ExecutionCount,
		&e.Stdout,
		&e.Stderr,
		&e.ErrorName,
		&e.ErrorValue,
		&e.ImageCount,
		&e.DurationMs,
		&createdAt,
	)
	if err != nil {
		return Entry{}, err
	}
	e.CreatedAt, err = timeFromDB(createdAt)
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

func truncate(s string) string {
	if len(s) <= MaxTextBytes {
		return s
	}
	n := MaxTextBytes
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "\n... (truncated)"
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func timeToDB(v time.Time) string {
	return v.UTC().Format(timeLayout)
}

func timeFromDB(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}
