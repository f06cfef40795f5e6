// Package journal keeps a durable SQLite history of commit attempts.
//
// The journal is diagnostic: the project files remain the source of truth,
// and a journal that cannot be opened or written never blocks a commit.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema
// 1 - Added index on commits.outcome
const currentSchemaVersion = 1

// Outcome is how a commit attempt ended.
type Outcome string

const (
	Committed  Outcome = "committed"
	RolledBack Outcome = "rolled_back"
	DryRun     Outcome = "dry_run"
)

// Entry is one commit attempt.
type Entry struct {
	Seq        int64     `json:"seq,omitempty"`
	TxID       string    `json:"tx_id"`
	Chapter    int       `json:"chapter"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	Plan       []string  `json:"plan"`
	Warnings   []string  `json:"warnings"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Journal is an open commit journal.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database at path, creating parent
// directories as needed.
//
// The database is configured with:
//   - WAL mode so `novel journal` can read during a commit
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//
// This function is idempotent.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_commits_outcome ON commits(outcome, seq)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

const timeFormat = time.RFC3339Nano

func marshalList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	return string(b), err
}

// Record appends e. Recording the same tx id twice is a no-op.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	plan, err := marshalList(e.Plan)
	if err != nil {
		return fmt.Errorf("record commit: %w", err)
	}
	warnings, err := marshalList(e.Warnings)
	if err != nil {
		return fmt.Errorf("record commit: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO commits
		(tx_id, chapter, outcome, error, plan, warnings, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tx_id) DO NOTHING
	`,
		e.TxID,
		e.Chapter,
		string(e.Outcome),
		e.Error,
		plan,
		warnings,
		e.StartedAt.UTC().Format(timeFormat),
		e.FinishedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("record commit: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. Returns an empty slice
// (not nil) when the journal is empty.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, tx_id, chapter, outcome, error, plan, warnings, started_at, finished_at
		FROM commits
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query commits: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e                 Entry
		outcome           string
		plan, warnings    string
		started, finished string
	)
	if err := rows.Scan(&e.Seq, &e.TxID, &e.Chapter, &outcome, &e.Error, &plan, &warnings, &started, &finished); err != nil {
		return Entry{}, fmt.Errorf("scan commit: %w", err)
	}
	e.Outcome = Outcome(outcome)
	if err := json.Unmarshal([]byte(plan), &e.Plan); err != nil {
		return Entry{}, fmt.Errorf("decode plan of %s: %w", e.TxID, err)
	}
	if err := json.Unmarshal([]byte(warnings), &e.Warnings); err != nil {
		return Entry{}, fmt.Errorf("decode warnings of %s: %w", e.TxID, err)
	}
	var err error
	if e.StartedAt, err = time.Parse(timeFormat, started); err != nil {
		return Entry{}, fmt.Errorf("decode started_at of %s: %w", e.TxID, err)
	}
	if e.FinishedAt, err = time.Parse(timeFormat, finished); err != nil {
		return Entry{}, fmt.Errorf("decode finished_at of %s: %w", e.TxID, err)
	}
	return e, nil
}
