// Package journal records one row per sparkrun invocation in a local SQLite
// database so past runs can be listed with `sparkrun history`.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrRunNotFound is returned by Finish for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Run is one journal row.
type Run struct {
	ID         string
	Command    string
	Argv       []string
	StartedAt  time.Time
	FinishedAt *time.Time
	ExitCode   *int
	Error      string
	Artifacts  int
}

// Journal is the run history store.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (and creates if needed) the journal database at path.
func Open(ctx context.Context, path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	if err := checkLocalFilesystem(path, detectFilesystemType); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := bootstrap(pctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db, now: time.Now}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
  id          TEXT PRIMARY KEY,
  command     TEXT NOT NULL,
  argv        JSON NOT NULL DEFAULT '[]',
  started_at  TEXT NOT NULL,
  finished_at TEXT,
  exit_code   INTEGER,
  error       TEXT,
  artifacts   INTEGER NOT NULL DEFAULT 0
);`,
		`CREATE INDEX IF NOT EXISTS runs_started_at_idx ON runs(started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap journal: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Begin inserts an open run.
func (j *Journal) Begin(ctx context.Context, command string, argv []string) (Run, error) {
	if argv == nil {
		argv = []string{}
	}
	raw, err := json.Marshal(argv)
	if err != nil {
		return Run{}, fmt.Errorf("encode argv: %w", err)
	}

	run := Run{
		ID:        uuid.NewString(),
		Command:   command,
		Argv:      argv,
		StartedAt: j.now().UTC(),
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO runs(id, command, argv, started_at) VALUES(?, ?, ?, ?);`,
		run.ID, run.Command, string(raw), run.StartedAt.Format(timeLayout),
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// Finish closes run id with its outcome.
func (j *Journal) Finish(ctx context.Context, id string, exitCode int, errMsg string, artifacts int) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, exit_code = ?, error = ?, artifacts = ? WHERE id = ?;`,
		j.now().UTC().Format(timeLayout), exitCode, nullString(errMsg), artifacts, id,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, command, argv, started_at, finished_at, exit_code, error, artifacts
FROM runs
ORDER BY started_at DESC, rowid DESC
LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r          Run
			argv       string
			startedAt  string
			finishedAt sql.NullString
			exitCode   sql.NullInt64
			errMsg     sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Command, &argv, &startedAt, &finishedAt, &exitCode, &errMsg, &r.Artifacts); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(argv), &r.Argv); err != nil {
			return nil, fmt.Errorf("decode argv for run %s: %w", r.ID, err)
		}
		if r.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at for run %s: %w", r.ID, err)
		}
		if finishedAt.Valid {
			t, err := time.Parse(timeLayout, finishedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse finished_at for run %s: %w", r.ID, err)
			}
			r.FinishedAt = &t
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			r.ExitCode = &code
		}
		r.Error = errMsg.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
