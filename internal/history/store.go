// Package history keeps a SQLite log of launched commands: what ran, where,
// for how long and how it ended.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultRecentLimit = 20
	maxErrorBytes      = 4 * 1024

	// Fixed width so lexical order in SQLite matches time order.
	timeFormat = "2006-01-02T15:04:05.000000000Z07:00"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Start records a running launch and returns its id.
func (s *Store) Start(ctx context.Context, req StartRequest) (string, error) {
	if req.Command == "" {
		return "", fmt.Errorf("command is empty")
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC().Format(timeFormat)

	_, err := s.db.ExecContext(ctx, `
INSERT INTO run_log(id, task, command, workdir, status, pid, started_at, config_hash)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, id, nullString(req.Task), req.Command, req.Workdir, StatusRunning, nullInt(req.Pid), now, nullString(req.ConfigHash))
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// Finish marks a run terminal. Finishing an already finished run is an error.
func (s *Store) Finish(ctx context.Context, id string, req FinishRequest) error {
	if id == "" {
		return fmt.Errorf("run id is empty")
	}
	if !req.Status.Terminal() {
		return fmt.Errorf("invalid terminal status: %q", req.Status)
	}

	var lastError any
	if req.LastError != nil {
		msg := *req.LastError
		if len(msg) > maxErrorBytes {
			msg = msg[:maxErrorBytes]
		}
		lastError = msg
	}
	var exitCode any
	if req.ExitCode != nil {
		exitCode = *req.ExitCode
	}
	now := time.Now().UTC().Format(timeFormat)

	res, err := s.db.ExecContext(ctx, `
UPDATE run_log
SET status = ?, exit_code = ?, finished_at = ?, last_error = ?
WHERE id = ? AND status = ?;
`, req.Status, exitCode, now, lastError, id, StatusRunning)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

// Get returns one run.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, task, command, workdir, status, exit_code, pid, started_at, finished_at, last_error, config_hash
FROM run_log
WHERE id = ?;
`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// Recent returns up to limit runs, newest first. An empty task matches all.
func (s *Store) Recent(ctx context.Context, task string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, task, command, workdir, status, exit_code, pid, started_at, finished_at, last_error, config_hash
FROM run_log
WHERE ? = '' OR task = ?
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, task, task, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// Prune deletes finished runs that started before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM run_log
WHERE status != ? AND started_at < ?;
`, StatusRunning, cutoff.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

// RecoverAbandoned marks runs left "running" by a previous instance as
// failed. Their processes died with it.
func (s *Store) RecoverAbandoned(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(timeFormat)
	res, err := s.db.ExecContext(ctx, `
UPDATE run_log
SET status = ?, finished_at = ?, last_error = ?
WHERE status = ?;
`, StatusFailed, now, "abandoned: charlie exited while the run was active", StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("recover abandoned runs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r          Run
		task       sql.NullString
		exitCode   sql.NullInt64
		pid        sql.NullInt64
		startedAt  string
		finishedAt sql.NullString
		lastError  sql.NullString
		configHash sql.NullString
	)
	if err := sc.Scan(&r.ID, &task, &r.Command, &r.Workdir, &r.Status, &exitCode, &pid, &startedAt, &finishedAt, &lastError, &configHash); err != nil {
		return nil, err
	}

	t, err := time.Parse(timeFormat, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	r.StartedAt = t
	if finishedAt.Valid {
		ft, err := time.Parse(timeFormat, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		r.FinishedAt = &ft
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		r.ExitCode = &code
	}
	if lastError.Valid {
		msg := lastError.String
		r.LastError = &msg
	}
	r.Task = task.String
	r.Pid = int(pid.Int64)
	r.ConfigHash = configHash.String
	return &r, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
