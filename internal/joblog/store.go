// Package joblog persists one row per dispatched task in SQLite. Task
// parameters carry credentials and are never written; only a fingerprint of
// the serialized payload is kept.
package joblog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/adworker/internal/dispatch"
)

const maxStderrBytes = 64 * 1024

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

var ErrNotFound = errors.New("task not found")

// Record is the persisted view of a task.
type Record struct {
	ID          string          `json:"id"`
	Operation   string          `json:"operation"`
	Fingerprint string          `json:"fingerprint"`
	Status      dispatch.Status `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	ExitCode    *int            `json:"exit_code,omitempty"`
	ResultCount *int            `json:"result_count,omitempty"`
	DurationMS  *int64          `json:"duration_ms,omitempty"`
	LastError   *string         `json:"last_error,omitempty"`
	Stderr      *string         `json:"stderr,omitempty"`
}

// Store implements dispatch.Recorder over the task_log table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ dispatch.Recorder = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(timeFormat)
}

// Queued inserts the task row.
func (s *Store) Queued(ctx context.Context, taskID, operation, fingerprint string) error {
	if taskID == "" {
		return fmt.Errorf("taskID is empty")
	}
	if operation == "" {
		return fmt.Errorf("operation is empty")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO task_log(id, operation, fingerprint, status, created_at)
VALUES(?, ?, ?, ?, ?);
`, taskID, operation, fingerprint, dispatch.StatusQueued, s.stamp())
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Started marks the task running.
func (s *Store) Started(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE task_log
SET status = ?, started_at = ?
WHERE id = ?;
`, dispatch.StatusRunning, s.stamp(), taskID)
	if err != nil {
		return fmt.Errorf("mark task running: %w", err)
	}
	return expectOne(res, taskID)
}

// Completed stores the terminal status and worker diagnostics. Stderr is
// capped at 64KiB.
func (s *Store) Completed(ctx context.Context, c dispatch.Completion) error {
	if c.TaskID == "" {
		return fmt.Errorf("taskID is empty")
	}
	if !c.Status.Terminal() {
		return fmt.Errorf("invalid terminal status: %q", c.Status)
	}

	var lastError, stderr any
	if c.Error != "" {
		lastError = c.Error
	}
	if c.Stderr != "" {
		s := c.Stderr
		if len(s) > maxStderrBytes {
			s = s[:maxStderrBytes]
		}
		stderr = s
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE task_log
SET status = ?, completed_at = ?, exit_code = ?, result_count = ?, duration_ms = ?, last_error = ?, stderr = ?
WHERE id = ?;
`, c.Status, s.stamp(), c.ExitCode, c.ResultCount, c.Duration.Milliseconds(), lastError, stderr, c.TaskID)
	if err != nil {
		return fmt.Errorf("update task completion: %w", err)
	}
	return expectOne(res, c.TaskID)
}

const selectColumns = `
SELECT id, operation, fingerprint, status, created_at, started_at, completed_at,
  exit_code, result_count, duration_ms, last_error, stderr
FROM task_log`

// Get returns one task by id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, taskID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?;`, taskID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return r, nil
}

// Recent returns up to limit tasks, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return out, nil
}

// ByFingerprint returns up to limit tasks that carried the same serialized
// payload, newest first.
func (s *Store) ByFingerprint(ctx context.Context, fingerprint string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE fingerprint = ? ORDER BY created_at DESC, rowid DESC LIMIT ?;`, fingerprint, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks by fingerprint: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks by fingerprint: %w", err)
	}
	return out, nil
}

// Prune deletes completed tasks older than retention and reports how many
// rows went. Queued and running rows are never pruned.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-retention).UTC().Format(timeFormat)

	res, err := s.db.ExecContext(ctx, `
DELETE FROM task_log
WHERE completed_at IS NOT NULL AND completed_at < ?;
`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune task log: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		r            Record
		statusS      string
		createdAtS   string
		startedAtS   sql.NullString
		completedAtS sql.NullString
		exitCode     sql.NullInt64
		resultCount  sql.NullInt64
		durationMS   sql.NullInt64
		lastError    sql.NullString
		stderr       sql.NullString
	)
	if err := sc.Scan(
		&r.ID, &r.Operation, &r.Fingerprint, &statusS, &createdAtS, &startedAtS, &completedAtS,
		&exitCode, &resultCount, &durationMS, &lastError, &stderr,
	); err != nil {
		return nil, err
	}

	r.Status = dispatch.Status(statusS)
	if t, err := time.Parse(timeFormat, createdAtS); err == nil {
		r.CreatedAt = t
	}
	r.StartedAt = parseTime(startedAtS)
	r.CompletedAt = parseTime(completedAtS)
	if exitCode.Valid {
		v := int(exitCode.Int64)
		r.ExitCode = &v
	}
	if resultCount.Valid {
		v := int(resultCount.Int64)
		r.ResultCount = &v
	}
	if durationMS.Valid {
		r.DurationMS = &durationMS.Int64
	}
	if lastError.Valid {
		r.LastError = &lastError.String
	}
	if stderr.Valid {
		r.Stderr = &stderr.String
	}
	return &r, nil
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(timeFormat, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func expectOne(res sql.Result, taskID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return nil
}
