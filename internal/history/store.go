package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"hush/internal/config"
)

// Store manages job history persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
	// Fixed-width so started_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Open initializes or connects to the history database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.HistoryPath())
}

// OpenPath opens the history database at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Begin records a job as running.
func (s *Store) Begin(ctx context.Context, run Run) error {
	if strings.TrimSpace(run.JobID) == "" {
		return errors.New("history: job id is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	return s.execWithRetry(ctx,
		`INSERT INTO jobs (id, input_path, media_kind, status, input_bytes, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.JobID, run.InputPath, nullable(run.MediaKind), string(StatusRunning), run.InputBytes,
		run.StartedAt.UTC().Format(timeLayout),
	)
}

// Finish records the terminal state of a job started with Begin.
func (s *Store) Finish(ctx context.Context, run Run) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}
	if run.Status == "" || run.Status == StatusRunning {
		return fmt.Errorf("history: finish requires a terminal status, got %q", run.Status)
	}
	var durationMs int64
	if !run.StartedAt.IsZero() {
		durationMs = run.FinishedAt.Sub(run.StartedAt).Milliseconds()
	}
	return s.execWithRetry(ctx,
		`UPDATE jobs SET output_path = ?, media_kind = COALESCE(?, media_kind), status = ?,
		   failed_stage = ?, error_kind = ?, error_message = ?, segments = ?, applied_gain = ?,
		   output_bytes = ?, finished_at = ?, duration_ms = ?
		 WHERE id = ?`,
		nullable(run.OutputPath), nullable(run.MediaKind), string(run.Status),
		nullable(run.FailedStage), nullable(run.ErrorKind), nullable(run.ErrorMessage),
		run.Segments, run.AppliedGain, run.OutputBytes,
		run.FinishedAt.UTC().Format(timeLayout), durationMs, run.JobID,
	)
}

// Recent returns up to limit jobs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, input_path, output_path, media_kind, status, failed_stage, error_kind,
		        error_message, segments, applied_gain, input_bytes, output_bytes, started_at, finished_at
		 FROM jobs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return runs, nil
}

// Get returns the job with the given id, or nil when absent.
func (s *Store) Get(ctx context.Context, jobID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, input_path, output_path, media_kind, status, failed_stage, error_kind,
		        error_message, segments, applied_gain, input_bytes, output_bytes, started_at, finished_at
		 FROM jobs WHERE id = ?`, jobID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run                                       Run
		output, kind, stage, errKind, errMsg, end sql.NullString
		status, start                             string
	)
	if err := row.Scan(&run.JobID, &run.InputPath, &output, &kind, &status, &stage, &errKind,
		&errMsg, &run.Segments, &run.AppliedGain, &run.InputBytes, &run.OutputBytes, &start, &end); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan history row: %w", err)
	}
	run.OutputPath = output.String
	run.MediaKind = kind.String
	run.Status = Status(status)
	run.FailedStage = stage.String
	run.ErrorKind = errKind.String
	run.ErrorMessage = errMsg.String
	run.StartedAt = parseTime(start)
	if end.Valid {
		run.FinishedAt = parseTime(end.String)
	}
	return run, nil
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func nullable(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}
