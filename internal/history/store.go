package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"cloudsync/internal/tasks"
)

// Trigger labels why a sync ran.
type Trigger string

const (
	TriggerChange Trigger = "change"
	TriggerStart  Trigger = "start"
	TriggerManual Trigger = "manual"
)

// Run is one recorded sync invocation.
type Run struct {
	ID           string
	Task         string
	LocalPath    string
	Remote       string
	Mode         tasks.Mode
	Resync       bool
	Trigger      Trigger
	StartedAt    time.Time
	FinishedAt   time.Time
	ExitCode     int
	Success      bool
	ErrorMessage string
	OutputTail   string
}

// Duration returns the wall time of the run.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store manages run persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or connects to the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const runColumns = "id, task_name, local_path, remote, mode, resync, trigger, started_at, finished_at, exit_code, success, error_message, output_tail"

// Record inserts a run. An empty ID is replaced with a fresh UUID, which is
// returned.
func (s *Store) Record(ctx context.Context, run Run) (string, error) {
	if strings.TrimSpace(run.Task) == "" {
		return "", errors.New("record run: task name required")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Task,
		run.LocalPath,
		run.Remote,
		string(run.Mode),
		boolToInt(run.Resync),
		nullableString(string(run.Trigger)),
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		run.ExitCode,
		boolToInt(run.Success),
		nullableString(run.ErrorMessage),
		nullableString(run.OutputTail),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return run.ID, nil
}

// Recent returns up to limit runs, newest first. An empty task returns runs
// across all tasks.
func (s *Store) Recent(ctx context.Context, task string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if task == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+runColumns+` FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+runColumns+` FROM sync_runs WHERE task_name = ? ORDER BY started_at DESC LIMIT ?`, task, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LastSuccess returns the most recent successful run for task, or nil.
func (s *Store) LastSuccess(ctx context.Context, task string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM sync_runs WHERE task_name = ? AND success = 1 ORDER BY started_at DESC LIMIT 1`, task)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last success: %w", err)
	}
	return &run, nil
}

// HasBaseline reports whether a bidirectional sync between localPath and
// remote has ever succeeded, regardless of the task name used at the time.
func (s *Store) HasBaseline(ctx context.Context, localPath, remote string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sync_runs WHERE local_path = ? AND remote = ? AND mode = ? AND success = 1`,
		localPath, remote, string(tasks.ModeBidirectional),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query baseline: %w", err)
	}
	return count > 0, nil
}

// Prune deletes runs that started before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_runs WHERE started_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return removed, nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		run        Run
		mode       string
		resync     int
		trigger    sql.NullString
		startedRaw string
		finished   string
		success    int
		errMessage sql.NullString
		output     sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.Task,
		&run.LocalPath,
		&run.Remote,
		&mode,
		&resync,
		&trigger,
		&startedRaw,
		&finished,
		&run.ExitCode,
		&success,
		&errMessage,
		&output,
	); err != nil {
		return Run{}, err
	}
	run.Mode = tasks.Mode(mode)
	run.Resync = resync != 0
	run.Trigger = Trigger(trigger.String)
	run.StartedAt = parseTime(startedRaw)
	run.FinishedAt = parseTime(finished)
	run.Success = success != 0
	run.ErrorMessage = errMessage.String
	run.OutputTail = output.String
	return run, nil
}

// Timestamps use a fixed-width layout so string comparison orders them.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableString(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
