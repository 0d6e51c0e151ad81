package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"scoreforge/internal/services"
)

// Store persists jobs in SQLite. A single row per job is the source of truth
// for status, progress, and artifacts, so every read observes a consistent
// snapshot.
type Store struct {
	db   *sql.DB
	path string
}

// Open connects to the job database at path, creating it and applying the
// schema when needed.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
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

// timeFormat is RFC 3339 with a fixed-width fraction so stored timestamps
// compare correctly as strings.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const jobColumns = `id, status, progress, source_file, options_json, meta_json,
    artifacts_json, error_message, notes_json, created_at, updated_at, expires_at`

// Create inserts a new queued job and returns it. The retention deadline is
// stamped here, counted from submission, so even a job that never leaves the
// queue is reclaimed on schedule.
func (s *Store) Create(ctx context.Context, sourceFile string, opts Options) (*Job, error) {
	optionsJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("marshal options: %w", err)
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	now := time.Now().UTC()
	timestamp := now.Format(timeFormat)

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (id, status, progress, source_file, options_json, created_at, updated_at, expires_at)
         VALUES (?, ?, 0, ?, ?, ?, ?, ?)`,
		id,
		StatusQueued,
		sourceFile,
		string(optionsJSON),
		timestamp,
		timestamp,
		now.Add(Retention).Format(timeFormat),
	)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "submit", "insert job", "insert job", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. A missing job returns (nil, nil).
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// NextQueued returns the oldest queued job, or nil when the queue is empty.
func (s *Store) NextQueued(ctx context.Context) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at LIMIT 1`,
		StatusQueued,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next queued: %w", err)
	}
	return job, nil
}

// Claim transitions a queued job to running. It reports false when another
// worker already holds the job, which keeps each job on at most one active
// run.
func (s *Store) Claim(ctx context.Context, id string) (bool, error) {
	timestamp := time.Now().UTC().Format(timeFormat)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusRunning,
		timestamp,
		id,
		StatusQueued,
	)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return affected == 1, nil
}

// SetProgress raises the progress of a running job. Progress never moves
// backwards and never reaches 100 before the job finishes.
func (s *Store) SetProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 99 {
		progress = 99
	}
	timestamp := time.Now().UTC().Format(timeFormat)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET progress = MAX(progress, ?), updated_at = ? WHERE id = ? AND status = ?`,
		progress,
		timestamp,
		id,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

// Finish marks a running job done in a single update: status, pinned
// progress, metadata, artifact names, and any substitution notes land
// atomically. The retention deadline set at submission stays untouched.
func (s *Store) Finish(ctx context.Context, id string, meta *Meta, artifacts map[ArtifactKind]string, notes []string) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	artifactsJSON, err := json.Marshal(artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	notesJSON, err := json.Marshal(notes)
	if err != nil {
		return fmt.Errorf("marshal notes: %w", err)
	}
	timestamp := time.Now().UTC().Format(timeFormat)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, progress = 100, meta_json = ?, artifacts_json = ?,
            notes_json = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusDone,
		string(metaJSON),
		string(artifactsJSON),
		string(notesJSON),
		timestamp,
		id,
		StatusRunning,
	)
	if err != nil {
		return services.Wrap(services.ErrStorage, "finish", "update job", "finish job", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("finish job %s: not running", id)
	}
	return nil
}

// Fail marks a running job as errored with a human-readable message. Failed
// jobs keep the retention deadline set at submission.
func (s *Store) Fail(ctx context.Context, id, message string, notes []string) error {
	notesJSON, err := json.Marshal(notes)
	if err != nil {
		return fmt.Errorf("marshal notes: %w", err)
	}
	timestamp := time.Now().UTC().Format(timeFormat)
	_, err = s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, error_message = ?, notes_json = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusError,
		message,
		string(notesJSON),
		timestamp,
		id,
		StatusRunning,
	)
	if err != nil {
		return services.Wrap(services.ErrStorage, "fail", "update job", "fail job", err)
	}
	return nil
}

// ListExpired returns jobs whose retention window has passed, whatever their
// status. A job stuck in the queue expires on the same schedule as one that
// finished.
func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]*Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE expires_at <= ?`,
		now.UTC().Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// Remove deletes a job row. Artifact files are the caller's concern.
func (s *Store) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove job: %w", err)
	}
	return nil
}

// List returns all jobs ordered by creation time, newest first.
func (s *Store) List(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Count returns the total number of job rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return count, nil
}

// RequeueInterrupted resets jobs left running by a previous process back to
// queued so the pipeline picks them up again from the start.
func (s *Store) RequeueInterrupted(ctx context.Context) (int, error) {
	timestamp := time.Now().UTC().Format(timeFormat)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, progress = 0, updated_at = ? WHERE status = ?`,
		StatusQueued,
		timestamp,
		StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue interrupted: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue interrupted: %w", err)
	}
	return int(affected), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		job           Job
		optionsJSON   string
		metaJSON      sql.NullString
		artifactsJSON sql.NullString
		notesJSON     sql.NullString
		createdAt     string
		updatedAt     string
		expiresAt     sql.NullString
	)
	err := row.Scan(
		&job.ID,
		&job.Status,
		&job.Progress,
		&job.SourceFile,
		&optionsJSON,
		&metaJSON,
		&artifactsJSON,
		&job.ErrorMessage,
		&notesJSON,
		&createdAt,
		&updatedAt,
		&expiresAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(optionsJSON), &job.Options); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		job.Meta = &Meta{}
		if err := json.Unmarshal([]byte(metaJSON.String), job.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal meta: %w", err)
		}
	}
	if artifactsJSON.Valid && artifactsJSON.String != "" {
		if err := json.Unmarshal([]byte(artifactsJSON.String), &job.Artifacts); err != nil {
			return nil, fmt.Errorf("unmarshal artifacts: %w", err)
		}
	}
	if notesJSON.Valid && notesJSON.String != "" {
		if err := json.Unmarshal([]byte(notesJSON.String), &job.Notes); err != nil {
			return nil, fmt.Errorf("unmarshal notes: %w", err)
		}
	}
	if job.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if job.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if expiresAt.Valid && expiresAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse expires_at: %w", err)
		}
		job.ExpiresAt = &t
	}
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}
