// Package manager is the façade the HTTP layer talks to: it validates and
// stages submissions, serves consistent status snapshots, and resolves
// artifact downloads. It never runs pipeline work itself.
package manager

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"scoreforge/internal/artifacts"
	"scoreforge/internal/config"
	"scoreforge/internal/jobs"
	"scoreforge/internal/logging"
	"scoreforge/internal/media"
	"scoreforge/internal/services"
)

// SweepRequester lets the façade nudge the background sweeper when a status
// read encounters an expired job.
type SweepRequester interface {
	RequestSweep()
}

// Manager exposes the job lifecycle operations.
type Manager struct {
	cfg       *config.Config
	store     *jobs.Store
	artifacts *artifacts.Store
	sweeper   SweepRequester
	logger    *slog.Logger
}

// New constructs the job manager. sweeper may be nil when no background
// sweep loop exists, such as in tests.
func New(cfg *config.Config, store *jobs.Store, artifactStore *artifacts.Store, sweeper SweepRequester, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		store:     store,
		artifacts: artifactStore,
		sweeper:   sweeper,
		logger:    logging.WithComponent(logger, "jobmanager"),
	}
}

// Submit validates an upload, stages it, and enqueues a job. All validation
// happens before the job row exists, so a rejected submission leaves no
// trace.
func (m *Manager) Submit(ctx context.Context, upload io.Reader, opts jobs.Options) (*JobView, error) {
	opts.Normalize()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	maxBytes := m.cfg.MaxUploadBytes()
	data, err := io.ReadAll(io.LimitReader(upload, maxBytes+1))
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "submit", "read upload", "Failed to read the upload", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, services.Wrap(services.ErrValidation, "submit", "size check",
			fmt.Sprintf("upload exceeds the %d MiB limit", m.cfg.MaxUploadMiB), nil)
	}

	format, ok := media.Sniff(data)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "submit", "sniff",
			"unsupported audio format; wav, mp3, m4a, and flac are accepted", nil)
	}

	duration, err := media.DurationFromBytes(data)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "submit", "probe",
			"audio duration could not be determined", err)
	}
	if max := float64(m.cfg.MaxDurationSeconds); duration > max {
		return nil, services.Wrap(services.ErrValidation, "submit", "duration check",
			fmt.Sprintf("audio runs %.1fs, above the %.0fs limit", duration, max), nil)
	}

	sourceFile := "upload" + format.Extension()
	job, err := m.store.Create(ctx, sourceFile, opts)
	if err != nil {
		return nil, err
	}
	if _, err := m.artifacts.Persist(job.ID, sourceFile, bytes.NewReader(data)); err != nil {
		// Roll back so a storage failure does not strand a queued row with
		// no audio behind it.
		_ = m.store.Remove(ctx, job.ID)
		_ = m.artifacts.Discard(job.ID)
		return nil, err
	}

	m.logger.InfoContext(ctx, "job submitted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("format", string(format)),
		logging.Float64("duration_seconds", duration),
		logging.Int("bytes", len(data)),
	)
	view := NewJobView(job)
	return &view, nil
}

// Status returns a snapshot of a job. Unknown and reclaimed jobs surface as
// not found; encountering an expired job nudges the sweeper.
func (m *Manager) Status(ctx context.Context, id string) (*JobView, error) {
	job, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "status", "lookup",
			fmt.Sprintf("job %s not found", id), nil)
	}
	if job.Expired(time.Now()) {
		if m.sweeper != nil {
			m.sweeper.RequestSweep()
		}
		return nil, services.Wrap(services.ErrNotFound, "status", "lookup",
			fmt.Sprintf("job %s not found", id), nil)
	}
	view := NewJobView(job)
	return &view, nil
}

// ArtifactPath resolves an artifact download to an absolute file path.
func (m *Manager) ArtifactPath(ctx context.Context, id, filename string) (string, error) {
	job, err := m.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if job != nil && job.Expired(time.Now()) {
		if m.sweeper != nil {
			m.sweeper.RequestSweep()
		}
		return "", services.Wrap(services.ErrNotFound, "artifacts", "resolve",
			fmt.Sprintf("job %s not found", id), nil)
	}
	return m.artifacts.Resolve(ctx, id, filename)
}

// List returns snapshots of every retained job, newest first.
func (m *Manager) List(ctx context.Context) ([]JobView, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]JobView, 0, len(all))
	for _, job := range all {
		views = append(views, NewJobView(job))
	}
	return views, nil
}

// Stats returns job counts grouped by status.
func (m *Manager) Stats(ctx context.Context) (map[jobs.Status]int, error) {
	return m.store.Stats(ctx)
}

// Discard removes a terminal job and its artifacts ahead of the retention
// deadline. Active jobs cannot be discarded; their runner owns the record.
func (m *Manager) Discard(ctx context.Context, id string) error {
	job, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, "discard", "lookup",
			fmt.Sprintf("job %s not found", id), nil)
	}
	if !job.Status.IsTerminal() {
		return services.Wrap(services.ErrValidation, "discard", "state",
			fmt.Sprintf("job %s is still %s", id, job.Status), nil)
	}
	if err := m.store.Remove(ctx, id); err != nil {
		return err
	}
	return m.artifacts.Discard(id)
}
