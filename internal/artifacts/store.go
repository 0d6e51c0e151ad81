// Package artifacts manages the on-disk result files for transcription jobs
// and the fixed retention window that governs them. Each job owns one
// directory; the sweep deletes the database row before the files so a
// concurrent resolve sees either the full pre-sweep view or a clean miss.
package artifacts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"scoreforge/internal/jobs"
	"scoreforge/internal/logging"
	"scoreforge/internal/services"
)

// Canonical artifact filenames inside a job directory.
const (
	FileMIDI     = "quantized.mid"
	FileMusicXML = "score.musicxml"
	FilePDF      = "score.pdf"
)

// Filename returns the canonical file name for an artifact kind.
func Filename(kind jobs.ArtifactKind) string {
	switch kind {
	case jobs.ArtifactMIDI:
		return FileMIDI
	case jobs.ArtifactMusicXML:
		return FileMusicXML
	default:
		return FilePDF
	}
}

// Store places artifact files under a root directory and expires them
// together with their job rows.
type Store struct {
	root   string
	jobs   *jobs.Store
	logger *slog.Logger
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string, jobStore *jobs.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{
		root:   dir,
		jobs:   jobStore,
		logger: logging.WithComponent(logger, "artifacts"),
	}
}

// JobDir returns the directory that holds a job's files.
func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

// EnsureJobDir creates the job directory and returns its path.
func (s *Store) EnsureJobDir(jobID string) (string, error) {
	dir := s.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrStorage, "artifacts", "mkdir", "create job directory", err)
	}
	return dir, nil
}

// Persist writes an artifact into the job directory through a temporary file
// and an atomic rename. Re-persisting the same name simply replaces the
// previous file, so retries are safe.
func (s *Store) Persist(jobID, name string, r io.Reader) (string, error) {
	dir, err := s.EnsureJobDir(jobID)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", services.Wrap(services.ErrStorage, "artifacts", "persist", "create temp file", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", services.Wrap(services.ErrStorage, "artifacts", "persist", "write artifact", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", services.Wrap(services.ErrStorage, "artifacts", "persist", "close artifact", err)
	}
	final := filepath.Join(dir, name)
	if err := os.Rename(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		return "", services.Wrap(services.ErrStorage, "artifacts", "persist", "place artifact", err)
	}
	return final, nil
}

// Resolve returns the absolute path of a named artifact for a finished job.
// Unknown jobs, reclaimed jobs, and unknown filenames all surface as not
// found.
func (s *Store) Resolve(ctx context.Context, jobID, filename string) (string, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", services.Wrap(services.ErrNotFound, "artifacts", "resolve",
			fmt.Sprintf("job %s not found", jobID), nil)
	}
	named := false
	for _, file := range job.Artifacts {
		if file == filename {
			named = true
			break
		}
	}
	if !named {
		return "", services.Wrap(services.ErrNotFound, "artifacts", "resolve",
			fmt.Sprintf("job %s has no artifact %q", jobID, filename), nil)
	}
	path := filepath.Join(s.JobDir(jobID), filepath.Base(filename))
	if _, err := os.Stat(path); err != nil {
		return "", services.Wrap(services.ErrNotFound, "artifacts", "resolve",
			fmt.Sprintf("artifact %q is gone", filename), err)
	}
	return path, nil
}

// URL returns the download path an HTTP client uses for an artifact.
func URL(jobID, filename string) string {
	return "/results/" + jobID + "/" + filename
}

// Sweep deletes every job whose retention window has passed as of now,
// counted from submission and regardless of status. The row goes first; once
// it is gone, readers get a clean not-found while the files are removed.
func (s *Store) Sweep(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.jobs.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, job := range expired {
		if err := s.jobs.Remove(ctx, job.ID); err != nil {
			s.logger.WarnContext(ctx, "failed to remove expired job row",
				logging.String(logging.FieldJobID, job.ID), logging.Error(err))
			continue
		}
		if err := os.RemoveAll(s.JobDir(job.ID)); err != nil {
			s.logger.WarnContext(ctx, "failed to remove expired job directory",
				logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		}
		removed++
	}
	if removed > 0 {
		s.logger.InfoContext(ctx, "reclaimed expired jobs", logging.Int("count", removed))
	}
	return removed, nil
}

// Discard removes a job's directory outright. Used when a submission fails
// validation after its upload was staged.
func (s *Store) Discard(jobID string) error {
	if err := os.RemoveAll(s.JobDir(jobID)); err != nil {
		return services.Wrap(services.ErrStorage, "artifacts", "discard", "remove job directory", err)
	}
	return nil
}
