package stage

import (
	"context"
	"fmt"
	"log/slog"

	"scoreforge/internal/jobs"
	"scoreforge/internal/media"
)

// Work carries one job through the pipeline. Stages read the products of
// earlier stages and attach their own.
type Work struct {
	Job     *jobs.Job
	Workdir string

	// Normalize output.
	Audio         *media.Audio
	NormalizedWAV string

	// Raw carries detected notes with timing in seconds; Quantized carries
	// the same notes snapped to the grid, in quarter-note beats.
	Raw       *media.Sequence
	Quantized *media.Sequence

	// Assemble output.
	Score *media.Score
	Meta  *jobs.Meta

	Artifacts map[jobs.ArtifactKind]string
	Notes     []string
}

// AddArtifact records a produced artifact filename.
func (w *Work) AddArtifact(kind jobs.ArtifactKind, filename string) {
	if w.Artifacts == nil {
		w.Artifacts = make(map[jobs.ArtifactKind]string)
	}
	w.Artifacts[kind] = filename
}

// AddNote appends a best-effort substitution note for the caller-facing
// job description.
func (w *Work) AddNote(format string, args ...any) {
	w.Notes = append(w.Notes, fmt.Sprintf(format, args...))
}

// Handler describes the contract the pipeline manager needs from each stage.
type Handler interface {
	Prepare(context.Context, *Work) error
	Execute(context.Context, *Work) error
	HealthCheck(context.Context) Health
}

// Health summarizes the readiness of a stage for the health endpoint.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy reports a stage as ready.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy reports a stage as degraded, with detail explaining what is
// missing.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// LoggerAware lets the pipeline hand a stage a logger scoped to the current
// job and stage.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}
