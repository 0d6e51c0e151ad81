package manager

import (
	"time"

	"scoreforge/internal/artifacts"
	"scoreforge/internal/jobs"
)

// MetaView is the client-facing score metadata.
type MetaView struct {
	Title           string  `json:"title"`
	Instrument      string  `json:"instrument"`
	Clef            string  `json:"clef"`
	Key             string  `json:"key"`
	TempoBPM        int     `json:"tempo"`
	TimeSignature   string  `json:"time_signature"`
	NoteCount       int     `json:"note_count"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// JobView is a consistent client-facing snapshot of a job. Artifact values
// are download URLs, not filesystem paths.
type JobView struct {
	ID        string            `json:"id"`
	Status    jobs.Status       `json:"status"`
	Progress  int               `json:"progress"`
	Error     string            `json:"error,omitempty"`
	Notes     []string          `json:"notes,omitempty"`
	Meta      *MetaView         `json:"meta,omitempty"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

// NewJobView builds the snapshot for a stored job.
func NewJobView(job *jobs.Job) JobView {
	view := JobView{
		ID:        job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		Error:     job.ErrorMessage,
		Notes:     job.Notes,
		CreatedAt: job.CreatedAt,
		ExpiresAt: job.ExpiresAt,
	}
	if job.Meta != nil {
		view.Meta = &MetaView{
			Title:           job.Meta.Title,
			Instrument:      job.Meta.Instrument,
			Clef:            string(job.Meta.Clef),
			Key:             job.Meta.Key,
			TempoBPM:        job.Meta.TempoBPM,
			TimeSignature:   job.Meta.TimeSignature,
			NoteCount:       job.Meta.NoteCount,
			DurationSeconds: job.Meta.DurationSeconds,
		}
	}
	if len(job.Artifacts) > 0 {
		view.Artifacts = make(map[string]string, len(job.Artifacts))
		for kind, filename := range job.Artifacts {
			view.Artifacts[string(kind)] = artifacts.URL(job.ID, filename)
		}
	}
	return view
}
