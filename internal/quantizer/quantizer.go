// Package quantizer implements the quantize stage: raw note timings in
// seconds are snapped onto a rhythmic grid in beats and written out as the
// MIDI artifact.
package quantizer

import (
	"context"
	"log/slog"
	"math"
	"path/filepath"
	"sort"

	"scoreforge/internal/artifacts"
	"scoreforge/internal/config"
	"scoreforge/internal/jobs"
	"scoreforge/internal/logging"
	"scoreforge/internal/media"
	"scoreforge/internal/services"
	"scoreforge/internal/stage"
)

// Quantizer is the quantize stage handler.
type Quantizer struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New constructs the quantize handler.
func New(cfg *config.Config, logger *slog.Logger) *Quantizer {
	return &Quantizer{cfg: cfg, logger: logging.WithComponent(logger, "quantizer")}
}

// SetLogger replaces the stage logger.
func (q *Quantizer) SetLogger(logger *slog.Logger) {
	if logger != nil {
		q.logger = logger
	}
}

func (q *Quantizer) Prepare(ctx context.Context, work *stage.Work) error {
	if work.Raw == nil || len(work.Raw.Notes) == 0 {
		return services.Wrap(services.ErrTransient, "quantize", "prepare",
			"No transcribed notes to quantize", nil)
	}
	return nil
}

func (q *Quantizer) Execute(ctx context.Context, work *stage.Work) error {
	logger := logging.WithContext(ctx, q.logger)

	tempo := ResolveTempo(work.Job.Options, work.Raw)
	quantized := Snap(work.Raw, tempo, work.Job.Options.Quantization, work.Job.Options.LooseQuantization)
	work.Quantized = quantized

	midiPath := filepath.Join(work.Workdir, artifacts.FileMIDI)
	if err := media.WriteSMF(midiPath, quantized); err != nil {
		return services.Wrap(services.ErrStorage, "quantize", "write midi", "Failed to write quantized MIDI", err)
	}
	work.AddArtifact(jobs.ArtifactMIDI, artifacts.FileMIDI)

	logger.InfoContext(ctx, "notes quantized",
		logging.Int("notes", len(quantized.Notes)),
		logging.Float64("tempo_bpm", tempo),
		logging.String("grid", string(work.Job.Options.Quantization)),
	)
	return nil
}

func (q *Quantizer) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy("quantize")
}

// ResolveTempo picks the working tempo: an explicit option wins, then the
// transcription engine's estimate, then 120.
func ResolveTempo(opts jobs.Options, raw *media.Sequence) float64 {
	if opts.TempoBPM > 0 {
		return float64(opts.TempoBPM)
	}
	if raw != nil && raw.TempoBPM > 0 {
		return raw.TempoBPM
	}
	return 120
}

// Snap converts second-based note timings to beats at the given tempo and
// rounds onsets and durations onto the grid. Loose mode halves the grid step
// so rubato performances keep more of their timing.
func Snap(raw *media.Sequence, tempo float64, grid jobs.Grid, loose bool) *media.Sequence {
	step := grid.Beats()
	if loose {
		step /= 2
	}
	beatsPerSecond := tempo / 60

	notes := make([]media.Note, 0, len(raw.Notes))
	for _, n := range raw.Notes {
		start := math.Round(n.Start*beatsPerSecond/step) * step
		duration := math.Round(n.Duration*beatsPerSecond/step) * step
		if duration < step {
			duration = step
		}
		notes = append(notes, media.Note{
			Pitch:    n.Pitch,
			Velocity: n.Velocity,
			Start:    start,
			Duration: duration,
		})
	}
	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].Start != notes[j].Start {
			return notes[i].Start < notes[j].Start
		}
		return notes[i].Pitch < notes[j].Pitch
	})
	return &media.Sequence{TempoBPM: tempo, Notes: notes}
}
