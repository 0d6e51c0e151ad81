// Package score implements the assemble stage: quantized notes become a
// notated score with a key, a meter, and document metadata, written out as
// the MusicXML artifact.
package score

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sort"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"scoreforge/internal/artifacts"
	"scoreforge/internal/config"
	"scoreforge/internal/jobs"
	"scoreforge/internal/logging"
	"scoreforge/internal/media"
	"scoreforge/internal/services"
	"scoreforge/internal/stage"
)

// DefaultTitle is the work title stamped on every generated score.
const DefaultTitle = "ScoreForge Transcription"

var titleCaser = cases.Title(language.English)

// Assembler is the assemble stage handler.
type Assembler struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New constructs the assemble handler.
func New(cfg *config.Config, logger *slog.Logger) *Assembler {
	return &Assembler{cfg: cfg, logger: logging.WithComponent(logger, "assembler")}
}

// SetLogger replaces the stage logger.
func (a *Assembler) SetLogger(logger *slog.Logger) {
	if logger != nil {
		a.logger = logger
	}
}

func (a *Assembler) Prepare(ctx context.Context, work *stage.Work) error {
	if work.Quantized == nil || len(work.Quantized.Notes) == 0 {
		return services.Wrap(services.ErrTransient, "assemble", "prepare",
			"No quantized notes to assemble", nil)
	}
	return nil
}

func (a *Assembler) Execute(ctx context.Context, work *stage.Work) error {
	logger := logging.WithContext(ctx, a.logger)
	opts := work.Job.Options

	var (
		fifths int
		mode   string
		key    string
	)
	if opts.ForceKey != "" {
		var err error
		fifths, mode, err = jobs.ParseKey(opts.ForceKey)
		if err != nil {
			return err
		}
		key = KeyName(TonicForFifths(fifths, mode), mode, fifths)
	} else {
		fifths, mode, key = DetectKey(work.Quantized.Notes)
	}

	beatsPerMeasure := 4
	if opts.DetectTimeSignature {
		beatsPerMeasure = DetectMeter(work.Quantized.Notes)
	}

	instrument := titleCaser.String(opts.Instrument)
	doc := &media.Score{
		Title:           DefaultTitle,
		PartName:        instrument,
		Clef:            string(opts.Clef),
		KeyFifths:       fifths,
		Mode:            mode,
		BeatsPerMeasure: beatsPerMeasure,
		BeatType:        4,
		TempoBPM:        int(math.Round(work.Quantized.TempoBPM)),
		Notes:           Layout(work.Quantized.Notes),
	}

	xmlPath := filepath.Join(work.Workdir, artifacts.FileMusicXML)
	if err := media.WriteMusicXML(xmlPath, doc); err != nil {
		return services.Wrap(services.ErrStorage, "assemble", "write musicxml", "Failed to write the score document", err)
	}
	work.AddArtifact(jobs.ArtifactMusicXML, artifacts.FileMusicXML)

	work.Score = doc
	work.Meta = &jobs.Meta{
		Title:           DefaultTitle,
		Instrument:      instrument,
		Clef:            opts.Clef,
		Key:             key,
		TempoBPM:        doc.TempoBPM,
		TimeSignature:   fmt.Sprintf("%d/4", beatsPerMeasure),
		NoteCount:       len(work.Quantized.Notes),
		DurationSeconds: pieceDuration(work),
	}

	logger.InfoContext(ctx, "score assembled",
		logging.String("key", key),
		logging.String("time_signature", work.Meta.TimeSignature),
		logging.Int("notes", work.Meta.NoteCount),
	)
	return nil
}

func (a *Assembler) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy("assemble")
}

// pieceDuration prefers the decoded audio length; when a stage override left
// no audio behind it falls back to converting the quantized span to seconds.
func pieceDuration(work *stage.Work) float64 {
	if work.Audio != nil {
		return work.Audio.Duration()
	}
	if work.Quantized != nil && work.Quantized.TempoBPM > 0 {
		return work.Quantized.End() * 60 / work.Quantized.TempoBPM
	}
	return 0
}

// DetectMeter picks between common meters by checking how much note energy
// lands on would-be downbeats. Ties go to 4/4.
func DetectMeter(notes []media.Note) int {
	if meterScore(notes, 3) > meterScore(notes, 4) {
		return 3
	}
	return 4
}

func meterScore(notes []media.Note, beatsPerMeasure int) float64 {
	if len(notes) == 0 {
		return 0
	}
	hits := 0.0
	for _, n := range notes {
		offset := math.Mod(n.Start, float64(beatsPerMeasure))
		if offset < 1e-6 || offset > float64(beatsPerMeasure)-1e-6 {
			hits += float64(n.Velocity)
		}
	}
	return hits / float64(len(notes))
}

// Layout turns quantized notes into the flat stream the MusicXML writer
// consumes: rests fill silent gaps, simultaneous onsets become chords, and
// overlapping notes are clipped so the stream stays single voice.
func Layout(notes []media.Note) []media.ScoreNote {
	sorted := make([]media.Note, len(notes))
	copy(sorted, notes)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].Pitch < sorted[j].Pitch
	})

	var out []media.ScoreNote
	cursor := 0.0
	for i := 0; i < len(sorted); {
		group := []media.Note{sorted[i]}
		j := i + 1
		for j < len(sorted) && sorted[j].Start == sorted[i].Start {
			group = append(group, sorted[j])
			j++
		}

		start := sorted[i].Start
		if start > cursor {
			out = append(out, media.ScoreNote{Rest: true, Beats: start - cursor})
		}

		duration := group[0].Duration
		if j < len(sorted) && start+duration > sorted[j].Start {
			duration = sorted[j].Start - start
		}
		if duration <= 0 {
			duration = 0.25
		}
		for k, n := range group {
			sn := media.PitchToScoreNote(n.Pitch, duration)
			sn.Chord = k > 0
			out = append(out, sn)
		}
		cursor = start + duration
		i = j
	}
	return out
}
