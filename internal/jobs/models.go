package jobs

import (
	"fmt"
	"strings"
	"time"

	"scoreforge/internal/services"
)

// Retention is how long a job and its files are kept, counted from
// submission. The window is fixed rather than configurable so capacity
// planning can assume a hard bound.
const Retention = 30 * time.Minute

// Status is the lifecycle state of a transcription job.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// ArtifactKind names one of the outputs a finished job carries.
type ArtifactKind string

const (
	ArtifactMIDI     ArtifactKind = "midi"
	ArtifactMusicXML ArtifactKind = "musicxml"
	ArtifactPDF      ArtifactKind = "pdf"
)

// Clef selects the staff clef for the engraved score.
type Clef string

const (
	ClefTreble Clef = "treble"
	ClefBass   Clef = "bass"
	ClefAlto   Clef = "alto"
	ClefTenor  Clef = "tenor"
)

// Grid is the rhythmic resolution used when snapping note onsets.
type Grid string

const (
	GridQuarter   Grid = "quarter"
	GridEighth    Grid = "eighth"
	GridSixteenth Grid = "sixteenth"
)

// Beats returns the grid step in quarter-note units.
func (g Grid) Beats() float64 {
	switch g {
	case GridQuarter:
		return 1.0
	case GridSixteenth:
		return 0.25
	default:
		return 0.5
	}
}

// Options are the caller-supplied transcription settings.
type Options struct {
	Clef                Clef   `json:"clef"`
	Instrument          string `json:"instrument"`
	TempoBPM            int    `json:"tempo"`
	ForceKey            string `json:"force_key"`
	DetectTimeSignature bool   `json:"detect_time_signature"`
	Quantization        Grid   `json:"quantization"`
	LooseQuantization   bool   `json:"loose_quantization"`
}

// DefaultOptions returns the settings applied when a field is omitted.
func DefaultOptions() Options {
	return Options{
		Clef:         ClefTreble,
		Instrument:   "piano",
		Quantization: GridEighth,
	}
}

// Normalize fills omitted fields with defaults and lowercases enums.
func (o *Options) Normalize() {
	o.Clef = Clef(strings.ToLower(strings.TrimSpace(string(o.Clef))))
	o.Quantization = Grid(strings.ToLower(strings.TrimSpace(string(o.Quantization))))
	o.Instrument = strings.TrimSpace(o.Instrument)
	o.ForceKey = strings.TrimSpace(o.ForceKey)
	defaults := DefaultOptions()
	if o.Clef == "" {
		o.Clef = defaults.Clef
	}
	if o.Instrument == "" {
		o.Instrument = defaults.Instrument
	}
	if o.Quantization == "" {
		o.Quantization = defaults.Quantization
	}
}

// Validate checks the normalized options and wraps failures as validation
// errors.
func (o Options) Validate() error {
	switch o.Clef {
	case ClefTreble, ClefBass, ClefAlto, ClefTenor:
	default:
		return services.Wrap(services.ErrValidation, "submit", "options",
			fmt.Sprintf("unsupported clef %q", o.Clef), nil)
	}
	switch o.Quantization {
	case GridQuarter, GridEighth, GridSixteenth:
	default:
		return services.Wrap(services.ErrValidation, "submit", "options",
			fmt.Sprintf("unsupported quantization grid %q", o.Quantization), nil)
	}
	if o.TempoBPM != 0 && (o.TempoBPM < 40 || o.TempoBPM > 240) {
		return services.Wrap(services.ErrValidation, "submit", "options",
			fmt.Sprintf("tempo %d outside 40-240", o.TempoBPM), nil)
	}
	if o.ForceKey != "" {
		if _, _, err := ParseKey(o.ForceKey); err != nil {
			return err
		}
	}
	return nil
}

var keyFifths = map[string]int{
	"c": 0, "g": 1, "d": 2, "a": 3, "e": 4, "b": 5,
	"f#": 6, "c#": 7, "f": -1, "bb": -2, "eb": -3,
	"ab": -4, "db": -5, "gb": -6, "cb": -7,
}

// ParseKey turns a key name such as "D", "F# minor", or "Bb major" into a
// circle-of-fifths count and a mode. Minor keys are expressed through their
// relative major.
func ParseKey(name string) (fifths int, mode string, err error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	if len(fields) == 0 || len(fields) > 2 {
		return 0, "", services.Wrap(services.ErrValidation, "submit", "options",
			fmt.Sprintf("unrecognized key %q", name), nil)
	}
	mode = "major"
	if len(fields) == 2 {
		switch fields[1] {
		case "major", "maj":
			mode = "major"
		case "minor", "min", "m":
			mode = "minor"
		default:
			return 0, "", services.Wrap(services.ErrValidation, "submit", "options",
				fmt.Sprintf("unrecognized key mode %q", fields[1]), nil)
		}
	}
	tonic := strings.ReplaceAll(fields[0], "♭", "b")
	tonic = strings.ReplaceAll(tonic, "♯", "#")
	if strings.HasSuffix(tonic, "m") && len(tonic) > 1 && len(fields) == 1 {
		mode = "minor"
		tonic = strings.TrimSuffix(tonic, "m")
	}
	f, ok := keyFifths[tonic]
	if !ok {
		return 0, "", services.Wrap(services.ErrValidation, "submit", "options",
			fmt.Sprintf("unrecognized key %q", name), nil)
	}
	if mode == "minor" {
		f -= 3
		if f < -7 {
			f += 12
		}
	}
	return f, mode, nil
}

// Meta describes the musical content of a finished transcription.
type Meta struct {
	Title           string  `json:"title"`
	Instrument      string  `json:"instrument"`
	Clef            Clef    `json:"clef"`
	Key             string  `json:"key"`
	TempoBPM        int     `json:"tempo"`
	TimeSignature   string  `json:"time_signature"`
	NoteCount       int     `json:"note_count"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Job is a single transcription request and its lifecycle state.
type Job struct {
	ID           string
	Status       Status
	Progress     int
	SourceFile   string
	Options      Options
	Meta         *Meta
	Artifacts    map[ArtifactKind]string
	ErrorMessage string
	Notes        []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ExpiresAt    *time.Time
}

// Expired reports whether the job's retention window has passed.
func (j *Job) Expired(now time.Time) bool {
	return j.ExpiresAt != nil && !now.Before(*j.ExpiresAt)
}
