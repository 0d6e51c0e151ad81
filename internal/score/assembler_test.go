package score_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"scoreforge/internal/artifacts"
	"scoreforge/internal/jobs"
	"scoreforge/internal/media"
	"scoreforge/internal/score"
	"scoreforge/internal/stage"
	"scoreforge/internal/testsupport"
)

func cMajorScale() []media.Note {
	pitches := []int{60, 62, 64, 65, 67, 69, 71, 72}
	notes := make([]media.Note, len(pitches))
	for i, p := range pitches {
		notes[i] = media.Note{Pitch: p, Velocity: 90, Start: float64(i), Duration: 1}
	}
	return notes
}

func TestDetectKeyCMajor(t *testing.T) {
	fifths, mode, name := score.DetectKey(cMajorScale())
	if fifths != 0 || mode != "major" {
		t.Errorf("detected (%d, %s), want (0, major)", fifths, mode)
	}
	if name != "C major" {
		t.Errorf("name = %q", name)
	}
}

func TestDetectKeyDMajor(t *testing.T) {
	pitches := []int{62, 64, 66, 67, 69, 71, 73, 74}
	notes := make([]media.Note, len(pitches))
	for i, p := range pitches {
		notes[i] = media.Note{Pitch: p, Velocity: 90, Start: float64(i), Duration: 1}
	}
	fifths, mode, name := score.DetectKey(notes)
	if fifths != 2 || mode != "major" {
		t.Errorf("detected (%d, %s, %s), want (2, major, D major)", fifths, mode, name)
	}
}

func TestDetectKeyEmptyInput(t *testing.T) {
	fifths, mode, _ := score.DetectKey(nil)
	if fifths != 0 || mode != "major" {
		t.Errorf("empty input = (%d, %s), want C major", fifths, mode)
	}
}

func TestLayoutInsertsRestsAndChords(t *testing.T) {
	notes := []media.Note{
		{Pitch: 60, Velocity: 90, Start: 0, Duration: 1},
		{Pitch: 64, Velocity: 90, Start: 0, Duration: 1},
		{Pitch: 67, Velocity: 90, Start: 2, Duration: 1},
	}
	out := score.Layout(notes)
	if len(out) != 4 {
		t.Fatalf("layout has %d elements, want 4 (chord pair, rest, note)", len(out))
	}
	if out[0].Chord || !out[1].Chord {
		t.Errorf("chord flags = %v %v", out[0].Chord, out[1].Chord)
	}
	if !out[2].Rest || out[2].Beats != 1 {
		t.Errorf("expected a one-beat rest, got %+v", out[2])
	}
}

func TestLayoutClipsOverlap(t *testing.T) {
	notes := []media.Note{
		{Pitch: 60, Velocity: 90, Start: 0, Duration: 4},
		{Pitch: 62, Velocity: 90, Start: 1, Duration: 1},
	}
	out := score.Layout(notes)
	if out[0].Beats != 1 {
		t.Errorf("overlapping note kept %f beats, want clipped to 1", out[0].Beats)
	}
}

func TestExecuteAssemblesScore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	work := &stage.Work{
		Job:       &jobs.Job{ID: "test", Options: jobs.DefaultOptions()},
		Workdir:   t.TempDir(),
		Quantized: &media.Sequence{TempoBPM: 120, Notes: cMajorScale()},
	}

	a := score.New(cfg, testsupport.Logger())
	if err := a.Prepare(context.Background(), work); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := a.Execute(context.Background(), work); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if work.Meta == nil {
		t.Fatal("no meta on the work unit")
	}
	if work.Meta.Title != score.DefaultTitle {
		t.Errorf("title = %q", work.Meta.Title)
	}
	if work.Meta.Instrument != "Piano" {
		t.Errorf("instrument = %q, want Piano", work.Meta.Instrument)
	}
	if work.Meta.Key != "C major" {
		t.Errorf("key = %q", work.Meta.Key)
	}
	if work.Meta.NoteCount != 8 {
		t.Errorf("note count = %d", work.Meta.NoteCount)
	}
	// Eight beats at 120 BPM.
	if work.Meta.DurationSeconds != 4 {
		t.Errorf("duration = %f, want 4", work.Meta.DurationSeconds)
	}
	if work.Artifacts[jobs.ArtifactMusicXML] != artifacts.FileMusicXML {
		t.Errorf("artifacts = %+v", work.Artifacts)
	}

	data, err := os.ReadFile(filepath.Join(work.Workdir, artifacts.FileMusicXML))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "<score-partwise") {
		t.Error("artifact is not a MusicXML document")
	}
}

func TestExecuteHonorsForcedKey(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	opts := jobs.DefaultOptions()
	opts.ForceKey = "F# minor"
	work := &stage.Work{
		Job:       &jobs.Job{ID: "test", Options: opts},
		Workdir:   t.TempDir(),
		Quantized: &media.Sequence{TempoBPM: 120, Notes: cMajorScale()},
	}

	a := score.New(cfg, testsupport.Logger())
	if err := a.Execute(context.Background(), work); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if work.Meta.Key != "F# minor" {
		t.Errorf("key = %q, want the forced key", work.Meta.Key)
	}
	data, err := os.ReadFile(filepath.Join(work.Workdir, artifacts.FileMusicXML))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "<fifths>3</fifths>") {
		t.Error("forced key signature missing from the document")
	}
}

func TestDetectMeterPrefersThreeWhenDownbeatsSaySo(t *testing.T) {
	var notes []media.Note
	for measure := 0; measure < 8; measure++ {
		notes = append(notes, media.Note{Pitch: 60, Velocity: 110, Start: float64(measure * 3), Duration: 1})
		notes = append(notes, media.Note{Pitch: 64, Velocity: 60, Start: float64(measure*3) + 1, Duration: 1})
		notes = append(notes, media.Note{Pitch: 67, Velocity: 60, Start: float64(measure*3) + 2, Duration: 1})
	}
	if got := score.DetectMeter(notes); got != 3 {
		t.Errorf("meter = %d, want 3", got)
	}
}
