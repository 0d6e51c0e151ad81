package engrave_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"scoreforge/internal/artifacts"
	"scoreforge/internal/engrave"
	"scoreforge/internal/jobs"
	"scoreforge/internal/services"
	"scoreforge/internal/stage"
	"scoreforge/internal/testsupport"
)

type fakeEngine struct {
	name      string
	available bool
	err       error
	calls     int
}

func (f *fakeEngine) Name() string    { return f.name }
func (f *fakeEngine) Available() bool { return f.available }
func (f *fakeEngine) Engrave(ctx context.Context, work *stage.Work, musicxmlPath, pdfPath string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(pdfPath, []byte("%PDF-1.4"), 0o644)
}

func newWork(t *testing.T) *stage.Work {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, artifacts.FileMusicXML), []byte("<score-partwise/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	work := &stage.Work{
		Job:     &jobs.Job{ID: "test", Options: jobs.DefaultOptions()},
		Workdir: dir,
		Meta: &jobs.Meta{
			Title:         "ScoreForge Transcription",
			Instrument:    "Piano",
			Clef:          jobs.ClefTreble,
			Key:           "C major",
			TempoBPM:      120,
			TimeSignature: "4/4",
			NoteCount:     8,
		},
	}
	work.AddArtifact(jobs.ArtifactMusicXML, artifacts.FileMusicXML)
	return work
}

func TestPlaceholderWritesValidPDF(t *testing.T) {
	work := newWork(t)
	pdfPath := filepath.Join(work.Workdir, artifacts.FilePDF)

	p := engrave.NewPlaceholder()
	if err := p.Engrave(context.Background(), work, "", pdfPath); err != nil {
		t.Fatalf("engrave: %v", err)
	}
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Error("output does not start with a PDF header")
	}
	if !bytes.Contains(data, []byte("%%EOF")) {
		t.Error("output has no PDF trailer")
	}
	if !bytes.Contains(data, []byte("ScoreForge Transcription")) {
		t.Error("summary text missing from the page stream")
	}
}

func TestPreferredEngineWins(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	preferred := &fakeEngine{name: "preferred", available: true}
	e := engrave.NewWithEngines(cfg, testsupport.Logger(), preferred, engrave.NewPlaceholder())

	work := newWork(t)
	if err := e.Execute(context.Background(), work); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if preferred.calls != 1 {
		t.Errorf("preferred engine called %d times", preferred.calls)
	}
	if work.Artifacts[jobs.ArtifactPDF] != artifacts.FilePDF {
		t.Errorf("artifacts = %+v", work.Artifacts)
	}
	if len(work.Notes) != 0 {
		t.Errorf("no substitution happened but notes = %v", work.Notes)
	}
}

func TestFallsBackToPlaceholder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	broken := &fakeEngine{
		name:      "broken",
		available: true,
		err:       services.Wrap(services.ErrExternalTool, "engrave", "run", "renderer crashed", nil),
	}
	e := engrave.NewWithEngines(cfg, testsupport.Logger(), broken, engrave.NewPlaceholder())

	work := newWork(t)
	if err := e.Execute(context.Background(), work); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if work.Artifacts[jobs.ArtifactPDF] != artifacts.FilePDF {
		t.Errorf("artifacts = %+v", work.Artifacts)
	}
	if len(work.Notes) != 1 {
		t.Fatalf("substitution should be noted, got %v", work.Notes)
	}
	if _, err := os.Stat(filepath.Join(work.Workdir, artifacts.FilePDF)); err != nil {
		t.Errorf("placeholder pdf missing: %v", err)
	}
}

func TestSkipsUnavailableEngine(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	missing := &fakeEngine{name: "missing", available: false}
	e := engrave.NewWithEngines(cfg, testsupport.Logger(), missing, engrave.NewPlaceholder())

	work := newWork(t)
	if err := e.Execute(context.Background(), work); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if missing.calls != 0 {
		t.Error("unavailable engine was invoked")
	}
	if len(work.Notes) != 1 {
		t.Errorf("substitution should be noted, got %v", work.Notes)
	}
}

func TestExpiredContextIsAStageFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	e := engrave.NewWithEngines(cfg, testsupport.Logger(), engrave.NewPlaceholder())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Execute(ctx, newWork(t))
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("error = %v, want timeout", err)
	}
}
