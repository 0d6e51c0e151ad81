package manager_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"scoreforge/internal/artifacts"
	"scoreforge/internal/config"
	"scoreforge/internal/jobs"
	"scoreforge/internal/manager"
	"scoreforge/internal/services"
	"scoreforge/internal/testsupport"
)

type fixture struct {
	cfg       *config.Config
	store     *jobs.Store
	artifacts *artifacts.Store
	manager   *manager.Manager
	sweeps    *sweepCounter
}

type sweepCounter struct{ count int }

func (s *sweepCounter) RequestSweep() { s.count++ }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore := artifacts.NewStore(cfg.JobsDir(), store, testsupport.Logger())
	sweeps := &sweepCounter{}
	return &fixture{
		cfg:       cfg,
		store:     store,
		artifacts: artifactStore,
		manager:   manager.New(cfg, store, artifactStore, sweeps, testsupport.Logger()),
		sweeps:    sweeps,
	}
}

func wavUpload(t *testing.T, seconds float64) []byte {
	t.Helper()
	path := testsupport.SineWAV(t, t.TempDir(), 440, seconds, 8000)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestSubmitStagesUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.manager.Submit(ctx, bytes.NewReader(wavUpload(t, 2)), jobs.DefaultOptions())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if view.Status != jobs.StatusQueued || view.Progress != 0 {
		t.Errorf("view = %s/%d, want queued/0", view.Status, view.Progress)
	}

	job, err := f.store.GetByID(ctx, view.ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.SourceFile != "upload.wav" {
		t.Errorf("source file = %s", job.SourceFile)
	}
	if _, err := os.Stat(f.artifacts.JobDir(view.ID) + "/upload.wav"); err != nil {
		t.Errorf("staged upload missing: %v", err)
	}
}

func TestSubmitRejectsOversizedUpload(t *testing.T) {
	f := newFixture(t)
	f.cfg.MaxUploadMiB = 1
	ctx := context.Background()

	before, err := f.store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// A sniffable WAV header followed by two MiB of padding.
	big := append(wavUpload(t, 0.1), make([]byte, 2<<20)...)
	_, err = f.manager.Submit(ctx, bytes.NewReader(big), jobs.DefaultOptions())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want validation", err)
	}

	after, err := f.store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if after != before {
		t.Errorf("job count changed from %d to %d on a rejected submission", before, after)
	}
}

func TestSubmitRejectsUnsupportedFormat(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Submit(context.Background(),
		strings.NewReader("OggS this is a vorbis stream, not supported"), jobs.DefaultOptions())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
	if msg := services.Details(err); !strings.Contains(msg, "wav") {
		t.Errorf("rejection should name accepted formats, got %q", msg)
	}
}

func TestSubmitRejectsOverlongAudio(t *testing.T) {
	f := newFixture(t)
	f.cfg.MaxDurationSeconds = 1
	_, err := f.manager.Submit(context.Background(), bytes.NewReader(wavUpload(t, 3)), jobs.DefaultOptions())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestSubmitRejectsBadOptions(t *testing.T) {
	f := newFixture(t)
	opts := jobs.DefaultOptions()
	opts.Clef = "soprano"
	_, err := f.manager.Submit(context.Background(), bytes.NewReader(wavUpload(t, 1)), opts)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Status(context.Background(), "nope")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("error = %v, want not found", err)
	}
}

func TestStatusExpiredJobIsNotFoundAndNudgesSweeper(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.manager.Submit(ctx, bytes.NewReader(wavUpload(t, 1)), jobs.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Claim(ctx, view.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Finish(ctx, view.ID, &jobs.Meta{}, nil, nil); err != nil {
		t.Fatal(err)
	}
	testsupport.ExpireJob(t, f.store, view.ID)

	_, err = f.manager.Status(ctx, view.ID)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("error = %v, want not found", err)
	}
	if f.sweeps.count == 0 {
		t.Error("expired status read did not request a sweep")
	}
}

func TestStatusViewCarriesArtifactURLs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.manager.Submit(ctx, bytes.NewReader(wavUpload(t, 1)), jobs.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Claim(ctx, view.ID); err != nil {
		t.Fatal(err)
	}
	names := map[jobs.ArtifactKind]string{jobs.ArtifactPDF: artifacts.FilePDF}
	if err := f.store.Finish(ctx, view.ID, &jobs.Meta{Title: "x"}, names, nil); err != nil {
		t.Fatal(err)
	}

	got, err := f.manager.Status(ctx, view.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := "/results/" + view.ID + "/" + artifacts.FilePDF
	if got.Artifacts["pdf"] != want {
		t.Errorf("pdf url = %q, want %q", got.Artifacts["pdf"], want)
	}
	if got.Meta == nil {
		t.Error("done view has no meta")
	}
}

func TestTwoSubmissionsAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload := wavUpload(t, 1)
	first, err := f.manager.Submit(ctx, bytes.NewReader(payload), jobs.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.manager.Submit(ctx, bytes.NewReader(payload), jobs.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == second.ID {
		t.Fatal("identical payloads must still get distinct jobs")
	}
}

func TestDiscardRemovesTerminalJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.manager.Submit(ctx, bytes.NewReader(wavUpload(t, 1)), jobs.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	// An active job refuses discard.
	if err := f.manager.Discard(ctx, view.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("discard of queued job = %v, want validation error", err)
	}

	if _, err := f.store.Claim(ctx, view.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Fail(ctx, view.ID, "boom", nil); err != nil {
		t.Fatal(err)
	}

	if err := f.manager.Discard(ctx, view.ID); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if _, err := f.manager.Status(ctx, view.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("status after discard = %v, want not found", err)
	}
	if err := f.manager.Discard(ctx, view.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("second discard = %v, want not found", err)
	}
}
