package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scoreforge/internal/artifacts"
	"scoreforge/internal/config"
	"scoreforge/internal/jobs"
	"scoreforge/internal/pipeline"
	"scoreforge/internal/stage"
	"scoreforge/internal/testsupport"
)

type fixture struct {
	cfg       *config.Config
	store     *jobs.Store
	artifacts *artifacts.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	return &fixture{
		cfg:       cfg,
		store:     store,
		artifacts: artifacts.NewStore(cfg.JobsDir(), store, testsupport.Logger()),
	}
}

// submitWAV stages a sine-tone upload the way the job manager would.
func (f *fixture) submitWAV(t *testing.T) *jobs.Job {
	t.Helper()
	job, err := f.store.Create(context.Background(), "upload.wav", jobs.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	dir, err := f.artifacts.EnsureJobDir(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	src := testsupport.SineWAV(t, t.TempDir(), 440, 2.0, 44100)
	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "upload.wav"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	return job
}

func TestRunnerCompletesJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.submitWAV(t)
	if _, err := f.store.Claim(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	job.Status = jobs.StatusRunning

	runner := pipeline.NewRunner(f.cfg, f.store, f.artifacts, testsupport.Logger())
	if err := runner.Run(ctx, job); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := f.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != jobs.StatusDone {
		t.Fatalf("status = %s (%s)", got.Status, got.ErrorMessage)
	}
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100", got.Progress)
	}
	if got.Meta == nil {
		t.Error("done job carries no meta")
	}
	for _, kind := range []jobs.ArtifactKind{jobs.ArtifactMIDI, jobs.ArtifactMusicXML, jobs.ArtifactPDF} {
		name, ok := got.Artifacts[kind]
		if !ok {
			t.Errorf("artifact %s missing", kind)
			continue
		}
		if _, err := os.Stat(filepath.Join(f.artifacts.JobDir(job.ID), name)); err != nil {
			t.Errorf("artifact file %s missing: %v", name, err)
		}
	}
	// Basic Pitch is not installed in test environments, so the stub
	// transcriber substitution must be noted.
	if len(got.Notes) == 0 {
		t.Error("fallback transcription left no note")
	}
}

func TestRunnerFailsJobOnUndecodableAudio(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job, err := f.store.Create(ctx, "upload.wav", jobs.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	dir, err := f.artifacts.EnsureJobDir(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "upload.wav"), []byte("this is not audio data at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Claim(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	job.Status = jobs.StatusRunning

	runner := pipeline.NewRunner(f.cfg, f.store, f.artifacts, testsupport.Logger())
	if err := runner.Run(ctx, job); err == nil {
		t.Fatal("expected a stage failure")
	}

	got, err := f.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != jobs.StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Error("failed job has no error message")
	}
	if len(got.Artifacts) != 0 {
		t.Errorf("failed job has artifacts: %+v", got.Artifacts)
	}
	if got.Progress == 100 {
		t.Error("failed job reports full progress")
	}
}

type blockingHandler struct{}

func (blockingHandler) Prepare(ctx context.Context, work *stage.Work) error { return nil }
func (blockingHandler) Execute(ctx context.Context, work *stage.Work) error {
	<-ctx.Done()
	return ctx.Err()
}
func (blockingHandler) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy("blocking")
}

func TestStageTimeoutFailsJob(t *testing.T) {
	f := newFixture(t)
	f.cfg.Pipeline.StageTimeout = 1
	ctx := context.Background()
	job := f.submitWAV(t)
	if _, err := f.store.Claim(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	job.Status = jobs.StatusRunning

	runner := pipeline.NewRunnerWithHandlers(f.cfg, f.store, f.artifacts, testsupport.Logger(),
		pipeline.Handlers{Normalize: blockingHandler{}})
	if err := runner.Run(ctx, job); err == nil {
		t.Fatal("expected a timeout failure")
	}

	got, err := f.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != jobs.StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestManagerProcessesQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.submitWAV(t)
	second := f.submitWAV(t)

	runner := pipeline.NewRunner(f.cfg, f.store, f.artifacts, testsupport.Logger())
	manager := pipeline.NewManager(f.cfg, f.store, f.artifacts, runner, testsupport.Logger())
	if err := manager.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer manager.Stop()

	waitFor(t, 20*time.Second, func() bool {
		a, err := f.store.GetByID(ctx, first.ID)
		if err != nil || a == nil {
			return false
		}
		b, err := f.store.GetByID(ctx, second.ID)
		if err != nil || b == nil {
			return false
		}
		return a.Status.IsTerminal() && b.Status.IsTerminal()
	})

	for _, id := range []string{first.ID, second.ID} {
		got, err := f.store.GetByID(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != jobs.StatusDone {
			t.Errorf("job %s = %s (%s)", id, got.Status, got.ErrorMessage)
		}
	}
}

func TestStatusSnapshotsStayConsistentWhilePolling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.submitWAV(t)

	runner := pipeline.NewRunner(f.cfg, f.store, f.artifacts, testsupport.Logger())
	manager := pipeline.NewManager(f.cfg, f.store, f.artifacts, runner, testsupport.Logger())
	if err := manager.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer manager.Stop()

	last := -1
	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		got, err := f.store.GetByID(ctx, job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got == nil {
			t.Fatal("job disappeared mid-run")
		}
		if got.Progress < last {
			t.Fatalf("progress regressed from %d to %d", last, got.Progress)
		}
		last = got.Progress
		if got.Status == jobs.StatusRunning && got.Progress == 100 {
			t.Fatal("running job reports full progress")
		}
		if got.Status == jobs.StatusDone {
			if got.Progress != 100 {
				t.Fatalf("done job at progress %d", got.Progress)
			}
			if len(got.Artifacts) == 0 {
				t.Fatal("done job visible without artifacts")
			}
			return
		}
		if got.Status == jobs.StatusError {
			t.Fatalf("job failed: %s", got.ErrorMessage)
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("job did not finish before deadline")
}

func TestManagerSweepSignal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.store.Create(ctx, "upload.wav", jobs.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Claim(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Finish(ctx, job.ID, &jobs.Meta{}, nil, nil); err != nil {
		t.Fatal(err)
	}
	testsupport.ExpireJob(t, f.store, job.ID)

	runner := pipeline.NewRunner(f.cfg, f.store, f.artifacts, testsupport.Logger())
	manager := pipeline.NewManager(f.cfg, f.store, f.artifacts, runner, testsupport.Logger())
	if err := manager.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer manager.Stop()

	manager.RequestSweep()
	waitFor(t, 5*time.Second, func() bool {
		got, err := f.store.GetByID(ctx, job.ID)
		return err == nil && got == nil
	})
}
