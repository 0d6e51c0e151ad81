package normalizer_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"scoreforge/internal/jobs"
	"scoreforge/internal/media"
	"scoreforge/internal/normalizer"
	"scoreforge/internal/services"
	"scoreforge/internal/stage"
	"scoreforge/internal/testsupport"
)

func workFor(t *testing.T, samples []float64, rate int) *stage.Work {
	t.Helper()
	dir := t.TempDir()
	if err := media.WriteWAV16(filepath.Join(dir, "upload.wav"), samples, rate); err != nil {
		t.Fatal(err)
	}
	return &stage.Work{
		Job:     &jobs.Job{ID: "test", SourceFile: "upload.wav", Options: jobs.DefaultOptions()},
		Workdir: dir,
	}
}

func TestExecuteNormalizesWAV(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	rate := 22050
	samples := make([]float64, rate*2)
	for i := range samples {
		samples[i] = 0.25 * math.Sin(2*math.Pi*440*float64(i)/float64(rate))
	}
	work := workFor(t, samples, rate)

	n := normalizer.New(cfg, testsupport.Logger())
	if err := n.Prepare(context.Background(), work); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := n.Execute(context.Background(), work); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if work.Audio == nil {
		t.Fatal("no decoded audio on the work unit")
	}
	if work.Audio.SampleRate != normalizer.AnalysisRate {
		t.Errorf("sample rate = %d, want %d", work.Audio.SampleRate, normalizer.AnalysisRate)
	}
	if peak := work.Audio.Peak(); math.Abs(peak-0.9) > 0.02 {
		t.Errorf("peak = %f, want ~0.9 after leveling", peak)
	}
	if _, err := os.Stat(work.NormalizedWAV); err != nil {
		t.Errorf("normalized wav missing: %v", err)
	}
}

func TestExecuteRejectsSilentAudio(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	work := workFor(t, make([]float64, 44100), 44100)

	n := normalizer.New(cfg, testsupport.Logger())
	err := n.Execute(context.Background(), work)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("silent audio error = %v, want validation", err)
	}
}

func TestExecuteRejectsGarbage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "upload.wav"), []byte("not audio at all, just text"), 0o644); err != nil {
		t.Fatal(err)
	}
	work := &stage.Work{
		Job:     &jobs.Job{ID: "test", SourceFile: "upload.wav", Options: jobs.DefaultOptions()},
		Workdir: dir,
	}

	n := normalizer.New(cfg, testsupport.Logger())
	err := n.Execute(context.Background(), work)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("garbage error = %v, want validation", err)
	}
}

func TestExecuteUsesDecoderForCompressed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()
	// A fake MP3: sniffable header, undecodable payload.
	payload := append([]byte("ID3\x04\x00\x00\x00\x00\x00\x00"), make([]byte, 64)...)
	if err := os.WriteFile(filepath.Join(dir, "upload.mp3"), payload, 0o644); err != nil {
		t.Fatal(err)
	}
	work := &stage.Work{
		Job:     &jobs.Job{ID: "test", SourceFile: "upload.mp3", Options: jobs.DefaultOptions()},
		Workdir: dir,
	}

	called := false
	decoder := func(ctx context.Context, src, dst string) error {
		called = true
		samples := make([]float64, 44100)
		for i := range samples {
			samples[i] = 0.5 * math.Sin(2*math.Pi*220*float64(i)/44100)
		}
		return media.WriteWAV16(dst, samples, 44100)
	}

	n := normalizer.NewWithDecoder(cfg, testsupport.Logger(), decoder)
	if err := n.Execute(context.Background(), work); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !called {
		t.Error("decoder was not invoked for a compressed upload")
	}
}

func TestExecuteFailsWhenDecoderFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()
	payload := append([]byte("ID3\x04\x00\x00\x00\x00\x00\x00"), make([]byte, 64)...)
	if err := os.WriteFile(filepath.Join(dir, "upload.mp3"), payload, 0o644); err != nil {
		t.Fatal(err)
	}
	work := &stage.Work{
		Job:     &jobs.Job{ID: "test", SourceFile: "upload.mp3", Options: jobs.DefaultOptions()},
		Workdir: dir,
	}

	decoder := func(ctx context.Context, src, dst string) error {
		return errors.New("boom")
	}
	n := normalizer.NewWithDecoder(cfg, testsupport.Logger(), decoder)
	err := n.Execute(context.Background(), work)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("decoder failure = %v, want external tool", err)
	}
}
