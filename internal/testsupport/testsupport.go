// Package testsupport holds shared helpers for package tests: temp-dir
// configs, store builders, a silent logger, and audio fixtures.
package testsupport

import (
	"database/sql"
	"log/slog"
	"math"
	"path/filepath"
	"testing"
	"time"

	"scoreforge/internal/config"
	"scoreforge/internal/jobs"
	"scoreforge/internal/logging"
	"scoreforge/internal/media"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// The placeholder engraver keeps tests independent of external binaries, and
// the pipeline intervals are shortened so polls fire quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.StorageDir = filepath.Join(t.TempDir(), "storage")
	cfg.Bind = "127.0.0.1:0"
	cfg.Backend = config.BackendPlaceholder
	cfg.Pipeline.Workers = 1
	// A zero interval makes the manager fall back to its fast test-friendly
	// floor instead of waiting out whole seconds.
	cfg.Pipeline.PollInterval = 0
	cfg.Pipeline.SweepInterval = 3600

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithWorkers overrides the pipeline worker count.
func WithWorkers(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.Workers = n
	}
}

// WithBackend selects the engraving backend.
func WithBackend(backend string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Backend = backend
	}
}

// MustOpenStore opens a job store under the config's storage directory and
// closes it when the test finishes.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()
	store, err := jobs.Open(cfg.QueuePath())
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// ExpireJob backdates a job's retention deadline so sweeps and status reads
// treat it as past retention without waiting out the real window.
func ExpireJob(t testing.TB, store *jobs.Store, id string) {
	t.Helper()
	db, err := sql.Open("sqlite", store.Path())
	if err != nil {
		t.Fatalf("open job database: %v", err)
	}
	defer db.Close()
	// Same fixed-width layout the store writes, so string comparisons hold.
	past := time.Now().UTC().Add(-time.Minute).Format("2006-01-02T15:04:05.000000000Z07:00")
	if _, err := db.Exec(`UPDATE jobs SET expires_at = ? WHERE id = ?`, past, id); err != nil {
		t.Fatalf("backdate expiry: %v", err)
	}
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return logging.NewNop()
}

// SineWAV writes a mono 16-bit sine tone and returns its path.
func SineWAV(t testing.TB, dir string, freq float64, seconds float64, rate int) string {
	t.Helper()
	samples := make([]float64, int(seconds*float64(rate)))
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	path := filepath.Join(dir, "tone.wav")
	if err := media.WriteWAV16(path, samples, rate); err != nil {
		t.Fatalf("write fixture wav: %v", err)
	}
	return path
}
