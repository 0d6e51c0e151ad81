package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"scoreforge/internal/artifacts"
	"scoreforge/internal/config"
	"scoreforge/internal/jobs"
	"scoreforge/internal/logging"
	"scoreforge/internal/stage"
)

// pollFloor keeps zero-valued intervals from spinning a worker hot.
const pollFloor = 25 * time.Millisecond

// Manager runs the worker pool that claims queued jobs and the background
// sweep that reclaims expired ones.
type Manager struct {
	cfg       *config.Config
	store     *jobs.Store
	artifacts *artifacts.Store
	runner    *Runner
	logger    *slog.Logger

	sweepSignal chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager constructs a pipeline manager.
func NewManager(cfg *config.Config, store *jobs.Store, artifactStore *artifacts.Store, runner *Runner, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:         cfg,
		store:       store,
		artifacts:   artifactStore,
		runner:      runner,
		logger:      logging.WithComponent(logger, "manager"),
		sweepSignal: make(chan struct{}, 1),
	}
}

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("pipeline already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	workers := m.cfg.Pipeline.Workers
	if workers < 1 {
		workers = 1
	}
	m.wg.Add(workers + 1)
	for i := 0; i < workers; i++ {
		go m.runWorker(runCtx, i)
	}
	go m.runSweeper(runCtx)

	m.logger.InfoContext(ctx, "pipeline started", logging.Int("workers", workers))
	return nil
}

// Stop terminates background processing and waits for completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// RequestSweep schedules an extra sweep pass without waiting for the timer.
// Safe to call from any goroutine; a pending request coalesces.
func (m *Manager) RequestSweep() {
	select {
	case m.sweepSignal <- struct{}{}:
	default:
	}
}

// Health reports stage readiness.
func (m *Manager) Health(ctx context.Context) []stage.Health {
	return m.runner.Health(ctx)
}

func (m *Manager) runWorker(ctx context.Context, id int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", id))

	poll := m.cfg.Pipeline.Poll()
	if poll <= 0 {
		poll = pollFloor
	}
	retry := m.cfg.Pipeline.ErrorRetry()
	if retry <= 0 {
		retry = poll
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := m.store.NextQueued(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "failed to fetch next job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_fetch_failed"),
			)
			sleep(ctx, retry)
			continue
		}
		if job == nil {
			sleep(ctx, poll)
			continue
		}

		claimed, err := m.store.Claim(ctx, job.ID)
		if err != nil {
			logger.ErrorContext(ctx, "failed to claim job",
				logging.String(logging.FieldJobID, job.ID), logging.Error(err))
			sleep(ctx, retry)
			continue
		}
		if !claimed {
			// Another worker won the race.
			continue
		}
		job.Status = jobs.StatusRunning

		_ = m.runner.Run(ctx, job)
	}
}

func (m *Manager) runSweeper(ctx context.Context) {
	defer m.wg.Done()

	interval := m.cfg.Pipeline.Sweep()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.sweepSignal:
		}
		if _, err := m.artifacts.Sweep(ctx, time.Now()); err != nil {
			m.logger.WarnContext(ctx, "artifact sweep failed", logging.Error(err))
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
