// Package daemon assembles the long-running service: it owns the job store,
// the artifact store, the pipeline workers, and the HTTP API, and enforces
// single-instance execution with a lock file.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"scoreforge/internal/artifacts"
	"scoreforge/internal/config"
	"scoreforge/internal/jobs"
	"scoreforge/internal/logging"
	"scoreforge/internal/manager"
	"scoreforge/internal/pipeline"
	"scoreforge/internal/server"
)

const shutdownGrace = 10 * time.Second

// Daemon coordinates the background pipeline and the API server.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *jobs.Store
	artifacts *artifacts.Store
	pipeline  *pipeline.Manager
	jobs      *manager.Manager
	api       *server.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	apiErr  chan error
}

// New opens the job store and wires every service the daemon runs.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires a configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("prepare storage directories: %w", err)
	}

	store, err := jobs.Open(cfg.QueuePath())
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	artifactStore := artifacts.NewStore(cfg.JobsDir(), store, logger)
	runner := pipeline.NewRunner(cfg, store, artifactStore, logger)
	pipelineMgr := pipeline.NewManager(cfg, store, artifactStore, runner, logger)
	jobManager := manager.New(cfg, store, artifactStore, pipelineMgr, logger)
	api := server.New(cfg, jobManager, pipelineMgr, logger)

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:       cfg,
		logger:    logging.WithComponent(logger, "daemon"),
		store:     store,
		artifacts: artifactStore,
		pipeline:  pipelineMgr,
		jobs:      jobManager,
		api:       api,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock, reconciles state left by a previous run,
// and launches the pipeline workers and the HTTP listener.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another scoreforge daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.reconcile(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	if err := d.pipeline.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start pipeline: %w", err)
	}

	d.cancel = cancel
	d.apiErr = make(chan error, 1)
	go func() {
		d.apiErr <- d.api.Start()
	}()

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("bind", d.cfg.Bind),
		logging.String("lock", d.lockPath),
	)
	return nil
}

// reconcile requeues jobs interrupted by an unclean shutdown and reclaims any
// artifacts whose retention lapsed while the daemon was down.
func (d *Daemon) reconcile(ctx context.Context) error {
	requeued, err := d.store.RequeueInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("requeue interrupted jobs: %w", err)
	}
	if requeued > 0 {
		d.logger.Info("requeued interrupted jobs", logging.Int("count", requeued))
	}
	reclaimed, err := d.artifacts.Sweep(ctx, time.Now())
	if err != nil {
		d.logger.Warn("startup sweep failed", logging.Error(err))
	} else if reclaimed > 0 {
		d.logger.Info("reclaimed expired jobs", logging.Int("count", reclaimed))
	}
	return nil
}

// Wait blocks until the context is canceled or the HTTP listener fails.
func (d *Daemon) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-d.apiErr:
		return err
	}
}

// Stop shuts the services down in dependency order and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := d.api.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("api shutdown", logging.Error(err))
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.pipeline.Stop()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and closes the job store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Jobs exposes the job manager, mainly for diagnostics and tests.
func (d *Daemon) Jobs() *manager.Manager {
	return d.jobs
}

// Running reports whether Start has been called without a matching Stop.
func (d *Daemon) Running() bool {
	return d.running.Load()
}
