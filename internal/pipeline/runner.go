// Package pipeline drives claimed jobs through the five processing stages
// and owns the worker pool that feeds them. Stage boundaries map to fixed
// progress checkpoints so pollers see steady, monotonic movement.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"scoreforge/internal/artifacts"
	"scoreforge/internal/config"
	"scoreforge/internal/engrave"
	"scoreforge/internal/jobs"
	"scoreforge/internal/logging"
	"scoreforge/internal/normalizer"
	"scoreforge/internal/quantizer"
	"scoreforge/internal/score"
	"scoreforge/internal/services"
	"scoreforge/internal/stage"
	"scoreforge/internal/transcriber"
)

// Progress checkpoints reached as each stage completes.
const (
	checkpointNormalize  = 10
	checkpointTranscribe = 50
	checkpointQuantize   = 65
	checkpointAssemble   = 85
	checkpointEngrave    = 95
)

type stageDef struct {
	name       string
	checkpoint int
	budget     func(config.Pipeline) time.Duration
	handler    stage.Handler
}

// Handlers bundles the five stage implementations. Zero fields keep the
// defaults (used in tests).
type Handlers struct {
	Normalize  stage.Handler
	Transcribe stage.Handler
	Quantize   stage.Handler
	Assemble   stage.Handler
	Engrave    stage.Handler
}

// Runner executes one claimed job at a time through the stage sequence.
type Runner struct {
	cfg       *config.Config
	store     *jobs.Store
	artifacts *artifacts.Store
	logger    *slog.Logger
	stages    []stageDef
}

// NewRunner constructs a runner with the default stage implementations.
func NewRunner(cfg *config.Config, store *jobs.Store, artifactStore *artifacts.Store, logger *slog.Logger) *Runner {
	return NewRunnerWithHandlers(cfg, store, artifactStore, logger, Handlers{})
}

// NewRunnerWithHandlers allows overriding individual stages (used in tests).
func NewRunnerWithHandlers(cfg *config.Config, store *jobs.Store, artifactStore *artifacts.Store, logger *slog.Logger, handlers Handlers) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	if handlers.Normalize == nil {
		handlers.Normalize = normalizer.New(cfg, logger)
	}
	if handlers.Transcribe == nil {
		handlers.Transcribe = transcriber.New(cfg, logger)
	}
	if handlers.Quantize == nil {
		handlers.Quantize = quantizer.New(cfg, logger)
	}
	if handlers.Assemble == nil {
		handlers.Assemble = score.New(cfg, logger)
	}
	if handlers.Engrave == nil {
		handlers.Engrave = engrave.New(cfg, logger)
	}

	return &Runner{
		cfg:       cfg,
		store:     store,
		artifacts: artifactStore,
		logger:    logging.WithComponent(logger, "pipeline"),
		stages: []stageDef{
			{"normalize", checkpointNormalize, config.Pipeline.Timeout, handlers.Normalize},
			{"transcribe", checkpointTranscribe, config.Pipeline.TranscribeBudget, handlers.Transcribe},
			{"quantize", checkpointQuantize, config.Pipeline.Timeout, handlers.Quantize},
			{"assemble", checkpointAssemble, config.Pipeline.Timeout, handlers.Assemble},
			{"engrave", checkpointEngrave, config.Pipeline.EngraveBudget, handlers.Engrave},
		},
	}
}

// Run processes a job that the caller has already claimed. On success the
// job lands in done with pinned progress and a full artifact set; on stage
// failure it lands in error. A canceled parent context leaves the job
// running for boot-time requeue.
func (r *Runner) Run(ctx context.Context, job *jobs.Job) error {
	ctx = services.WithJobID(ctx, job.ID)
	logger := logging.WithContext(ctx, r.logger)

	work := &stage.Work{
		Job:     job,
		Workdir: r.artifacts.JobDir(job.ID),
	}

	started := time.Now()
	logger.InfoContext(ctx, "job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("source_file", job.SourceFile),
	)

	for _, def := range r.stages {
		if err := r.runStage(ctx, def, work); err != nil {
			if ctx.Err() != nil {
				logger.WarnContext(ctx, "job interrupted by shutdown", logging.String(logging.FieldStage, def.name))
				return ctx.Err()
			}
			message := def.name + ": " + services.Details(err)
			logger.ErrorContext(ctx, "job failed",
				logging.String(logging.FieldEventType, "job_failed"),
				logging.String(logging.FieldStage, def.name),
				logging.Error(err),
			)
			if failErr := r.store.Fail(ctx, job.ID, message, work.Notes); failErr != nil {
				logger.ErrorContext(ctx, "failed to record job failure", logging.Error(failErr))
			}
			return err
		}
		if err := r.store.SetProgress(ctx, job.ID, def.checkpoint); err != nil {
			logger.WarnContext(ctx, "failed to record progress",
				logging.String(logging.FieldStage, def.name), logging.Error(err))
		}
	}

	if err := r.store.Finish(ctx, job.ID, work.Meta, work.Artifacts, work.Notes); err != nil {
		logger.ErrorContext(ctx, "failed to record job completion", logging.Error(err))
		return err
	}
	logger.InfoContext(ctx, "job complete",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.Duration("elapsed", time.Since(started)),
		logging.Int("artifacts", len(work.Artifacts)),
	)
	return nil
}

func (r *Runner) runStage(ctx context.Context, def stageDef, work *stage.Work) error {
	budget := def.budget(r.cfg.Pipeline)
	if budget <= 0 {
		budget = time.Minute
	}
	stageCtx, cancel := context.WithTimeout(services.WithStage(ctx, def.name), budget)
	defer cancel()

	if aware, ok := def.handler.(stage.LoggerAware); ok {
		aware.SetLogger(logging.WithContext(stageCtx, r.logger))
	}

	if err := def.handler.Prepare(stageCtx, work); err != nil {
		return classifyStageErr(stageCtx, err)
	}
	if err := def.handler.Execute(stageCtx, work); err != nil {
		return classifyStageErr(stageCtx, err)
	}
	return nil
}

// classifyStageErr maps an expired stage budget onto the timeout marker so
// callers report it as a stage failure rather than an infrastructure error.
func classifyStageErr(stageCtx context.Context, err error) error {
	if errors.Is(stageCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, services.ErrTimeout) {
		stageName, _ := services.StageFromContext(stageCtx)
		return services.Wrap(services.ErrTimeout, stageName, "budget",
			"Stage exceeded its time budget", err)
	}
	return err
}

// Health reports readiness for each stage.
func (r *Runner) Health(ctx context.Context) []stage.Health {
	out := make([]stage.Health, 0, len(r.stages))
	for _, def := range r.stages {
		out = append(out, def.handler.HealthCheck(ctx))
	}
	return out
}
