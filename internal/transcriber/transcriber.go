// Package transcriber implements the transcribe stage: normalized audio in,
// detected note events out. The preferred engine shells out to Basic Pitch;
// when it is missing or fails, a deterministic built-in engine takes over so
// a submission still completes.
package transcriber

import (
	"context"
	"errors"
	"log/slog"

	"scoreforge/internal/config"
	"scoreforge/internal/logging"
	"scoreforge/internal/media"
	"scoreforge/internal/services"
	"scoreforge/internal/stage"
)

// Engine detects notes in a normalized WAV file. Returned sequences carry
// note timing in seconds; TempoBPM is the engine's tempo estimate, zero when
// it has none.
type Engine interface {
	Name() string
	Available() bool
	Transcribe(ctx context.Context, wavPath string) (*media.Sequence, error)
}

// Transcriber is the transcribe stage handler. Engines are tried in order
// until one produces notes.
type Transcriber struct {
	cfg     *config.Config
	logger  *slog.Logger
	engines []Engine
}

// New constructs the transcribe handler with the default engine ranking.
func New(cfg *config.Config, logger *slog.Logger) *Transcriber {
	return NewWithEngines(cfg, logger, NewBasicPitch(cfg), NewStub())
}

// NewWithEngines allows injecting the engine ranking (used in tests).
func NewWithEngines(cfg *config.Config, logger *slog.Logger, engines ...Engine) *Transcriber {
	return &Transcriber{
		cfg:     cfg,
		logger:  logging.WithComponent(logger, "transcriber"),
		engines: engines,
	}
}

// SetLogger replaces the stage logger.
func (t *Transcriber) SetLogger(logger *slog.Logger) {
	if logger != nil {
		t.logger = logger
	}
}

func (t *Transcriber) Prepare(ctx context.Context, work *stage.Work) error {
	if work.NormalizedWAV == "" || work.Audio == nil {
		return services.Wrap(services.ErrTransient, "transcribe", "prepare",
			"Normalized audio is missing; normalization must run first", nil)
	}
	return nil
}

func (t *Transcriber) Execute(ctx context.Context, work *stage.Work) error {
	logger := logging.WithContext(ctx, t.logger)

	var lastErr error
	for i, engine := range t.engines {
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrTimeout, "transcribe", "engine loop",
				"Transcription ran out of time", err)
		}
		if !engine.Available() {
			logger.DebugContext(ctx, "transcription engine unavailable", logging.String("engine", engine.Name()))
			continue
		}

		seq, err := engine.Transcribe(ctx, work.NormalizedWAV)
		if err != nil {
			if !services.Recoverable(err) {
				return err
			}
			logger.WarnContext(ctx, "transcription engine failed",
				logging.String("engine", engine.Name()), logging.Error(err))
			lastErr = err
			continue
		}
		if len(seq.Notes) == 0 {
			logger.WarnContext(ctx, "transcription engine produced no notes",
				logging.String("engine", engine.Name()))
			lastErr = errors.New(engine.Name() + " produced no notes")
			continue
		}

		if i > 0 {
			work.AddNote("transcription used the fallback engine (%s)", engine.Name())
		}
		work.Raw = seq
		logger.InfoContext(ctx, "transcription complete",
			logging.String("engine", engine.Name()),
			logging.Int("notes", len(seq.Notes)),
		)
		return nil
	}

	return services.Wrap(services.ErrExternalTool, "transcribe", "engine loop",
		"No transcription engine produced notes", lastErr)
}

func (t *Transcriber) HealthCheck(ctx context.Context) stage.Health {
	for _, engine := range t.engines {
		if engine.Available() {
			if engine.Name() == stubEngineName {
				return stage.Health{Name: "transcribe", Ready: true, Detail: "only the built-in engine is available"}
			}
			return stage.Healthy("transcribe")
		}
	}
	return stage.Unhealthy("transcribe", "no transcription engine available")
}
