// Package engrave implements the final pipeline stage: the MusicXML score
// becomes a PDF. LilyPond and MuseScore backends shell out to their tools;
// when neither can run, a built-in placeholder renderer produces a minimal
// PDF so the job still finishes with a complete artifact set.
package engrave

import (
	"context"
	"log/slog"
	"path/filepath"

	"scoreforge/internal/artifacts"
	"scoreforge/internal/config"
	"scoreforge/internal/jobs"
	"scoreforge/internal/logging"
	"scoreforge/internal/services"
	"scoreforge/internal/stage"
)

// Engine renders a MusicXML document to a PDF file.
type Engine interface {
	Name() string
	Available() bool
	Engrave(ctx context.Context, work *stage.Work, musicxmlPath, pdfPath string) error
}

// Engraver is the engrave stage handler. Engines are tried in order; the
// placeholder sits last and always succeeds.
type Engraver struct {
	cfg     *config.Config
	logger  *slog.Logger
	engines []Engine
}

// New constructs the engrave handler for the configured backend.
func New(cfg *config.Config, logger *slog.Logger) *Engraver {
	var engines []Engine
	switch cfg.Backend {
	case config.BackendMuseScore:
		engines = append(engines, NewMuseScore(cfg))
	case config.BackendLilypond:
		engines = append(engines, NewLilypond(cfg))
	}
	engines = append(engines, NewPlaceholder())
	return NewWithEngines(cfg, logger, engines...)
}

// NewWithEngines allows injecting the engine ranking (used in tests).
func NewWithEngines(cfg *config.Config, logger *slog.Logger, engines ...Engine) *Engraver {
	return &Engraver{
		cfg:     cfg,
		logger:  logging.WithComponent(logger, "engraver"),
		engines: engines,
	}
}

// SetLogger replaces the stage logger.
func (e *Engraver) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

func (e *Engraver) Prepare(ctx context.Context, work *stage.Work) error {
	if work.Artifacts[jobs.ArtifactMusicXML] == "" {
		return services.Wrap(services.ErrTransient, "engrave", "prepare",
			"No score document to engrave", nil)
	}
	return nil
}

func (e *Engraver) Execute(ctx context.Context, work *stage.Work) error {
	logger := logging.WithContext(ctx, e.logger)
	xmlPath := filepath.Join(work.Workdir, work.Artifacts[jobs.ArtifactMusicXML])
	pdfPath := filepath.Join(work.Workdir, artifacts.FilePDF)

	var lastErr error
	for i, engine := range e.engines {
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrTimeout, "engrave", "engine loop",
				"Engraving ran out of time", err)
		}
		if !engine.Available() {
			logger.DebugContext(ctx, "engraving engine unavailable", logging.String("engine", engine.Name()))
			continue
		}

		if err := engine.Engrave(ctx, work, xmlPath, pdfPath); err != nil {
			if !services.Recoverable(err) {
				return err
			}
			logger.WarnContext(ctx, "engraving engine failed",
				logging.String("engine", engine.Name()), logging.Error(err))
			lastErr = err
			continue
		}

		if i > 0 {
			work.AddNote("engraving used the fallback renderer (%s)", engine.Name())
		}
		work.AddArtifact(jobs.ArtifactPDF, artifacts.FilePDF)
		logger.InfoContext(ctx, "score engraved", logging.String("engine", engine.Name()))
		return nil
	}

	return services.Wrap(services.ErrExternalTool, "engrave", "engine loop",
		"No engraving engine produced a PDF", lastErr)
}

func (e *Engraver) HealthCheck(ctx context.Context) stage.Health {
	for _, engine := range e.engines {
		if engine.Available() {
			if engine.Name() == placeholderEngineName && len(e.engines) > 1 {
				return stage.Health{Name: "engrave", Ready: true, Detail: "only the placeholder renderer is available"}
			}
			return stage.Healthy("engrave")
		}
	}
	return stage.Unhealthy("engrave", "no engraving engine available")
}
