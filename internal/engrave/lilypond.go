package engrave

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"scoreforge/internal/config"
	"scoreforge/internal/deps"
	"scoreforge/internal/services"
	"scoreforge/internal/stage"
)

// Lilypond renders through musicxml2ly followed by lilypond.
type Lilypond struct {
	cfg *config.Config
}

// NewLilypond constructs the LilyPond engine.
func NewLilypond(cfg *config.Config) *Lilypond {
	return &Lilypond{cfg: cfg}
}

func (l *Lilypond) Name() string { return "lilypond" }

func (l *Lilypond) Available() bool {
	return deps.Available(l.cfg.MusicXML2LYBinary()) && deps.Available(l.cfg.LilypondBinary())
}

func (l *Lilypond) Engrave(ctx context.Context, work *stage.Work, musicxmlPath, pdfPath string) error {
	lyPath := strings.TrimSuffix(pdfPath, filepath.Ext(pdfPath)) + ".ly"
	if err := runTool(ctx, l.cfg.MusicXML2LYBinary(), "--output", lyPath, musicxmlPath); err != nil {
		return services.Wrap(services.ErrExternalTool, "engrave", "musicxml2ly",
			"musicxml2ly failed to convert the score", err)
	}
	defer os.Remove(lyPath)

	// lilypond derives the output name from -o plus the .pdf suffix.
	outBase := strings.TrimSuffix(pdfPath, filepath.Ext(pdfPath))
	if err := runTool(ctx, l.cfg.LilypondBinary(), "--pdf", "-o", outBase, lyPath); err != nil {
		return services.Wrap(services.ErrExternalTool, "engrave", "lilypond",
			"LilyPond failed to engrave the score", err)
	}
	if _, err := os.Stat(pdfPath); err != nil {
		return services.Wrap(services.ErrExternalTool, "engrave", "lilypond",
			"LilyPond produced no PDF output", err)
	}
	return nil
}

// MuseScore renders directly from MusicXML with the mscore converter.
type MuseScore struct {
	cfg *config.Config
}

// NewMuseScore constructs the MuseScore engine.
func NewMuseScore(cfg *config.Config) *MuseScore {
	return &MuseScore{cfg: cfg}
}

func (m *MuseScore) Name() string { return "musescore" }

func (m *MuseScore) Available() bool {
	return deps.Available(m.cfg.MuseScoreBinary())
}

func (m *MuseScore) Engrave(ctx context.Context, work *stage.Work, musicxmlPath, pdfPath string) error {
	if err := runTool(ctx, m.cfg.MuseScoreBinary(), musicxmlPath, "-o", pdfPath); err != nil {
		return services.Wrap(services.ErrExternalTool, "engrave", "musescore",
			"MuseScore failed to engrave the score", err)
	}
	if _, err := os.Stat(pdfPath); err != nil {
		return services.Wrap(services.ErrExternalTool, "engrave", "musescore",
			"MuseScore produced no PDF output", err)
	}
	return nil
}

func runTool(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(out))
		if i := strings.IndexByte(trimmed, '\n'); i >= 0 {
			trimmed = trimmed[:i]
		}
		return fmt.Errorf("%s: %w: %s", name, err, trimmed)
	}
	return nil
}
