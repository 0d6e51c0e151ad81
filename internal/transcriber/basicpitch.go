package transcriber

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"scoreforge/internal/config"
	"scoreforge/internal/deps"
	"scoreforge/internal/media"
	"scoreforge/internal/services"
)

// BasicPitch shells out to Spotify's basic-pitch CLI and reads back the MIDI
// file it writes next to the input.
type BasicPitch struct {
	cfg *config.Config
}

// NewBasicPitch constructs the Basic Pitch engine.
func NewBasicPitch(cfg *config.Config) *BasicPitch {
	return &BasicPitch{cfg: cfg}
}

func (b *BasicPitch) Name() string { return "basic-pitch" }

func (b *BasicPitch) Available() bool {
	return deps.Available(b.cfg.BasicPitchBinary())
}

func (b *BasicPitch) Transcribe(ctx context.Context, wavPath string) (*media.Sequence, error) {
	outDir, err := os.MkdirTemp(filepath.Dir(wavPath), "basicpitch-*")
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "transcribe", "mkdir", "Failed to create engine output directory", err)
	}
	defer os.RemoveAll(outDir)

	cmd := exec.CommandContext(ctx, b.cfg.BasicPitchBinary(), "--save-midi", outDir, wavPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "transcribe", "basic-pitch",
			fmt.Sprintf("Basic Pitch failed: %s", firstLine(out)), err)
	}

	midiPath, err := findMIDI(outDir)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "transcribe", "basic-pitch",
			"Basic Pitch produced no MIDI output", err)
	}
	seq, err := media.ReadSMF(midiPath)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "transcribe", "read midi",
			"Basic Pitch output could not be parsed", err)
	}

	// The engine's MIDI timing is in beats at its own tempo; downstream
	// stages work in seconds.
	tempo := seq.TempoBPM
	if tempo <= 0 {
		tempo = 120
	}
	secondsPerBeat := 60 / tempo
	notes := make([]media.Note, len(seq.Notes))
	for i, n := range seq.Notes {
		notes[i] = media.Note{
			Pitch:    n.Pitch,
			Velocity: n.Velocity,
			Start:    n.Start * secondsPerBeat,
			Duration: n.Duration * secondsPerBeat,
		}
	}
	return &media.Sequence{TempoBPM: seq.TempoBPM, Notes: notes}, nil
}

func findMIDI(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".mid") || strings.HasSuffix(name, ".midi") {
			return filepath.Join(dir, name), nil
		}
	}
	return "", fmt.Errorf("no midi file in %s", dir)
}

func firstLine(out []byte) string {
	trimmed := strings.TrimSpace(string(out))
	if i := strings.IndexByte(trimmed, '\n'); i >= 0 {
		return trimmed[:i]
	}
	return trimmed
}
