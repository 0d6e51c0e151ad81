// Package normalizer implements the first pipeline stage: decode the
// uploaded audio, downmix to mono, resample to the analysis rate, and level
// the signal. Compressed uploads go through ffmpeg; WAV is decoded natively.
package normalizer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"scoreforge/internal/config"
	"scoreforge/internal/deps"
	"scoreforge/internal/logging"
	"scoreforge/internal/media"
	"scoreforge/internal/services"
	"scoreforge/internal/stage"
)

// AnalysisRate is the sample rate every downstream stage assumes.
const AnalysisRate = 44100

const normalizedFile = "normalized.wav"

// silenceFloor is the peak below which a clip is considered empty.
const silenceFloor = 1e-4

// Decoder converts a compressed upload into a mono WAV file.
type Decoder func(ctx context.Context, src, dst string) error

// Normalizer is the normalize stage handler.
type Normalizer struct {
	cfg     *config.Config
	logger  *slog.Logger
	decoder Decoder
}

// New constructs the normalize handler with the ffmpeg decoder.
func New(cfg *config.Config, logger *slog.Logger) *Normalizer {
	n := &Normalizer{cfg: cfg, logger: logging.WithComponent(logger, "normalizer")}
	n.decoder = n.ffmpegDecode
	return n
}

// NewWithDecoder allows injecting the compressed-audio decoder (used in tests).
func NewWithDecoder(cfg *config.Config, logger *slog.Logger, decoder Decoder) *Normalizer {
	n := New(cfg, logger)
	n.decoder = decoder
	return n
}

// SetLogger replaces the stage logger.
func (n *Normalizer) SetLogger(logger *slog.Logger) {
	if logger != nil {
		n.logger = logger
	}
}

func (n *Normalizer) Prepare(ctx context.Context, work *stage.Work) error {
	src := filepath.Join(work.Workdir, work.Job.SourceFile)
	if _, err := os.Stat(src); err != nil {
		return services.Wrap(services.ErrStorage, "normalize", "stat upload",
			"Uploaded audio is missing from the job directory", err)
	}
	return nil
}

func (n *Normalizer) Execute(ctx context.Context, work *stage.Work) error {
	logger := logging.WithContext(ctx, n.logger)
	src := filepath.Join(work.Workdir, work.Job.SourceFile)

	head, err := os.ReadFile(src)
	if err != nil {
		return services.Wrap(services.ErrStorage, "normalize", "read upload", "Failed to read uploaded audio", err)
	}
	format, ok := media.Sniff(head)
	if !ok {
		return services.Wrap(services.ErrValidation, "normalize", "sniff",
			"Uploaded file is not recognizable audio", nil)
	}

	wavPath := src
	if format != media.FormatWAV {
		wavPath = filepath.Join(work.Workdir, "decoded.wav")
		if err := n.decoder(ctx, src, wavPath); err != nil {
			return services.Wrap(services.ErrExternalTool, "normalize", "decode",
				fmt.Sprintf("Failed to decode %s upload; check the ffmpeg installation", format), err)
		}
		defer os.Remove(wavPath)
	}

	f, err := os.Open(wavPath)
	if err != nil {
		return services.Wrap(services.ErrStorage, "normalize", "open wav", "Failed to open decoded audio", err)
	}
	audio, err := media.DecodeWAV(f)
	_ = f.Close()
	if err != nil {
		return services.Wrap(services.ErrValidation, "normalize", "decode wav",
			"Uploaded audio could not be decoded", err)
	}

	if len(audio.Samples) == 0 || audio.Peak() < silenceFloor {
		return services.Wrap(services.ErrValidation, "normalize", "level check",
			"Uploaded audio is empty or silent", nil)
	}

	audio = audio.Resample(AnalysisRate)
	audio.Normalize(0.9)

	outPath := filepath.Join(work.Workdir, normalizedFile)
	if err := media.WriteWAV16(outPath, audio.Samples, audio.SampleRate); err != nil {
		return services.Wrap(services.ErrStorage, "normalize", "write wav", "Failed to write normalized audio", err)
	}

	work.Audio = audio
	work.NormalizedWAV = outPath
	logger.InfoContext(ctx, "audio normalized",
		logging.String("format", string(format)),
		logging.Float64("duration_seconds", audio.Duration()),
	)
	return nil
}

func (n *Normalizer) HealthCheck(ctx context.Context) stage.Health {
	if !deps.Available(n.cfg.FFmpegBinary()) {
		return stage.Health{Name: "normalize", Ready: true, Detail: "ffmpeg missing; only wav uploads will decode"}
	}
	return stage.Healthy("normalize")
}

func (n *Normalizer) ffmpegDecode(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, n.cfg.FFmpegBinary(),
		"-hide_banner", "-loglevel", "error",
		"-i", src,
		"-ac", "1",
		"-ar", fmt.Sprint(AnalysisRate),
		"-y", dst,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, firstLine(out))
	}
	return nil
}

func firstLine(out []byte) string {
	for i, b := range out {
		if b == '\n' {
			return string(out[:i])
		}
	}
	return string(out)
}
