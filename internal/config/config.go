package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StorageDir string `toml:"storage_dir"`
	Bind       string `toml:"bind"`
}

// Pipeline contains worker pool sizing and timing configuration.
type Pipeline struct {
	Workers            int `toml:"workers"`
	PollInterval       int `toml:"poll_interval"`
	SweepInterval      int `toml:"sweep_interval"`
	StageTimeout       int `toml:"stage_timeout"`
	TranscribeTimeout  int `toml:"transcribe_timeout"`
	EngraveTimeout     int `toml:"engrave_timeout"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
}

// Engraving selects the score rendering backend.
type Engraving struct {
	Backend string `toml:"backend"`
}

// Tools contains paths to the external binaries the stages shell out to.
// Empty values fall back to $PATH lookup of the default command name.
type Tools struct {
	FFmpegPath      string `toml:"ffmpeg"`
	BasicPitchPath  string `toml:"basic_pitch"`
	LilypondPath    string `toml:"lilypond"`
	MusicXML2LYPath string `toml:"musicxml2ly"`
	MuseScorePath   string `toml:"musescore"`
}

// Limits bounds what a submission may contain.
type Limits struct {
	MaxUploadMiB       int `toml:"max_upload_mib"`
	MaxDurationSeconds int `toml:"max_duration_seconds"`
}

// Logging configures log output.
type Logging struct {
	LogLevel  string `toml:"level"`
	LogFormat string `toml:"format"`
}

// Config is the full scoreforge configuration.
type Config struct {
	Paths     `toml:"paths"`
	Pipeline  Pipeline `toml:"pipeline"`
	Engraving `toml:"engraving"`
	Tools     `toml:"tools"`
	Limits    `toml:"limits"`
	Logging   `toml:"logging"`
}

// Known engraving backend identifiers.
const (
	BackendLilypond    = "lilypond"
	BackendMuseScore   = "musescore"
	BackendPlaceholder = "placeholder"
)

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() string {
	return filepath.Join("~", ".config", "scoreforge", "config.toml")
}

// Load reads configuration from path, merging the file over repository
// defaults. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	resolved := ExpandPath(path)

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.normalize()
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", resolved, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", resolved, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteSample writes the embedded sample config to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	resolved := ExpandPath(path)
	if _, err := os.Stat(resolved); err == nil {
		return fmt.Errorf("config file already exists at %s", resolved)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// JobsDir returns the directory holding per-job artifact subdirectories.
func (c *Config) JobsDir() string {
	return filepath.Join(c.StorageDir, "jobs")
}

// QueuePath returns the SQLite database location backing the job store.
func (c *Config) QueuePath() string {
	return filepath.Join(c.StorageDir, "jobs.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.StorageDir, "scoreforge.lock")
}

// MaxUploadBytes returns the upload size ceiling in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMiB) * 1024 * 1024
}

// EnsureDirectories creates the storage tree if it does not exist.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.StorageDir, c.JobsDir()} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the configured ffmpeg path or the bare command name.
func (c *Config) FFmpegBinary() string { return orDefault(c.FFmpegPath, "ffmpeg") }

// BasicPitchBinary returns the configured basic-pitch path or the bare command name.
func (c *Config) BasicPitchBinary() string { return orDefault(c.BasicPitchPath, "basic-pitch") }

// LilypondBinary returns the configured lilypond path or the bare command name.
func (c *Config) LilypondBinary() string { return orDefault(c.LilypondPath, "lilypond") }

// MusicXML2LYBinary returns the converter shipped alongside lilypond. When a
// lilypond path is configured the converter is resolved from its directory.
func (c *Config) MusicXML2LYBinary() string {
	if c.MusicXML2LYPath != "" {
		return c.MusicXML2LYPath
	}
	if c.LilypondPath != "" && filepath.Dir(c.LilypondPath) != "." {
		return filepath.Join(filepath.Dir(c.LilypondPath), "musicxml2ly")
	}
	return "musicxml2ly"
}

// MuseScoreBinary returns the configured musescore path or the bare command name.
func (c *Config) MuseScoreBinary() string { return orDefault(c.MuseScorePath, "mscore") }

func (c *Config) normalize() {
	c.StorageDir = ExpandPath(c.StorageDir)
	c.Engraving.Backend = strings.ToLower(strings.TrimSpace(c.Engraving.Backend))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
}

// ExpandPath expands a leading tilde to the user home directory.
func ExpandPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			if trimmed == "~" {
				return home
			}
			return filepath.Join(home, trimmed[2:])
		}
	}
	return trimmed
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
