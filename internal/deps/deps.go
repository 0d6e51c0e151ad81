// Package deps inspects the external tools the transcription pipeline can
// shell out to. Every tool is optional; each stage carries a built-in
// fallback for when its preferred binary is missing.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"scoreforge/internal/config"
)

// Requirement defines an external binary a pipeline stage prefers to use.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// Requirements lists the tools the configured pipeline would like to find.
func Requirements(cfg *config.Config) []Requirement {
	reqs := []Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpegBinary(),
			Description: "Decodes compressed uploads during normalization",
			Optional:    true,
		},
		{
			Name:        "Basic Pitch",
			Command:     cfg.BasicPitchBinary(),
			Description: "Neural transcription of audio to MIDI",
			Optional:    true,
		},
	}
	switch cfg.Backend {
	case config.BackendMuseScore:
		reqs = append(reqs, Requirement{
			Name:        "MuseScore",
			Command:     cfg.MuseScoreBinary(),
			Description: "Engraves MusicXML to PDF",
			Optional:    true,
		})
	case config.BackendLilypond:
		reqs = append(reqs,
			Requirement{
				Name:        "musicxml2ly",
				Command:     cfg.MusicXML2LYBinary(),
				Description: "Converts MusicXML to LilyPond source",
				Optional:    true,
			},
			Requirement{
				Name:        "LilyPond",
				Command:     cfg.LilypondBinary(),
				Description: "Engraves LilyPond source to PDF",
				Optional:    true,
			},
		)
	}
	return reqs
}

// Available reports whether a binary resolves on PATH.
func Available(command string) bool {
	command = strings.TrimSpace(command)
	if command == "" {
		return false
	}
	_, err := exec.LookPath(command)
	return err == nil
}
