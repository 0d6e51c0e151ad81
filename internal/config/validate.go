package config

import (
	"errors"
	"fmt"
	"strings"
)

var validBackends = map[string]struct{}{
	BackendLilypond:    {},
	BackendMuseScore:   {},
	BackendPlaceholder: {},
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.StorageDir) == "" {
		problems = append(problems, "paths.storage_dir must not be empty")
	}
	if strings.TrimSpace(c.Bind) == "" {
		problems = append(problems, "paths.bind must not be empty")
	}
	if c.Pipeline.Workers < 1 {
		problems = append(problems, "pipeline.workers must be at least 1")
	}
	if c.Pipeline.PollInterval < 1 {
		problems = append(problems, "pipeline.poll_interval must be at least 1 second")
	}
	if c.Pipeline.SweepInterval < 1 {
		problems = append(problems, "pipeline.sweep_interval must be at least 1 second")
	}
	for name, value := range map[string]int{
		"pipeline.stage_timeout":      c.Pipeline.StageTimeout,
		"pipeline.transcribe_timeout": c.Pipeline.TranscribeTimeout,
		"pipeline.engrave_timeout":    c.Pipeline.EngraveTimeout,
	} {
		if value < 1 {
			problems = append(problems, fmt.Sprintf("%s must be at least 1 second", name))
		}
	}
	if _, ok := validBackends[c.Engraving.Backend]; !ok {
		problems = append(problems, fmt.Sprintf("engraving.backend %q is not one of lilypond, musescore, placeholder", c.Engraving.Backend))
	}
	if c.MaxUploadMiB < 1 {
		problems = append(problems, "limits.max_upload_mib must be at least 1")
	}
	if c.MaxDurationSeconds < 1 {
		problems = append(problems, "limits.max_duration_seconds must be at least 1")
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
