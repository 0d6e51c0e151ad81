package config

import "time"

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Poll returns the queue poll interval.
func (p Pipeline) Poll() time.Duration { return seconds(p.PollInterval) }

// Sweep returns the artifact sweep interval.
func (p Pipeline) Sweep() time.Duration { return seconds(p.SweepInterval) }

// Timeout returns the wall-clock budget for a default pipeline stage.
func (p Pipeline) Timeout() time.Duration { return seconds(p.StageTimeout) }

// TranscribeBudget returns the wall-clock budget for the transcribe stage,
// which runs a neural model and gets a larger allowance.
func (p Pipeline) TranscribeBudget() time.Duration { return seconds(p.TranscribeTimeout) }

// EngraveBudget returns the wall-clock budget for the engrave stage.
func (p Pipeline) EngraveBudget() time.Duration { return seconds(p.EngraveTimeout) }

// ErrorRetry returns the backoff applied after a poll cycle fails.
func (p Pipeline) ErrorRetry() time.Duration { return seconds(p.ErrorRetryInterval) }
