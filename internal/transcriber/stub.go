package transcriber

import (
	"context"

	"scoreforge/internal/media"
)

const stubEngineName = "built-in stub"

// stubPitches is an ascending C-major phrase, one note per half second.
var stubPitches = []int{60, 62, 64, 65, 67, 69, 71, 72}

// Stub is the last-resort engine. It emits a fixed phrase so a submission
// still yields a complete, engraveable score when no real engine can run.
type Stub struct{}

// NewStub constructs the built-in fallback engine.
func NewStub() *Stub {
	return &Stub{}
}

func (s *Stub) Name() string    { return stubEngineName }
func (s *Stub) Available() bool { return true }

func (s *Stub) Transcribe(ctx context.Context, wavPath string) (*media.Sequence, error) {
	notes := make([]media.Note, len(stubPitches))
	for i, pitch := range stubPitches {
		notes[i] = media.Note{
			Pitch:    pitch,
			Velocity: 90,
			Start:    float64(i) * 0.5,
			Duration: 0.5,
		}
	}
	return &media.Sequence{Notes: notes}, nil
}
