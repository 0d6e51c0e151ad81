package jobs_test

import (
	"errors"
	"testing"

	"scoreforge/internal/jobs"
	"scoreforge/internal/services"
)

func TestOptionsNormalizeFillsDefaults(t *testing.T) {
	opts := jobs.Options{}
	opts.Normalize()
	if opts.Clef != jobs.ClefTreble {
		t.Errorf("clef = %s, want treble", opts.Clef)
	}
	if opts.Instrument != "piano" {
		t.Errorf("instrument = %s, want piano", opts.Instrument)
	}
	if opts.Quantization != jobs.GridEighth {
		t.Errorf("quantization = %s, want eighth", opts.Quantization)
	}
}

func TestOptionsValidate(t *testing.T) {
	good := jobs.DefaultOptions()
	if err := good.Validate(); err != nil {
		t.Fatalf("default options invalid: %v", err)
	}

	bad := jobs.DefaultOptions()
	bad.Clef = "soprano"
	err := bad.Validate()
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("bad clef error = %v, want validation", err)
	}

	bad = jobs.DefaultOptions()
	bad.Quantization = "triplet"
	if err := bad.Validate(); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("bad grid error = %v, want validation", err)
	}

	bad = jobs.DefaultOptions()
	bad.TempoBPM = 300
	if err := bad.Validate(); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("bad tempo error = %v, want validation", err)
	}

	slow := jobs.DefaultOptions()
	slow.TempoBPM = 40
	if err := slow.Validate(); err != nil {
		t.Fatalf("tempo 40 should be accepted: %v", err)
	}

	bad = jobs.DefaultOptions()
	bad.ForceKey = "H major"
	if err := bad.Validate(); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("bad key error = %v, want validation", err)
	}
}

func TestGridBeats(t *testing.T) {
	cases := map[jobs.Grid]float64{
		jobs.GridQuarter:   1.0,
		jobs.GridEighth:    0.5,
		jobs.GridSixteenth: 0.25,
	}
	for grid, want := range cases {
		if got := grid.Beats(); got != want {
			t.Errorf("%s beats = %f, want %f", grid, got, want)
		}
	}
}

func TestParseKey(t *testing.T) {
	cases := []struct {
		in     string
		fifths int
		mode   string
	}{
		{"C", 0, "major"},
		{"G major", 1, "major"},
		{"D", 2, "major"},
		{"F", -1, "major"},
		{"Bb major", -2, "major"},
		{"F# minor", 3, "minor"},
		{"A minor", 0, "minor"},
		{"Am", 0, "minor"},
		{"c minor", -3, "minor"},
	}
	for _, tc := range cases {
		fifths, mode, err := jobs.ParseKey(tc.in)
		if err != nil {
			t.Errorf("ParseKey(%q): %v", tc.in, err)
			continue
		}
		if fifths != tc.fifths || mode != tc.mode {
			t.Errorf("ParseKey(%q) = (%d, %s), want (%d, %s)", tc.in, fifths, mode, tc.fifths, tc.mode)
		}
	}

	if _, _, err := jobs.ParseKey("X major"); !errors.Is(err, services.ErrValidation) {
		t.Errorf("invalid key error = %v, want validation", err)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	if jobs.StatusQueued.IsTerminal() || jobs.StatusRunning.IsTerminal() {
		t.Error("active statuses must not be terminal")
	}
	if !jobs.StatusDone.IsTerminal() || !jobs.StatusError.IsTerminal() {
		t.Error("done and error must be terminal")
	}
}
