package score

import "scoreforge/internal/media"

// Krumhansl-Schmuckler key profiles.
var (
	majorProfile = [12]float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minorProfile = [12]float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

var (
	sharpNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}
	flatNames  = [12]string{"C", "Db", "D", "Eb", "E", "F", "Gb", "G", "Ab", "A", "Bb", "B"}
)

// DetectKey estimates the key of a note sequence by correlating a
// duration-weighted pitch-class histogram against the Krumhansl profiles for
// all 24 keys. Empty input reports C major.
func DetectKey(notes []media.Note) (fifths int, mode, name string) {
	var histogram [12]float64
	for _, n := range notes {
		weight := n.Duration
		if weight <= 0 {
			weight = 0.25
		}
		histogram[((n.Pitch%12)+12)%12] += weight
	}

	bestScore := 0.0
	bestPC := 0
	bestMode := "major"
	found := false
	for pc := 0; pc < 12; pc++ {
		if major := correlate(histogram, majorProfile, pc); !found || major > bestScore {
			bestScore, bestPC, bestMode, found = major, pc, "major", true
		}
		if minor := correlate(histogram, minorProfile, pc); minor > bestScore {
			bestScore, bestPC, bestMode = minor, pc, "minor"
		}
	}

	fifths = fifthsForTonic(bestPC, bestMode)
	return fifths, bestMode, KeyName(bestPC, bestMode, fifths)
}

func correlate(histogram, profile [12]float64, tonic int) float64 {
	sum := 0.0
	for pc := 0; pc < 12; pc++ {
		sum += histogram[(pc+tonic)%12] * profile[pc]
	}
	return sum
}

func fifthsForTonic(pc int, mode string) int {
	if mode == "minor" {
		pc = (pc + 3) % 12
	}
	f := (pc * 7) % 12
	if f > 6 {
		f -= 12
	}
	return f
}

// KeyName renders a tonic pitch class and mode as a display name, spelling
// the tonic with flats when the signature is flat-side.
func KeyName(pc int, mode string, fifths int) string {
	names := sharpNames
	if fifths < 0 {
		names = flatNames
	}
	return names[pc] + " " + mode
}

// TonicForFifths inverts a circle-of-fifths count back to a tonic pitch
// class for the given mode.
func TonicForFifths(fifths int, mode string) int {
	pc := ((fifths * 7) % 12 + 12) % 12
	if mode == "minor" {
		pc = (pc + 9) % 12
	}
	return pc
}
