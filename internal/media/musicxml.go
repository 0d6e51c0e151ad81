package media

import (
	"encoding/xml"
	"fmt"
	"math"
	"os"
)

// ScoreNote is one element of a flat note stream destined for MusicXML.
// Beats is the notated duration in quarter-note units.
type ScoreNote struct {
	Step   string
	Alter  int
	Octave int
	Beats  float64
	Rest   bool
	Chord  bool
}

// Score carries everything the MusicXML writer needs for a single-part
// engraving.
type Score struct {
	Title           string
	PartName        string
	Clef            string
	KeyFifths       int
	Mode            string
	BeatsPerMeasure int
	BeatType        int
	TempoBPM        int
	Notes           []ScoreNote
}

const musicxmlDivisions = 4

var noteSteps = [12]struct {
	step  string
	alter int
}{
	{"C", 0}, {"C", 1}, {"D", 0}, {"D", 1}, {"E", 0}, {"F", 0},
	{"F", 1}, {"G", 0}, {"G", 1}, {"A", 0}, {"A", 1}, {"B", 0},
}

// PitchToScoreNote maps a MIDI pitch number to step, alter, and octave.
// Sharps are preferred; a downstream engraver respells as needed.
func PitchToScoreNote(pitch int, beats float64) ScoreNote {
	entry := noteSteps[((pitch%12)+12)%12]
	return ScoreNote{
		Step:   entry.step,
		Alter:  entry.alter,
		Octave: pitch/12 - 1,
		Beats:  beats,
	}
}

type xmlWork struct {
	Title string `xml:"work-title"`
}

type xmlScorePart struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"part-name"`
}

type xmlPartList struct {
	Parts []xmlScorePart `xml:"score-part"`
}

type xmlKey struct {
	Fifths int    `xml:"fifths"`
	Mode   string `xml:"mode,omitempty"`
}

type xmlTime struct {
	Beats    int `xml:"beats"`
	BeatType int `xml:"beat-type"`
}

type xmlClef struct {
	Sign string `xml:"sign"`
	Line int    `xml:"line"`
}

type xmlAttributes struct {
	Divisions int      `xml:"divisions"`
	Key       *xmlKey  `xml:"key,omitempty"`
	Time      *xmlTime `xml:"time,omitempty"`
	Clef      *xmlClef `xml:"clef,omitempty"`
}

type xmlMetronome struct {
	BeatUnit  string `xml:"beat-unit"`
	PerMinute int    `xml:"per-minute"`
}

type xmlDirectionType struct {
	Metronome *xmlMetronome `xml:"metronome,omitempty"`
}

type xmlDirection struct {
	Placement string           `xml:"placement,attr,omitempty"`
	Type      xmlDirectionType `xml:"direction-type"`
	Sound     *xmlSound        `xml:"sound,omitempty"`
}

type xmlSound struct {
	Tempo int `xml:"tempo,attr"`
}

type xmlPitch struct {
	Step   string `xml:"step"`
	Alter  int    `xml:"alter,omitempty"`
	Octave int    `xml:"octave"`
}

type xmlNote struct {
	Chord    *struct{} `xml:"chord,omitempty"`
	Rest     *struct{} `xml:"rest,omitempty"`
	Pitch    *xmlPitch `xml:"pitch,omitempty"`
	Duration int       `xml:"duration"`
	Type     string    `xml:"type,omitempty"`
}

type xmlMeasure struct {
	Number     int            `xml:"number,attr"`
	Attributes *xmlAttributes `xml:"attributes,omitempty"`
	Direction  *xmlDirection  `xml:"direction,omitempty"`
	Notes      []xmlNote      `xml:"note"`
}

type xmlPart struct {
	ID       string       `xml:"id,attr"`
	Measures []xmlMeasure `xml:"measure"`
}

type xmlScore struct {
	XMLName  xml.Name    `xml:"score-partwise"`
	Version  string      `xml:"version,attr"`
	Work     *xmlWork    `xml:"work,omitempty"`
	PartList xmlPartList `xml:"part-list"`
	Parts    []xmlPart   `xml:"part"`
}

func clefMark(clef string) *xmlClef {
	switch clef {
	case "bass":
		return &xmlClef{Sign: "F", Line: 4}
	case "alto":
		return &xmlClef{Sign: "C", Line: 3}
	case "tenor":
		return &xmlClef{Sign: "C", Line: 4}
	default:
		return &xmlClef{Sign: "G", Line: 2}
	}
}

func noteType(beats float64) string {
	switch {
	case beats >= 4:
		return "whole"
	case beats >= 2:
		return "half"
	case beats >= 1:
		return "quarter"
	case beats >= 0.5:
		return "eighth"
	default:
		return "16th"
	}
}

// WriteMusicXML writes the score as a partwise MusicXML 3.1 document. The
// flat note stream is cut into measures; a note crossing the barline is
// truncated rather than tied.
func WriteMusicXML(path string, s *Score) error {
	beatsPerMeasure := s.BeatsPerMeasure
	if beatsPerMeasure <= 0 {
		beatsPerMeasure = 4
	}
	beatType := s.BeatType
	if beatType <= 0 {
		beatType = 4
	}
	measureDiv := beatsPerMeasure * musicxmlDivisions

	var measures []xmlMeasure
	current := xmlMeasure{Number: 1}
	used := 0
	flush := func() {
		if used < measureDiv {
			current.Notes = append(current.Notes, xmlNote{
				Rest:     &struct{}{},
				Duration: measureDiv - used,
			})
		}
		measures = append(measures, current)
		current = xmlMeasure{Number: len(measures) + 1}
		used = 0
	}
	for _, n := range s.Notes {
		div := int(math.Round(n.Beats * musicxmlDivisions))
		if div <= 0 {
			div = 1
		}
		for div > 0 {
			take := div
			if !n.Chord && take > measureDiv-used {
				take = measureDiv - used
			}
			note := xmlNote{Duration: take, Type: noteType(float64(take) / musicxmlDivisions)}
			if n.Rest {
				note.Rest = &struct{}{}
			} else {
				note.Pitch = &xmlPitch{Step: n.Step, Alter: n.Alter, Octave: n.Octave}
				if n.Chord {
					note.Chord = &struct{}{}
				}
			}
			current.Notes = append(current.Notes, note)
			if !n.Chord {
				used += take
			}
			div -= take
			if used >= measureDiv {
				flush()
				// The carried remainder continues as a plain note.
				n.Chord = false
			}
		}
	}
	if len(current.Notes) > 0 || len(measures) == 0 {
		flush()
	}

	tempo := s.TempoBPM
	if tempo <= 0 {
		tempo = 120
	}
	measures[0].Attributes = &xmlAttributes{
		Divisions: musicxmlDivisions,
		Key:       &xmlKey{Fifths: s.KeyFifths, Mode: s.Mode},
		Time:      &xmlTime{Beats: beatsPerMeasure, BeatType: beatType},
		Clef:      clefMark(s.Clef),
	}
	measures[0].Direction = &xmlDirection{
		Placement: "above",
		Type:      xmlDirectionType{Metronome: &xmlMetronome{BeatUnit: "quarter", PerMinute: tempo}},
		Sound:     &xmlSound{Tempo: tempo},
	}

	partName := s.PartName
	if partName == "" {
		partName = "Music"
	}
	doc := xmlScore{
		Version:  "3.1",
		PartList: xmlPartList{Parts: []xmlScorePart{{ID: "P1", Name: partName}}},
		Parts:    []xmlPart{{ID: "P1", Measures: measures}},
	}
	if s.Title != "" {
		doc.Work = &xmlWork{Title: s.Title}
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal musicxml: %w", err)
	}
	out := append([]byte(xml.Header), body...)
	out = append(out, '\n')
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write musicxml: %w", err)
	}
	return nil
}
