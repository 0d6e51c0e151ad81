package media

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
)

// TicksPerQuarter is the pulse resolution used for every file this package
// writes.
const TicksPerQuarter = 480

// Note is a single pitched event with beat-based timing.
type Note struct {
	Pitch    int
	Velocity int
	Start    float64
	Duration float64
}

// Sequence is a tempo plus an ordered list of notes.
type Sequence struct {
	TempoBPM float64
	Notes    []Note
}

// End returns the beat position where the last note ends.
func (s *Sequence) End() float64 {
	end := 0.0
	for _, n := range s.Notes {
		if v := n.Start + n.Duration; v > end {
			end = v
		}
	}
	return end
}

type midiEvent struct {
	tick  int
	order int
	data  []byte
}

// WriteSMF writes the sequence as a type-0 standard MIDI file.
func WriteSMF(path string, seq *Sequence) error {
	tempo := seq.TempoBPM
	if tempo <= 0 {
		tempo = 120
	}
	usPerQuarter := int(60_000_000 / tempo)

	events := []midiEvent{{
		tick: 0,
		data: []byte{0xFF, 0x51, 0x03, byte(usPerQuarter >> 16), byte(usPerQuarter >> 8), byte(usPerQuarter)},
	}}
	for _, n := range seq.Notes {
		on := int(n.Start * TicksPerQuarter)
		off := int((n.Start + n.Duration) * TicksPerQuarter)
		if off <= on {
			off = on + 1
		}
		vel := n.Velocity
		if vel <= 0 || vel > 127 {
			vel = 90
		}
		events = append(events,
			midiEvent{tick: on, order: 1, data: []byte{0x90, byte(n.Pitch), byte(vel)}},
			midiEvent{tick: off, order: 0, data: []byte{0x80, byte(n.Pitch), 0}},
		)
	}
	// Note-offs sort before note-ons at the same tick so adjacent notes of
	// the same pitch do not overlap.
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].tick != events[j].tick {
			return events[i].tick < events[j].tick
		}
		return events[i].order < events[j].order
	})

	var track []byte
	prev := 0
	for _, ev := range events {
		track = append(track, encodeVarLen(ev.tick-prev)...)
		track = append(track, ev.data...)
		prev = ev.tick
	}
	track = append(track, encodeVarLen(0)...)
	track = append(track, 0xFF, 0x2F, 0x00)

	buf := make([]byte, 0, 14+8+len(track))
	buf = append(buf, "MThd"...)
	buf = binary.BigEndian.AppendUint32(buf, 6)
	buf = binary.BigEndian.AppendUint16(buf, 0)
	buf = binary.BigEndian.AppendUint16(buf, 1)
	buf = binary.BigEndian.AppendUint16(buf, TicksPerQuarter)
	buf = append(buf, "MTrk"...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(track)))
	buf = append(buf, track...)

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write midi: %w", err)
	}
	return nil
}

// ReadSMF parses a standard MIDI file back into a Sequence. The first tempo
// event wins; pitch bends, controllers, and other channel traffic are skipped.
func ReadSMF(path string) (*Sequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read midi: %w", err)
	}
	if len(data) < 14 || string(data[0:4]) != "MThd" {
		return nil, fmt.Errorf("not a midi file")
	}
	tracks := int(binary.BigEndian.Uint16(data[10:12]))
	division := int(binary.BigEndian.Uint16(data[12:14]))
	if division&0x8000 != 0 {
		return nil, fmt.Errorf("smpte time division not supported")
	}

	seq := &Sequence{TempoBPM: 120}
	tempoSet := false
	offset := 14
	for t := 0; t < tracks && offset+8 <= len(data); t++ {
		if string(data[offset:offset+4]) != "MTrk" {
			return nil, fmt.Errorf("midi track %d has bad chunk id", t)
		}
		length := int(binary.BigEndian.Uint32(data[offset+4 : offset+8]))
		if length > len(data)-offset-8 {
			return nil, fmt.Errorf("midi track %d truncated: declares %d bytes, %d remain", t, length, len(data)-offset-8)
		}
		body := data[offset+8 : offset+8+length]
		notes, tempo, err := parseTrack(body, division)
		if err != nil {
			return nil, fmt.Errorf("midi track %d: %w", t, err)
		}
		seq.Notes = append(seq.Notes, notes...)
		if tempo > 0 && !tempoSet {
			seq.TempoBPM = tempo
			tempoSet = true
		}
		offset += 8 + length
	}
	sort.SliceStable(seq.Notes, func(i, j int) bool {
		if seq.Notes[i].Start != seq.Notes[j].Start {
			return seq.Notes[i].Start < seq.Notes[j].Start
		}
		return seq.Notes[i].Pitch < seq.Notes[j].Pitch
	})
	return seq, nil
}

func parseTrack(body []byte, division int) ([]Note, float64, error) {
	var (
		notes   []Note
		tempo   float64
		tick    int
		status  byte
		pos     int
		pending [128][]Note
	)
	for pos < len(body) {
		delta, n, err := decodeVarLen(body[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += n
		tick += delta
		if pos >= len(body) {
			break
		}

		b := body[pos]
		if b >= 0x80 {
			status = b
			pos++
		}
		switch {
		case status == 0xFF:
			if pos+1 >= len(body) {
				return nil, 0, fmt.Errorf("truncated meta event")
			}
			metaType := body[pos]
			length, n, err := decodeVarLen(body[pos+1:])
			if err != nil {
				return nil, 0, err
			}
			if length > len(body)-pos-1-n {
				return nil, 0, fmt.Errorf("truncated meta event")
			}
			payload := body[pos+1+n : pos+1+n+length]
			if metaType == 0x51 && length == 3 {
				us := int(payload[0])<<16 | int(payload[1])<<8 | int(payload[2])
				if us > 0 {
					tempo = 60_000_000 / float64(us)
				}
			}
			pos += 1 + n + length
		case status == 0xF0 || status == 0xF7:
			length, n, err := decodeVarLen(body[pos:])
			if err != nil {
				return nil, 0, err
			}
			pos += n + length
		default:
			kind := status & 0xF0
			size := 2
			if kind == 0xC0 || kind == 0xD0 {
				size = 1
			}
			if pos+size > len(body) {
				return nil, 0, fmt.Errorf("truncated channel event")
			}
			d1 := body[pos]
			var d2 byte
			if size == 2 {
				d2 = body[pos+1]
			}
			pos += size

			switch {
			case kind == 0x90 && d2 > 0:
				pending[d1&0x7F] = append(pending[d1&0x7F], Note{
					Pitch:    int(d1),
					Velocity: int(d2),
					Start:    float64(tick) / float64(division),
				})
			case kind == 0x80 || (kind == 0x90 && d2 == 0):
				stack := pending[d1&0x7F]
				if len(stack) > 0 {
					note := stack[len(stack)-1]
					pending[d1&0x7F] = stack[:len(stack)-1]
					note.Duration = float64(tick)/float64(division) - note.Start
					if note.Duration > 0 {
						notes = append(notes, note)
					}
				}
			}
		}
	}
	return notes, tempo, nil
}

func encodeVarLen(v int) []byte {
	if v == 0 {
		return []byte{0}
	}
	var chunks []byte
	for v > 0 {
		chunks = append(chunks, byte(v&0x7F))
		v >>= 7
	}
	out := make([]byte, 0, len(chunks))
	for i := len(chunks) - 1; i >= 0; i-- {
		b := chunks[i]
		if i > 0 {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

func decodeVarLen(data []byte) (value, size int, err error) {
	for i := 0; i < len(data) && i < 4; i++ {
		value = value<<7 | int(data[i]&0x7F)
		if data[i]&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("unterminated variable-length quantity")
}
