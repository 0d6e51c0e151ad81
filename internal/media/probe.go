package media

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"scoreforge/internal/services"
)

// Format identifies a supported audio container.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatM4A  Format = "m4a"
	FormatFLAC Format = "flac"
)

// Extension returns the canonical file extension including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// Sniff identifies the container from the leading bytes of an upload.
func Sniff(data []byte) (Format, bool) {
	if len(data) < 12 {
		return "", false
	}
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV, true
	case bytes.HasPrefix(data, []byte("fLaC")):
		return FormatFLAC, true
	case bytes.Equal(data[4:8], []byte("ftyp")):
		return FormatM4A, true
	case bytes.HasPrefix(data, []byte("ID3")):
		return FormatMP3, true
	case data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3, true
	}
	return "", false
}

// ProbeDuration estimates the duration in seconds of an audio file without
// decoding its payload. WAV and FLAC are exact; MP3 assumes constant bitrate;
// M4A reads the movie header.
func ProbeDuration(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read audio: %w", err)
	}
	return DurationFromBytes(data)
}

// DurationFromBytes is ProbeDuration for an in-memory upload.
func DurationFromBytes(data []byte) (float64, error) {
	format, ok := Sniff(data)
	if !ok {
		return 0, services.Wrap(services.ErrValidation, "probe", "sniff", "unrecognized audio container", nil)
	}
	switch format {
	case FormatWAV:
		return wavDuration(data)
	case FormatFLAC:
		return flacDuration(data)
	case FormatMP3:
		return mp3Duration(data)
	case FormatM4A:
		return m4aDuration(data)
	}
	return 0, services.Wrap(services.ErrValidation, "probe", "sniff", "unrecognized audio container", nil)
}

func wavDuration(data []byte) (float64, error) {
	var byteRate uint32
	var dataLen uint32
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		body := offset + 8
		switch id {
		case "fmt ":
			if body+16 > len(data) {
				return 0, fmt.Errorf("wav fmt chunk truncated")
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			dataLen = size
		}
		offset = body + int(size)
		if size%2 == 1 {
			offset++
		}
	}
	if byteRate == 0 || dataLen == 0 {
		return 0, fmt.Errorf("wav header missing fmt or data chunk")
	}
	return float64(dataLen) / float64(byteRate), nil
}

func flacDuration(data []byte) (float64, error) {
	// STREAMINFO is mandatory and always the first metadata block.
	if len(data) < 4+4+18 {
		return 0, fmt.Errorf("flac stream truncated")
	}
	info := data[8:]
	sampleRate := uint32(info[10])<<12 | uint32(info[11])<<4 | uint32(info[12])>>4
	totalSamples := uint64(info[13]&0x0F)<<32 |
		uint64(info[14])<<24 | uint64(info[15])<<16 | uint64(info[16])<<8 | uint64(info[17])
	if sampleRate == 0 {
		return 0, fmt.Errorf("flac streaminfo has zero sample rate")
	}
	return float64(totalSamples) / float64(sampleRate), nil
}

var mp3Bitrates = [...]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320}

func mp3Duration(data []byte) (float64, error) {
	offset := 0
	if bytes.HasPrefix(data, []byte("ID3")) && len(data) > 10 {
		// Syncsafe tag size.
		size := int(data[6]&0x7F)<<21 | int(data[7]&0x7F)<<14 | int(data[8]&0x7F)<<7 | int(data[9]&0x7F)
		offset = 10 + size
	}
	for offset+4 < len(data) {
		if data[offset] == 0xFF && data[offset+1]&0xE0 == 0xE0 {
			break
		}
		offset++
	}
	if offset+4 >= len(data) {
		return 0, fmt.Errorf("mp3 frame sync not found")
	}
	idx := int(data[offset+2] >> 4)
	if idx <= 0 || idx >= len(mp3Bitrates) {
		return 0, fmt.Errorf("mp3 frame has invalid bitrate index")
	}
	bitrate := mp3Bitrates[idx] * 1000
	payload := len(data) - offset
	return float64(payload) * 8 / float64(bitrate), nil
}

func m4aDuration(data []byte) (float64, error) {
	moov, ok := findBox(data, "moov")
	if !ok {
		return 0, fmt.Errorf("m4a moov box not found")
	}
	mvhd, ok := findBox(moov, "mvhd")
	if !ok {
		return 0, fmt.Errorf("m4a mvhd box not found")
	}
	if len(mvhd) < 20 {
		return 0, fmt.Errorf("m4a mvhd box truncated")
	}
	version := mvhd[0]
	if version == 1 {
		if len(mvhd) < 28 {
			return 0, fmt.Errorf("m4a mvhd box truncated")
		}
		timescale := binary.BigEndian.Uint32(mvhd[20:24])
		duration := binary.BigEndian.Uint64(mvhd[24:32])
		if timescale == 0 {
			return 0, fmt.Errorf("m4a mvhd has zero timescale")
		}
		return float64(duration) / float64(timescale), nil
	}
	timescale := binary.BigEndian.Uint32(mvhd[12:16])
	duration := binary.BigEndian.Uint32(mvhd[16:20])
	if timescale == 0 {
		return 0, fmt.Errorf("m4a mvhd has zero timescale")
	}
	return float64(duration) / float64(timescale), nil
}

func findBox(data []byte, name string) ([]byte, bool) {
	offset := 0
	for offset+8 <= len(data) {
		size := int(binary.BigEndian.Uint32(data[offset : offset+4]))
		boxName := string(data[offset+4 : offset+8])
		if size < 8 || offset+size > len(data) {
			return nil, false
		}
		if boxName == name {
			return data[offset+8 : offset+size], true
		}
		offset += size
	}
	return nil, false
}
