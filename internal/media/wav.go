package media

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// Audio holds decoded mono PCM samples in the range [-1, 1].
type Audio struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the clip length in seconds.
func (a *Audio) Duration() float64 {
	if a.SampleRate == 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.SampleRate)
}

// Peak returns the largest absolute sample value.
func (a *Audio) Peak() float64 {
	peak := 0.0
	for _, s := range a.Samples {
		if v := math.Abs(s); v > peak {
			peak = v
		}
	}
	return peak
}

// Normalize scales samples so that the peak sits at the given level.
// Silent audio is returned unchanged.
func (a *Audio) Normalize(level float64) {
	peak := a.Peak()
	if peak == 0 {
		return
	}
	gain := level / peak
	for i := range a.Samples {
		a.Samples[i] *= gain
	}
}

// Resample converts the clip to the target rate with linear interpolation.
func (a *Audio) Resample(target int) *Audio {
	if target == a.SampleRate || len(a.Samples) == 0 {
		return &Audio{Samples: a.Samples, SampleRate: target}
	}
	ratio := float64(a.SampleRate) / float64(target)
	outLen := int(float64(len(a.Samples)) / ratio)
	out := make([]float64, outLen)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx+1 >= len(a.Samples) {
			out[i] = a.Samples[len(a.Samples)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = a.Samples[idx]*(1-frac) + a.Samples[idx+1]*frac
	}
	return &Audio{Samples: out, SampleRate: target}
}

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

// DecodeWAV reads a RIFF/WAVE stream and returns mono audio. Multi-channel
// input is downmixed by averaging.
func DecodeWAV(r io.Reader) (*Audio, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a wav stream")
	}

	var (
		format     uint16
		channels   int
		sampleRate int
		bits       int
		payload    []byte
	)
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("wav fmt chunk truncated")
			}
			format = binary.LittleEndian.Uint16(data[body : body+2])
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			payload = data[body : body+size]
		}
		offset = body + size
		if size%2 == 1 {
			offset++
		}
	}
	if channels == 0 || sampleRate == 0 {
		return nil, fmt.Errorf("wav header missing fmt chunk")
	}
	if payload == nil {
		return nil, fmt.Errorf("wav header missing data chunk")
	}

	frames, err := decodeFrames(payload, format, bits)
	if err != nil {
		return nil, err
	}
	mono := downmix(frames, channels)
	return &Audio{Samples: mono, SampleRate: sampleRate}, nil
}

func decodeFrames(payload []byte, format uint16, bits int) ([]float64, error) {
	switch {
	case format == wavFormatPCM && bits == 8:
		out := make([]float64, len(payload))
		for i, b := range payload {
			out[i] = (float64(b) - 128) / 128
		}
		return out, nil
	case format == wavFormatPCM && bits == 16:
		out := make([]float64, len(payload)/2)
		for i := range out {
			v := int16(binary.LittleEndian.Uint16(payload[i*2:]))
			out[i] = float64(v) / 32768
		}
		return out, nil
	case format == wavFormatPCM && bits == 24:
		out := make([]float64, len(payload)/3)
		for i := range out {
			b := payload[i*3 : i*3+3]
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 {
				v |= ^int32(0xFFFFFF)
			}
			out[i] = float64(v) / 8388608
		}
		return out, nil
	case format == wavFormatPCM && bits == 32:
		out := make([]float64, len(payload)/4)
		for i := range out {
			v := int32(binary.LittleEndian.Uint32(payload[i*4:]))
			out[i] = float64(v) / 2147483648
		}
		return out, nil
	case format == wavFormatFloat && bits == 32:
		out := make([]float64, len(payload)/4)
		for i := range out {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:])))
		}
		return out, nil
	case format == wavFormatFloat && bits == 64:
		out := make([]float64, len(payload)/8)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(payload[i*8:]))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported wav encoding: format %d with %d bits", format, bits)
}

func downmix(frames []float64, channels int) []float64 {
	if channels == 1 {
		return frames
	}
	out := make([]float64, len(frames)/channels)
	for i := range out {
		sum := 0.0
		for c := 0; c < channels; c++ {
			sum += frames[i*channels+c]
		}
		out[i] = sum / float64(channels)
	}
	return out
}

// WriteWAV16 writes mono samples as 16-bit PCM.
func WriteWAV16(path string, samples []float64, rate int) error {
	dataLen := len(samples) * 2
	buf := make([]byte, 44+dataLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], 1)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(rate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(rate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, s))
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(int16(v*32767)))
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return nil
}
