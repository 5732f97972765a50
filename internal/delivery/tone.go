package delivery

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/user/mediasync/internal/types"
)

// Waveform selects the oscillator shape of a tone.
type Waveform int

const (
	Sine Waveform = iota
	Triangle
	Square
)

// Note is one segment of a cue.
type Note struct {
	Freq     float64
	Duration float64 // seconds
	Wave     Waveform
}

// Cue is a short sequence of notes with a shared envelope.
type Cue struct {
	Notes  []Note
	Attack float64 // seconds
	Decay  float64 // seconds of release at the end of each note
	Gain   float64 // 0..1
}

// CueFor picks the audible cue for an event category: a rising major third
// for success, a falling square-wave pair for failure and a single soft
// blip otherwise.
func CueFor(cat types.Category) Cue {
	switch cat {
	case types.CategorySuccess:
		return Cue{
			Notes:  []Note{{Freq: 659.25, Duration: 0.12, Wave: Sine}, {Freq: 830.61, Duration: 0.18, Wave: Sine}},
			Attack: 0.01, Decay: 0.08, Gain: 0.5,
		}
	case types.CategoryFailure:
		return Cue{
			Notes:  []Note{{Freq: 311.13, Duration: 0.15, Wave: Square}, {Freq: 233.08, Duration: 0.25, Wave: Square}},
			Attack: 0.005, Decay: 0.1, Gain: 0.25,
		}
	default:
		return Cue{
			Notes:  []Note{{Freq: 523.25, Duration: 0.1, Wave: Triangle}},
			Attack: 0.01, Decay: 0.06, Gain: 0.4,
		}
	}
}

// Synthesize renders c as signed 16-bit mono PCM.
func Synthesize(c Cue, sampleRate int) []int16 {
	var out []int16
	for _, n := range c.Notes {
		total := int(n.Duration * float64(sampleRate))
		attack := int(c.Attack * float64(sampleRate))
		decay := int(c.Decay * float64(sampleRate))
		for i := 0; i < total; i++ {
			t := float64(i) / float64(sampleRate)
			v := oscillate(n.Wave, 2*math.Pi*n.Freq*t)

			env := 1.0
			if attack > 0 && i < attack {
				env = float64(i) / float64(attack)
			}
			if remaining := total - i; decay > 0 && remaining < decay {
				env = math.Min(env, float64(remaining)/float64(decay))
			}
			out = append(out, int16(v*env*c.Gain*math.MaxInt16))
		}
	}
	return out
}

func oscillate(w Waveform, phase float64) float64 {
	switch w {
	case Square:
		if math.Sin(phase) >= 0 {
			return 1
		}
		return -1
	case Triangle:
		return 2 / math.Pi * math.Asin(math.Sin(phase))
	default:
		return math.Sin(phase)
	}
}

// WriteWAV encodes samples as a 16-bit mono PCM RIFF/WAVE stream.
func WriteWAV(w io.Writer, samples []int16, sampleRate int) error {
	dataLen := uint32(len(samples) * 2)
	header := struct {
		RIFF          [4]byte
		ChunkSize     uint32
		WAVE          [4]byte
		Fmt           [4]byte
		FmtSize       uint32
		AudioFormat   uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Data          [4]byte
		DataSize      uint32
	}{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataLen,
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataLen,
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, samples)
}
