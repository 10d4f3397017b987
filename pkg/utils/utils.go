package utils

import (
	"math"
	"math/rand"

	"github.com/google/uuid"
)

func NewUUID() uuid.UUID {
	return uuid.New()
}

func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// Tone синусоида частоты hz с амплитудой amplitude
type Tone struct {
	Hz        float64
	Amplitude float64
}

// GenerateTone генерит size отсчётов суммы тонов, начиная с отсчёта offset
func GenerateTone(sampleRate, size int, offset int64, tones ...Tone) []float64 {
	out := make([]float64, size)
	for i := range out {
		t := float64(offset+int64(i)) / float64(sampleRate)
		var v float64
		for _, tone := range tones {
			v += tone.Amplitude * math.Sin(2*math.Pi*tone.Hz*t)
		}
		out[i] = clamp(v)
	}
	return out
}

// AddNoise добавляет равномерный шум амплитуды level
func AddNoise(samples []float64, level float64, rnd *rand.Rand) []float64 {
	for i := range samples {
		samples[i] = clamp(samples[i] + level*(2*rnd.Float64()-1))
	}
	return samples
}

// Interleave склеивает моно-каналы в чередующийся буфер
func Interleave(channels ...[]float64) []float64 {
	if len(channels) == 0 {
		return nil
	}
	n := len(channels[0])
	out := make([]float64, 0, n*len(channels))
	for i := 0; i < n; i++ {
		for _, ch := range channels {
			out = append(out, ch[i])
		}
	}
	return out
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
