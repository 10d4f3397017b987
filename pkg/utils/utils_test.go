package utils

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateTone(t *testing.T) {
	samples := GenerateTone(48000, 480, 0, Tone{Hz: 1000, Amplitude: 1})
	assert.Len(t, samples, 480)
	assert.InDelta(t, 0, samples[0], 1e-9)

	// четверть периода 1 кГц при 48 кГц = 12 отсчётов
	assert.InDelta(t, 1, samples[12], 1e-9)

	for _, v := range samples {
		assert.True(t, v >= -1 && v <= 1)
	}
}

func TestGenerateTone_Clamps(t *testing.T) {
	samples := GenerateTone(48000, 100, 0, Tone{Hz: 1000, Amplitude: 1}, Tone{Hz: 1000, Amplitude: 1})
	for _, v := range samples {
		assert.True(t, v >= -1 && v <= 1)
	}
}

func TestAddNoise(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	samples := AddNoise(make([]float64, 1000), 0.1, rnd)

	for _, v := range samples {
		assert.True(t, v >= -0.1 && v <= 0.1)
	}
}

func TestInterleave(t *testing.T) {
	out := Interleave([]float64{1, 2}, []float64{3, 4})
	assert.Equal(t, []float64{1, 3, 2, 4}, out)
	assert.Nil(t, Interleave())
}

func TestNewUUID(t *testing.T) {
	uuid := NewUUID()
	assert.NotEmpty(t, uuid.String())
	assert.True(t, IsValidUUID(uuid.String()))
	assert.False(t, IsValidUUID("not-a-uuid"))
}
