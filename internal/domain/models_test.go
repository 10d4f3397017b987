package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBandFor(t *testing.T) {
	tests := []struct {
		name     string
		score    float64
		expected RiskBand
	}{
		{"zero", 0, RiskLow},
		{"low upper bound", 30, RiskLow},
		{"rounds down into low", 30.4, RiskLow},
		{"rounds up into medium", 30.5, RiskMedium},
		{"medium lower bound", 31, RiskMedium},
		{"medium", 40, RiskMedium},
		{"medium upper bound", 70, RiskMedium},
		{"high lower bound", 71, RiskHigh},
		{"high", 85, RiskHigh},
		{"max", 100, RiskHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BandFor(tt.score))
		})
	}
}

func TestThreatSnapshot_CloneIsIndependent(t *testing.T) {
	orig := ThreatSnapshot{
		Channels: []ChannelState{{Channel: ChannelAudio, Status: StatusActive, Score: 10}},
		Findings: []URLFinding{{URL: "http://1.2.3.4", Flags: []RuleID{"ip_literal_host"}}},
	}

	clone := orig.Clone()
	clone.Channels[0].Score = 99
	clone.Findings[0].Flags[0] = "changed"

	assert.Equal(t, float64(10), orig.Channels[0].Score)
	assert.Equal(t, RuleID("ip_literal_host"), orig.Findings[0].Flags[0])
}

func TestThreatSnapshot_Channel(t *testing.T) {
	s := ThreatSnapshot{Channels: []ChannelState{{Channel: ChannelThermal, Score: 5}}}

	st, ok := s.Channel(ChannelThermal)
	assert.True(t, ok)
	assert.Equal(t, float64(5), st.Score)

	_, ok = s.Channel(ChannelEmail)
	assert.False(t, ok)
}

func TestConfigError_UnwrapsToErrConfiguration(t *testing.T) {
	err := NewConfigError("thermal.window_size", "must be positive")

	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Contains(t, err.Error(), "thermal.window_size")
}

func TestFrequencyBand_Contains(t *testing.T) {
	assert.True(t, UltrasonicBand.Contains(15000))
	assert.True(t, UltrasonicBand.Contains(20000))
	assert.False(t, UltrasonicBand.Contains(14999.9))
	assert.False(t, UltrasonicBand.Contains(20000.1))
}

func TestThermalReading_Load(t *testing.T) {
	low, high := 30.0, 70.0

	assert.Equal(t, 42.0, ThermalReading{CPULoad: 42}.Load())
	assert.Equal(t, 42.0, ThermalReading{CPULoad: 42, BatteryProxy: &low}.Load())
	assert.Equal(t, 70.0, ThermalReading{CPULoad: 42, BatteryProxy: &high}.Load())
}
