package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CoolE88/threat-sentry/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.RESTPort)
	assert.Equal(t, ":9090", cfg.GRPCPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, time.Duration(0), cfg.SessionDuration)
	assert.Empty(t, cfg.DBConfig.DBSource)
	assert.True(t, cfg.Audio.Enabled)
	assert.Equal(t, AudioSourceTone, cfg.Audio.Source)
	assert.Equal(t, 15000.0, cfg.Audio.BandLowHz)
	assert.Equal(t, 20000.0, cfg.Audio.BandHighHz)
	assert.True(t, cfg.Thermal.Enabled)
	assert.Equal(t, time.Second, cfg.Thermal.Interval)
	assert.Equal(t, 60, cfg.Thermal.Window)
	assert.False(t, cfg.Email.Enabled)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("REST_PORT", ":18080")
	t.Setenv("SESSION_DURATION", "90")
	t.Setenv("THERMAL_INTERVAL", "250ms")
	t.Setenv("AUDIO_SOURCE", "PCM")
	t.Setenv("AUDIO_QUIET_FLOOR", "0.05")
	t.Setenv("EMAIL_ENABLED", "true")
	t.Setenv("EMAIL_SPOOL_DIR", "/var/spool/threat")
	t.Setenv("HISTORY_SIZE", "120")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":18080", cfg.RESTPort)
	assert.Equal(t, 90*time.Second, cfg.SessionDuration)
	assert.Equal(t, 250*time.Millisecond, cfg.Thermal.Interval)
	assert.Equal(t, AudioSourcePCM, cfg.Audio.Source)
	assert.Equal(t, 0.05, cfg.Audio.QuietFloor)
	assert.True(t, cfg.Email.Enabled)
	assert.Equal(t, "/var/spool/threat", cfg.Email.SpoolDir)
	assert.Equal(t, 120, cfg.HistorySize)
}

func TestLoadConfig_InvalidEnvValues(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("THERMAL_WINDOW", "abc")
	t.Setenv("AUDIO_ENABLED", "maybe")
	t.Setenv("AUDIO_QUIET_FLOOR", "low")
	t.Setenv("SESSION_DURATION", "soon")

	cfg, err := LoadConfig()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))

	var cfgErr *domain.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "SESSION_DURATION", cfgErr.Field)

	// сообщаются все неразборчивые ключи сразу
	for _, key := range []string{"THERMAL_WINDOW", "AUDIO_ENABLED", "AUDIO_QUIET_FLOOR", "SESSION_DURATION"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestLoadConfig_FileOverlaysEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rest_port: ":7070"
session_duration: 5m
audio:
  enabled: false
thermal:
  interval: 2s
  window: 120
email:
  enabled: true
  spool_dir: /tmp/mail
  limit: 3
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("REST_PORT", ":18080")
	t.Setenv("GRPC_PORT", ":19090")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.RESTPort)
	assert.Equal(t, ":19090", cfg.GRPCPort)
	assert.Equal(t, 5*time.Minute, cfg.SessionDuration)
	assert.False(t, cfg.Audio.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Thermal.Interval)
	assert.Equal(t, 120, cfg.Thermal.Window)
	// ключей нет в файле: остаются значения из окружения/по умолчанию
	assert.Equal(t, 5, cfg.Thermal.MinSamples)
	assert.Equal(t, 3, cfg.Email.Limit)
}

func TestLoadConfig_BadFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := LoadConfig()
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("audio: [unclosed"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	_, err = LoadConfig()
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	t.Setenv("CONFIG_FILE", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"negative duration", func(c *Config) { c.SessionDuration = -time.Second }, "session_duration"},
		{"zero history", func(c *Config) { c.HistorySize = 0 }, "history_size"},
		{"zero journal without db", func(c *Config) { c.JournalSize = 0 }, "journal_size"},
		{"no channels", func(c *Config) {
			c.Audio.Enabled, c.Thermal.Enabled, c.Email.Enabled = false, false, false
		}, "channels"},
		{"unknown audio source", func(c *Config) { c.Audio.Source = "alsa" }, "audio.source"},
		{"inverted band", func(c *Config) { c.Audio.BandLowHz, c.Audio.BandHighHz = 20000, 15000 }, "audio.band"},
		{"nyquist below band", func(c *Config) { c.Audio.SampleRate = 16000 }, "audio.sample_rate"},
		{"frame shorter than minimum", func(c *Config) { c.Audio.FrameSize = 512 }, "audio.frame_size"},
		{"zero thermal interval", func(c *Config) { c.Thermal.Interval = 0 }, "thermal.interval"},
		{"email without spool", func(c *Config) { c.Email.Enabled = true; c.Email.SpoolDir = "" }, "email.spool_dir"},
		{"db pool inverted", func(c *Config) { c.DBConfig.MinDBConnections = 20 }, "db.min_connections"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrConfiguration))

			var cfgErr *domain.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestEnvReader_Duration(t *testing.T) {
	env := &envReader{}

	t.Setenv("TEST_DURATION", "1m30s")
	assert.Equal(t, 90*time.Second, env.getEnvAsDuration("TEST_DURATION", 0))

	t.Setenv("TEST_DURATION", "15")
	assert.Equal(t, 15*time.Second, env.getEnvAsDuration("TEST_DURATION", 0))

	t.Setenv("TEST_DURATION", "")
	assert.Equal(t, time.Minute, env.getEnvAsDuration("TEST_DURATION", time.Minute))
	require.NoError(t, env.err())

	t.Setenv("TEST_DURATION", "soon")
	assert.Equal(t, time.Minute, env.getEnvAsDuration("TEST_DURATION", time.Minute))
	assert.ErrorIs(t, env.err(), domain.ErrConfiguration)
}
