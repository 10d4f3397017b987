package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/CoolE88/threat-sentry/internal/domain"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DBConfig        DBConfig      `yaml:"db"`
	GRPCPort        string        `yaml:"grpc_port"`
	RESTPort        string        `yaml:"rest_port"`
	LogLevel        string        `yaml:"log_level"`
	SessionDuration time.Duration `yaml:"session_duration"` // 0 - до сигнала остановки
	RetryDelay      time.Duration `yaml:"retry_delay"`
	HistorySize     int           `yaml:"history_size"`
	JournalSize     int           `yaml:"journal_size"` // ёмкость журнала в памяти, если БД не задана
	Audio           AudioConfig   `yaml:"audio"`
	Thermal         ThermalConfig `yaml:"thermal"`
	Email           EmailConfig   `yaml:"email"`
}

type DBConfig struct {
	DBSource         string        `yaml:"source"` // пусто - журнал снапшотов в памяти
	MaxDBConnections int           `yaml:"max_connections"`
	MinDBConnections int           `yaml:"min_connections"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
}

type AudioConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Source     string  `yaml:"source"`   // tone | pcm
	PCMPath    string  `yaml:"pcm_path"` // "-" для stdin
	SampleRate int     `yaml:"sample_rate"`
	Channels   int     `yaml:"channels"`
	FrameSize  int     `yaml:"frame_size"`
	MinSamples int     `yaml:"min_samples"`
	BandLowHz  float64 `yaml:"band_low_hz"`
	BandHighHz float64 `yaml:"band_high_hz"`
	QuietFloor float64 `yaml:"quiet_floor"`
	Saturation float64 `yaml:"saturation"`
}

type ThermalConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Window      int           `yaml:"window"`
	MinSamples  int           `yaml:"min_samples"`
	ZFloor      float64       `yaml:"z_floor"`
	ZSaturation float64       `yaml:"z_saturation"`
}

type EmailConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Interval         time.Duration `yaml:"interval"`
	SpoolDir         string        `yaml:"spool_dir"`
	Limit            int           `yaml:"limit"`
	MalformedScore   float64       `yaml:"malformed_score"`
	FindingThreshold float64       `yaml:"finding_threshold"`
}

const (
	AudioSourceTone = "tone"
	AudioSourcePCM  = "pcm"
)

// LoadConfig читает переменные окружения, затем накладывает YAML из CONFIG_FILE
func LoadConfig() (*Config, error) {
	env := &envReader{}
	cfg := &Config{
		DBConfig: DBConfig{
			DBSource:         getEnv("DB_SOURCE", ""),
			MaxDBConnections: env.getEnvAsInt("MAX_DB_CONNECTIONS", 10),
			MinDBConnections: env.getEnvAsInt("MIN_DB_CONNECTIONS", 2),
			MaxConnLifetime:  time.Duration(env.getEnvAsInt("MAX_CONN_LIFETIME", 3600)) * time.Second,
			MaxConnIdleTime:  time.Duration(env.getEnvAsInt("MAX_CONN_IDLE_TIME", 1800)) * time.Second,
		},
		GRPCPort:        getEnv("GRPC_PORT", ":9090"),
		RESTPort:        getEnv("REST_PORT", ":8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		SessionDuration: env.getEnvAsDuration("SESSION_DURATION", 0),
		RetryDelay:      env.getEnvAsDuration("RETRY_DELAY", 2*time.Second),
		HistorySize:     env.getEnvAsInt("HISTORY_SIZE", 300),
		JournalSize:     env.getEnvAsInt("JOURNAL_SIZE", 10000),
		Audio: AudioConfig{
			Enabled:    env.getEnvAsBool("AUDIO_ENABLED", true),
			Source:     getEnv("AUDIO_SOURCE", AudioSourceTone),
			PCMPath:    getEnv("AUDIO_PCM_PATH", "-"),
			SampleRate: env.getEnvAsInt("AUDIO_SAMPLE_RATE", 44100),
			Channels:   env.getEnvAsInt("AUDIO_CHANNELS", 1),
			FrameSize:  env.getEnvAsInt("AUDIO_FRAME_SIZE", 4096),
			MinSamples: env.getEnvAsInt("AUDIO_MIN_SAMPLES", 1024),
			BandLowHz:  env.getEnvAsFloat("AUDIO_BAND_LOW_HZ", domain.UltrasonicBand.LowHz),
			BandHighHz: env.getEnvAsFloat("AUDIO_BAND_HIGH_HZ", domain.UltrasonicBand.HighHz),
			QuietFloor: env.getEnvAsFloat("AUDIO_QUIET_FLOOR", 0.02),
			Saturation: env.getEnvAsFloat("AUDIO_SATURATION", 0.6),
		},
		Thermal: ThermalConfig{
			Enabled:     env.getEnvAsBool("THERMAL_ENABLED", true),
			Interval:    env.getEnvAsDuration("THERMAL_INTERVAL", time.Second),
			Window:      env.getEnvAsInt("THERMAL_WINDOW", 60),
			MinSamples:  env.getEnvAsInt("THERMAL_MIN_SAMPLES", 5),
			ZFloor:      env.getEnvAsFloat("THERMAL_Z_FLOOR", 1),
			ZSaturation: env.getEnvAsFloat("THERMAL_Z_SATURATION", 4),
		},
		Email: EmailConfig{
			Enabled:          env.getEnvAsBool("EMAIL_ENABLED", false),
			Interval:         env.getEnvAsDuration("EMAIL_INTERVAL", time.Minute),
			SpoolDir:         getEnv("EMAIL_SPOOL_DIR", ""),
			Limit:            env.getEnvAsInt("EMAIL_LIMIT", 10),
			MalformedScore:   env.getEnvAsFloat("EMAIL_MALFORMED_SCORE", 50),
			FindingThreshold: env.getEnvAsFloat("EMAIL_FINDING_THRESHOLD", 50),
		},
	}
	if err := env.err(); err != nil {
		return nil, err
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlayFile перезаписывает только ключи, присутствующие в файле
func (c *Config) overlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("%w: parse %s: %v", domain.ErrConfiguration, path, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.GRPCPort == "" {
		c.GRPCPort = ":9090"
	}
	if c.RESTPort == "" {
		c.RESTPort = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Audio.Source == "" {
		c.Audio.Source = AudioSourceTone
	}
	if c.Audio.PCMPath == "" {
		c.Audio.PCMPath = "-"
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = 1
	}
	c.Audio.Source = strings.ToLower(c.Audio.Source)
}

// Validate ошибки конфигурации фатальны до старта мониторинга
func (c *Config) Validate() error {
	if c.SessionDuration < 0 {
		return domain.NewConfigError("session_duration", "must not be negative")
	}
	if c.RetryDelay <= 0 {
		return domain.NewConfigError("retry_delay", "must be positive")
	}
	if c.HistorySize <= 0 {
		return domain.NewConfigError("history_size", "must be positive")
	}
	if c.DBConfig.DBSource == "" && c.JournalSize <= 0 {
		return domain.NewConfigError("journal_size", "must be positive")
	}
	if c.DBConfig.MinDBConnections > c.DBConfig.MaxDBConnections {
		return domain.NewConfigError("db.min_connections", "must not exceed max_connections")
	}
	if !c.Audio.Enabled && !c.Thermal.Enabled && !c.Email.Enabled {
		return domain.NewConfigError("channels", "at least one channel must be enabled")
	}

	if c.Audio.Enabled {
		if c.Audio.Source != AudioSourceTone && c.Audio.Source != AudioSourcePCM {
			return domain.NewConfigError("audio.source", "must be tone or pcm")
		}
		if c.Audio.SampleRate <= 0 {
			return domain.NewConfigError("audio.sample_rate", "must be positive")
		}
		if c.Audio.Channels <= 0 {
			return domain.NewConfigError("audio.channels", "must be positive")
		}
		if c.Audio.FrameSize < c.Audio.MinSamples {
			return domain.NewConfigError("audio.frame_size", "must be at least min_samples")
		}
		if c.Audio.BandLowHz >= c.Audio.BandHighHz {
			return domain.NewConfigError("audio.band", "low edge must be below high edge")
		}
		if float64(c.Audio.SampleRate)/2 <= c.Audio.BandLowHz {
			return domain.NewConfigError("audio.sample_rate", "nyquist frequency is below the detection band")
		}
	}

	if c.Thermal.Enabled && c.Thermal.Interval <= 0 {
		return domain.NewConfigError("thermal.interval", "must be positive")
	}

	if c.Email.Enabled {
		if c.Email.SpoolDir == "" {
			return domain.NewConfigError("email.spool_dir", "required when email channel is enabled")
		}
		if c.Email.Limit <= 0 {
			return domain.NewConfigError("email.limit", "must be positive")
		}
		if c.Email.Interval < 0 {
			return domain.NewConfigError("email.interval", "must not be negative")
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

// envReader разбирает типизированные переменные окружения. Заданное, но неразборчивое
// значение не заменяется значением по умолчанию, а копится как ConfigError.
type envReader struct {
	errs []error
}

func (e *envReader) invalid(key, value, kind string) {
	e.errs = append(e.errs, domain.NewConfigError(key, fmt.Sprintf("invalid %s %q", kind, value)))
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}

func (e *envReader) getEnvAsInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		e.invalid(key, value, "integer")
		return fallback
	}
	return parsed
}

func (e *envReader) getEnvAsFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		e.invalid(key, value, "number")
		return fallback
	}
	return parsed
}

func (e *envReader) getEnvAsBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		e.invalid(key, value, "boolean")
		return fallback
	}
	return parsed
}

// getEnvAsDuration принимает "1m30s" или целое число секунд
func (e *envReader) getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	e.invalid(key, value, "duration")
	return fallback
}
