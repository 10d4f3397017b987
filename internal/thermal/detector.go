// Package thermal ищет всплески прокси нагрузки CPU относительно скользящего базиса.
//
// Показания нагрузки это эвристический прокси, а не откалиброванная температура,
// поэтому оценка строится на z-score и не использует абсолютных порогов.
package thermal

import (
	"math"
	"time"

	"github.com/CoolE88/threat-sentry/internal/domain"

	"gonum.org/v1/gonum/stat"
)

// Options параметры детектора
type Options struct {
	WindowSize     int
	MinSamples     int
	StdFloor       float64 // нижняя граница stddev, защищает от деления на ноль на ровной истории
	ZFloor         float64 // z не выше этого значения даёт 0
	ZSaturation    float64 // z не ниже этого значения даёт 100
	ColdStartScore float64
}

func DefaultOptions() Options {
	return Options{
		WindowSize:     60,
		MinSamples:     5,
		StdFloor:       1.0,
		ZFloor:         1.0,
		ZSaturation:    4.0,
		ColdStartScore: 0,
	}
}

func (o Options) Validate() error {
	if o.WindowSize <= 0 {
		return domain.NewConfigError("thermal.window_size", "must be positive")
	}
	if o.MinSamples < 2 || o.MinSamples > o.WindowSize {
		return domain.NewConfigError("thermal.min_samples", "must be in [2, window_size]")
	}
	if o.StdFloor <= 0 {
		return domain.NewConfigError("thermal.std_floor", "must be positive")
	}
	if o.ZFloor < 0 || o.ZSaturation <= o.ZFloor {
		return domain.NewConfigError("thermal.z_thresholds", "need 0 <= z_floor < z_saturation")
	}
	if o.ColdStartScore < 0 || o.ColdStartScore > 100 {
		return domain.NewConfigError("thermal.cold_start_score", "must be within 0-100")
	}
	return nil
}

// Baseline среднее и stddev текущего окна
type Baseline struct {
	Mean    float64
	StdDev  float64
	Samples int
}

// Detector держит окно последних показаний. Не потокобезопасен.
type Detector struct {
	opts   Options
	window []float64
}

func NewDetector(opts Options) (*Detector, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		opts:   opts,
		window: make([]float64, 0, opts.WindowSize),
	}, nil
}

// Observe оценивает новое показание относительно окна и добавляет его в окно
func (d *Detector) Observe(reading domain.ThermalReading) domain.ChannelScore {
	score := domain.ChannelScore{
		Channel:   domain.ChannelThermal,
		Timestamp: reading.Timestamp,
	}
	if score.Timestamp.IsZero() {
		score.Timestamp = time.Now()
	}

	if len(d.window) < d.opts.MinSamples {
		score.Value = d.opts.ColdStartScore
		score.Warmup = true
	} else {
		base := d.Baseline()
		z := (reading.Load() - base.Mean) / math.Max(base.StdDev, d.opts.StdFloor)
		score.Value = d.scale(z)
	}

	d.push(reading.Load())
	return score
}

// Baseline считается ровно по текущему содержимому окна
func (d *Detector) Baseline() Baseline {
	b := Baseline{Samples: len(d.window)}
	switch len(d.window) {
	case 0:
		return b
	case 1:
		b.Mean = d.window[0]
		return b
	}
	b.Mean, b.StdDev = stat.MeanStdDev(d.window, nil)
	return b
}

// Len текущий размер окна
func (d *Detector) Len() int {
	return len(d.window)
}

// Reset очищает историю, например после восстановления источника
func (d *Detector) Reset() {
	d.window = d.window[:0]
}

func (d *Detector) push(v float64) {
	if len(d.window) == d.opts.WindowSize {
		// FIFO: вытесняем самое старое показание
		copy(d.window, d.window[1:])
		d.window = d.window[:len(d.window)-1]
	}
	d.window = append(d.window, v)
}

func (d *Detector) scale(z float64) float64 {
	switch {
	case math.IsNaN(z) || z <= d.opts.ZFloor:
		return 0
	case z >= d.opts.ZSaturation:
		return 100
	}
	return 100 * (z - d.opts.ZFloor) / (d.opts.ZSaturation - d.opts.ZFloor)
}
