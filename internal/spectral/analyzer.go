// Package spectral оценивает активность в ультразвуковом диапазоне аудиокадров.
package spectral

import (
	"fmt"
	"math"
	"math/cmplx"
	"time"

	"github.com/CoolE88/threat-sentry/internal/domain"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// silenceEnergy ниже этой суммарной энергии кадр считается тишиной
const silenceEnergy = 1e-12

// mainLobeBins полуширина главного лепестка окна Ханна в бинах: на эту величину
// диапазон расширяется при подсчёте, чтобы тон на границе не терял половину энергии
const mainLobeBins = 2

// Options параметры анализатора
type Options struct {
	MinSamples int
	Band       domain.FrequencyBand
	QuietFloor float64 // доля энергии, ниже которой оценка 0
	Saturation float64 // доля энергии, выше которой оценка 100
	Curve      float64 // показатель кривой между порогами, 1 = линейно
}

// DefaultOptions параметры по умолчанию
func DefaultOptions() Options {
	return Options{
		MinSamples: 1024,
		Band:       domain.UltrasonicBand,
		QuietFloor: 0.02,
		Saturation: 0.6,
		Curve:      1,
	}
}

// Validate проверяет пороги до старта мониторинга
func (o Options) Validate() error {
	if o.MinSamples < 2 {
		return domain.NewConfigError("spectral.min_samples", "must be at least 2")
	}
	if o.Band.LowHz <= 0 || o.Band.HighHz <= o.Band.LowHz {
		return domain.NewConfigError("spectral.band", "low_hz must be positive and below high_hz")
	}
	if o.QuietFloor < 0 || o.Saturation > 1 || o.Saturation <= o.QuietFloor {
		return domain.NewConfigError("spectral.thresholds", "need 0 <= quiet_floor < saturation <= 1")
	}
	if o.Curve <= 0 {
		return domain.NewConfigError("spectral.curve", "must be positive")
	}
	return nil
}

// Spectrum результат разбора кадра
type Spectrum struct {
	BandEnergy  float64   `json:"band_energy"`
	TotalEnergy float64   `json:"total_energy"`
	Fraction    float64   `json:"fraction"`
	PeakHz      float64   `json:"peak_hz"`
	Resolution  float64   `json:"resolution_hz"` // Гц на бин
	Magnitudes  []float64 `json:"magnitudes"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Clone копия с собственным срезом амплитуд
func (s Spectrum) Clone() Spectrum {
	s.Magnitudes = append([]float64(nil), s.Magnitudes...)
	return s
}

// Analyzer не потокобезопасен: принадлежит горутине аудиоканала
type Analyzer struct {
	opts Options
	fft  *fourier.FFT
	n    int
	now  func() time.Time
}

func NewAnalyzer(opts Options) (*Analyzer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Analyzer{opts: opts, now: time.Now}, nil
}

// Analyze переводит кадр в оценку канала audio
func (a *Analyzer) Analyze(frame domain.SampleFrame) (domain.ChannelScore, error) {
	score, _, err := a.AnalyzeSpectrum(frame)
	return score, err
}

// AnalyzeSpectrum как Analyze, но отдаёт и спектр кадра
func (a *Analyzer) AnalyzeSpectrum(frame domain.SampleFrame) (domain.ChannelScore, Spectrum, error) {
	spec, err := a.Inspect(frame)
	if err != nil {
		return domain.ChannelScore{}, Spectrum{}, err
	}

	return domain.ChannelScore{
		Channel:   domain.ChannelAudio,
		Value:     a.Scale(spec.Fraction),
		Timestamp: spec.CapturedAt,
	}, spec, nil
}

// Inspect строит спектр мощности и считает долю энергии в диапазоне
func (a *Analyzer) Inspect(frame domain.SampleFrame) (Spectrum, error) {
	if frame.SampleRate <= 0 {
		return Spectrum{}, fmt.Errorf("sample rate %d: %w", frame.SampleRate, domain.ErrMalformedInput)
	}

	mono := Downmix(frame.Samples, frame.Channels)
	if len(mono) < a.opts.MinSamples {
		return Spectrum{}, fmt.Errorf("got %d samples, need %d: %w",
			len(mono), a.opts.MinSamples, domain.ErrInsufficientSamples)
	}

	nyquist := float64(frame.SampleRate) / 2
	if nyquist < a.opts.Band.LowHz {
		return Spectrum{}, fmt.Errorf("nyquist %.0f Hz below band %.0f Hz: %w",
			nyquist, a.opts.Band.LowHz, domain.ErrMalformedInput)
	}

	n := len(mono)
	if a.fft == nil || a.n != n {
		a.fft = fourier.NewFFT(n)
		a.n = n
	}

	// Downmix всегда возвращает новый срез, окно можно накладывать на месте
	coeffs := a.fft.Coefficients(nil, window.Hann(mono))
	resolution := float64(frame.SampleRate) / float64(n)

	spec := Spectrum{
		Resolution: resolution,
		Magnitudes: make([]float64, len(coeffs)),
		CapturedAt: frame.CapturedAt,
	}
	if spec.CapturedAt.IsZero() {
		spec.CapturedAt = a.now()
	}

	counted := domain.FrequencyBand{
		LowHz:  a.opts.Band.LowHz - mainLobeBins*resolution,
		HighHz: a.opts.Band.HighHz + mainLobeBins*resolution,
	}

	var peak float64
	for k := 1; k < len(coeffs); k++ {
		mag := cmplx.Abs(coeffs[k])
		spec.Magnitudes[k] = mag
		power := mag * mag
		spec.TotalEnergy += power

		hz := float64(k) * resolution
		if counted.Contains(hz) {
			spec.BandEnergy += power
		}
		if power > peak {
			peak = power
			spec.PeakHz = hz
		}
	}

	if spec.TotalEnergy < silenceEnergy {
		spec.BandEnergy = 0
		spec.PeakHz = 0
		return spec, nil
	}

	spec.Fraction = spec.BandEnergy / spec.TotalEnergy
	return spec, nil
}

// Scale монотонно отображает долю энергии в оценку 0-100
func (a *Analyzer) Scale(fraction float64) float64 {
	o := a.opts
	switch {
	case math.IsNaN(fraction) || fraction <= o.QuietFloor:
		return 0
	case fraction >= o.Saturation:
		return 100
	}
	norm := (fraction - o.QuietFloor) / (o.Saturation - o.QuietFloor)
	return 100 * math.Pow(norm, o.Curve)
}

// Downmix сводит чередующиеся каналы в моно усреднением
func Downmix(samples []float64, channels int) []float64 {
	if channels <= 1 {
		return append([]float64(nil), samples...)
	}

	frames := len(samples) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float64(channels)
	}
	return out
}
