package source

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/CoolE88/threat-sentry/internal/domain"
	"github.com/CoolE88/threat-sentry/pkg/utils"
)

// ToneSource синтетический микрофон: фон плюс периодические вспышки маяка.
// Используется, когда реального устройства нет.
type ToneSource struct {
	sampleRate int
	frameSize  int
	channels   int
	background []utils.Tone
	beacon     []utils.Tone
	burstEvery int
	noise      float64
	pace       bool

	mu     sync.Mutex
	offset int64
	frames int
	rnd    *rand.Rand
}

// ToneOptions параметры синтетического источника
type ToneOptions struct {
	SampleRate int
	FrameSize  int
	// Channels > 1 дублирует сигнал в чередующиеся каналы, как у многоканального устройства
	Channels   int
	Background []utils.Tone
	// Beacon добавляется в каждый BurstEvery-й кадр; 0 отключает вспышки
	Beacon     []utils.Tone
	BurstEvery int
	Noise      float64
	// Pace выдаёт кадры в реальном темпе: один кадр за FrameSize/SampleRate
	Pace bool
	Seed int64
}

// DefaultToneOptions речь-подобный фон и слабый маяк на 18.5 кГц каждый пятый кадр
func DefaultToneOptions() ToneOptions {
	return ToneOptions{
		SampleRate: 44100,
		FrameSize:  4096,
		Channels:   1,
		Background: []utils.Tone{{Hz: 440, Amplitude: 0.3}, {Hz: 1200, Amplitude: 0.15}},
		Beacon:     []utils.Tone{{Hz: 18500, Amplitude: 0.6}},
		BurstEvery: 5,
		Noise:      0.01,
		Pace:       true,
		Seed:       1,
	}
}

func NewToneSource(opts ToneOptions) (*ToneSource, error) {
	if opts.SampleRate <= 0 {
		return nil, domain.NewConfigError("audio.sample_rate", "must be positive")
	}
	if opts.FrameSize <= 0 {
		return nil, domain.NewConfigError("audio.frame_size", "must be positive")
	}
	if opts.BurstEvery < 0 {
		return nil, domain.NewConfigError("audio.burst_every", "must not be negative")
	}
	if opts.Channels < 0 {
		return nil, domain.NewConfigError("audio.channels", "must not be negative")
	}
	channels := max(opts.Channels, 1)

	return &ToneSource{
		sampleRate: opts.SampleRate,
		frameSize:  opts.FrameSize,
		channels:   channels,
		background: opts.Background,
		beacon:     opts.Beacon,
		burstEvery: opts.BurstEvery,
		noise:      opts.Noise,
		pace:       opts.Pace,
		rnd:        rand.New(rand.NewSource(opts.Seed)),
	}, nil
}

func (s *ToneSource) ReadFrame(ctx context.Context) (domain.SampleFrame, error) {
	if s.pace {
		wait := time.Duration(float64(s.frameSize) / float64(s.sampleRate) * float64(time.Second))
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return domain.SampleFrame{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return domain.SampleFrame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames++
	tones := s.background
	if s.burstEvery > 0 && s.frames%s.burstEvery == 0 {
		tones = append(append([]utils.Tone(nil), s.background...), s.beacon...)
	}

	samples := utils.GenerateTone(s.sampleRate, s.frameSize, s.offset, tones...)
	if s.noise > 0 {
		utils.AddNoise(samples, s.noise, s.rnd)
	}
	s.offset += int64(s.frameSize)

	if s.channels > 1 {
		lanes := make([][]float64, s.channels)
		for i := range lanes {
			lanes[i] = samples
		}
		samples = utils.Interleave(lanes...)
	}

	return domain.SampleFrame{
		Samples:    samples,
		Channels:   s.channels,
		SampleRate: s.sampleRate,
		CapturedAt: time.Now(),
	}, nil
}

// PCMSource читает знаковый 16-битный little-endian PCM из потока,
// например вывод `arecord -f S16_LE -t raw`
type PCMSource struct {
	r          io.Reader
	sampleRate int
	channels   int
	frameSize  int
	buf        []byte
}

func NewPCMSource(r io.Reader, sampleRate, channels, frameSize int) (*PCMSource, error) {
	if r == nil {
		return nil, domain.NewConfigError("audio.pcm", "reader is required")
	}
	if sampleRate <= 0 {
		return nil, domain.NewConfigError("audio.sample_rate", "must be positive")
	}
	if channels <= 0 {
		return nil, domain.NewConfigError("audio.channels", "must be positive")
	}
	if frameSize <= 0 {
		return nil, domain.NewConfigError("audio.frame_size", "must be positive")
	}

	return &PCMSource{
		r:          r,
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  frameSize,
		buf:        make([]byte, frameSize*channels*2),
	}, nil
}

// ReadFrame блокируется на чтении потока; отмена контекста проверяется между кадрами
func (s *PCMSource) ReadFrame(ctx context.Context) (domain.SampleFrame, error) {
	if err := ctx.Err(); err != nil {
		return domain.SampleFrame{}, err
	}

	n, err := io.ReadFull(s.r, s.buf)
	switch {
	case errors.Is(err, io.EOF):
		return domain.SampleFrame{}, fmt.Errorf("%w: pcm stream ended", domain.ErrSourceUnavailable)
	case errors.Is(err, io.ErrUnexpectedEOF):
		// хвост потока отдаём как есть, анализатор отбросит короткий кадр
	case err != nil:
		return domain.SampleFrame{}, fmt.Errorf("%w: read pcm: %v", domain.ErrSourceUnavailable, err)
	}

	// только целые многоканальные отсчёты
	n -= n % (2 * s.channels)
	samples := make([]float64, n/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(s.buf[2*i:]))
		samples[i] = float64(v) / 32768
	}

	return domain.SampleFrame{
		Samples:    samples,
		Channels:   s.channels,
		SampleRate: s.sampleRate,
		CapturedAt: time.Now(),
	}, nil
}
