package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/CoolE88/threat-sentry/internal/aggregator"
	"github.com/CoolE88/threat-sentry/internal/domain"
	"github.com/CoolE88/threat-sentry/internal/metrics"
	"github.com/CoolE88/threat-sentry/internal/spectral"
	"github.com/CoolE88/threat-sentry/internal/thermal"
	"github.com/CoolE88/threat-sentry/internal/urlrisk"
	"github.com/CoolE88/threat-sentry/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrAlreadyRunning = errors.New("monitoring session already running")

// State состояние сессии и отдельного канала
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

type AudioSource interface {
	ReadFrame(ctx context.Context) (domain.SampleFrame, error)
}

type ThermalSource interface {
	Read(ctx context.Context) (domain.ThermalReading, error)
}

type EmailSource interface {
	Fetch(ctx context.Context) ([]string, error)
}

// Sources источники каналов; nil отключает канал
type Sources struct {
	Audio   AudioSource
	Thermal ThermalSource
	Email   EmailSource
}

type Config struct {
	Spectral   spectral.Options
	Thermal    thermal.Options
	Aggregator aggregator.Options

	ThermalInterval time.Duration
	// EmailInterval 0 отключает периодическое сканирование, остаётся ScanEmail
	EmailInterval     time.Duration
	MalformedURLScore float64
	// RetryDelay пауза перед повторным чтением недоступного источника
	RetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Spectral:          spectral.DefaultOptions(),
		Thermal:           thermal.DefaultOptions(),
		Aggregator:        aggregator.DefaultOptions(),
		ThermalInterval:   time.Second,
		EmailInterval:     time.Minute,
		MalformedURLScore: urlrisk.DefaultMalformedScore,
		RetryDelay:        2 * time.Second,
	}
}

func (c Config) Validate() error {
	if err := c.Spectral.Validate(); err != nil {
		return err
	}
	if err := c.Thermal.Validate(); err != nil {
		return err
	}
	if err := c.Aggregator.Validate(); err != nil {
		return err
	}
	if c.ThermalInterval <= 0 {
		return domain.NewConfigError("thermal.interval", "must be positive")
	}
	if c.EmailInterval < 0 {
		return domain.NewConfigError("email.interval", "must not be negative")
	}
	if c.RetryDelay <= 0 {
		return domain.NewConfigError("retry_delay", "must be positive")
	}
	return nil
}

// session всё, что живёт от Start до возврата в idle
type session struct {
	id       uuid.UUID
	agg      *aggregator.Aggregator
	cancel   context.CancelFunc
	done     chan struct{}
	wg       sync.WaitGroup
	channels map[domain.ChannelID]State
	// spectrum последний разобранный аудиокадр, под o.mu
	spectrum *spectral.Spectrum
}

// Orchestrator запускает циклы каналов и публикует снапшоты агрегатора
type Orchestrator struct {
	cfg         Config
	sources     Sources
	scorer      *urlrisk.Scorer
	broadcaster *Broadcaster
	logger      *zap.Logger

	mu      sync.Mutex
	state   State
	current *session

	// публикация упорядочена: снапшоты уходят подписчикам в порядке sequence
	publishMu sync.Mutex
	reporter  *reporter
}

func NewOrchestrator(cfg Config, sources Sources, logger *zap.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scorer, err := urlrisk.NewScorer(cfg.MalformedURLScore)
	if err != nil {
		return nil, err
	}
	// до первого Start отдаём пустой снапшот
	agg, err := aggregator.New(uuid.Nil, cfg.Aggregator)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	close(done)

	return &Orchestrator{
		cfg:         cfg,
		sources:     sources,
		scorer:      scorer,
		broadcaster: NewBroadcaster(),
		logger:      logger,
		state:       StateIdle,
		current: &session{
			id:       uuid.Nil,
			agg:      agg,
			cancel:   func() {},
			done:     done,
			channels: map[domain.ChannelID]State{},
		},
		reporter: newReporter(logger),
	}, nil
}

// Start idle -> running. duration 0 означает работу до Stop или отмены ctx.
func (o *Orchestrator) Start(ctx context.Context, duration time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateIdle {
		return ErrAlreadyRunning
	}

	// анализаторы создаются заново: окна прошлой сессии не переносятся
	var analyzer *spectral.Analyzer
	var detector *thermal.Detector
	var err error
	if o.sources.Audio != nil {
		if analyzer, err = spectral.NewAnalyzer(o.cfg.Spectral); err != nil {
			return err
		}
	}
	if o.sources.Thermal != nil {
		if detector, err = thermal.NewDetector(o.cfg.Thermal); err != nil {
			return err
		}
	}

	id := utils.NewUUID()
	agg, err := aggregator.New(id, o.cfg.Aggregator)
	if err != nil {
		return err
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if duration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, duration)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	sess := &session{
		id:       id,
		agg:      agg,
		cancel:   cancel,
		done:     make(chan struct{}),
		channels: make(map[domain.ChannelID]State),
	}
	o.current = sess
	o.state = StateRunning

	o.publishMu.Lock()
	o.reporter.reset()
	o.publishMu.Unlock()

	if analyzer != nil {
		o.launch(runCtx, sess, domain.ChannelAudio, func(ctx context.Context) {
			o.audioLoop(ctx, sess, analyzer)
		})
	}
	if detector != nil {
		o.launch(runCtx, sess, domain.ChannelThermal, func(ctx context.Context) {
			o.thermalLoop(ctx, sess, detector)
		})
	}
	if o.sources.Email != nil && o.cfg.EmailInterval > 0 {
		o.launch(runCtx, sess, domain.ChannelEmail, func(ctx context.Context) {
			o.emailLoop(ctx, sess)
		})
	}

	go o.supervise(runCtx, sess)

	o.logger.Info("[Monitor] Monitoring session started",
		zap.String("session_id", id.String()),
		zap.Duration("duration", duration),
		zap.Int("channels", len(sess.channels)))

	return nil
}

// Stop running -> stopping -> idle. Дожидается завершения текущих циклов. Идемпотентен.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	sess := o.current
	if o.state == StateRunning {
		o.setStopping(sess)
	}
	o.mu.Unlock()

	sess.cancel()
	<-sess.done
}

// Close останавливает сессию и закрывает всех подписчиков
func (o *Orchestrator) Close() {
	o.Stop()
	o.broadcaster.Close()
}

// Done закрывается, когда текущая сессия вернулась в idle
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current.done
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// ChannelStates состояние циклов каналов текущей сессии
func (o *Orchestrator) ChannelStates() map[domain.ChannelID]State {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[domain.ChannelID]State, len(domain.AllChannels))
	for _, id := range domain.AllChannels {
		out[id] = StateIdle
	}
	for id, st := range o.current.channels {
		out[id] = st
	}
	return out
}

func (o *Orchestrator) SessionID() uuid.UUID {
	return o.aggregator().SessionID()
}

// Snapshot последний опубликованный снапшот текущей (или последней) сессии
func (o *Orchestrator) Snapshot() domain.ThreatSnapshot {
	return o.aggregator().Snapshot()
}

// Spectrum спектр последнего аудиокадра текущей (или последней) сессии
func (o *Orchestrator) Spectrum() (spectral.Spectrum, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current.spectrum == nil {
		return spectral.Spectrum{}, false
	}
	return o.current.spectrum.Clone(), true
}

func (o *Orchestrator) History() []domain.ThreatSnapshot {
	return o.aggregator().History()
}

// Subscribe push-доставка снапшотов; подписка переживает смену сессий
func (o *Orchestrator) Subscribe(buffer int) (<-chan domain.ThreatSnapshot, func()) {
	return o.broadcaster.Subscribe(buffer)
}

// ScanEmail разовое сканирование писем и явных URL. Во время сессии результат
// попадает в агрегатор, вне сессии только возвращается. Скан, начатый в сессии,
// учитывается в её WaitGroup, поэтому Stop дожидается его публикации.
func (o *Orchestrator) ScanEmail(ctx context.Context, bodies, urls []string) (domain.ScanResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ScanResult{}, err
	}

	all := mergeURLs(urlrisk.ExtractAll(bodies), urls)

	o.mu.Lock()
	sess := o.current
	running := o.state == StateRunning
	if running {
		sess.wg.Add(1)
	}
	o.mu.Unlock()

	if !running {
		findings, score := o.score(all)
		return domain.ScanResult{Findings: findings, Score: score}, nil
	}
	defer sess.wg.Done()

	findings, score, snap := o.scanInto(sess, all)
	return domain.ScanResult{Findings: findings, Score: score, Snapshot: &snap}, nil
}

func (o *Orchestrator) aggregator() *aggregator.Aggregator {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current.agg
}

// setStopping вызывается под o.mu
func (o *Orchestrator) setStopping(sess *session) {
	o.state = StateStopping
	for id, st := range sess.channels {
		if st == StateRunning {
			sess.channels[id] = StateStopping
		}
	}
}

// launch вызывается под o.mu
func (o *Orchestrator) launch(ctx context.Context, sess *session, channel domain.ChannelID, loop func(ctx context.Context)) {
	sess.channels[channel] = StateRunning
	sess.wg.Add(1)
	metrics.ActiveChannelWorkers.Inc()

	go func() {
		defer func() {
			metrics.ActiveChannelWorkers.Dec()
			o.mu.Lock()
			sess.channels[channel] = StateIdle
			o.mu.Unlock()
			sess.wg.Done()
		}()

		o.logger.Debug("[Monitor] Channel worker started", zap.String("channel", string(channel)))
		loop(ctx)
		o.logger.Debug("[Monitor] Channel worker stopped", zap.String("channel", string(channel)))
	}()
}

func (o *Orchestrator) supervise(ctx context.Context, sess *session) {
	<-ctx.Done()

	o.mu.Lock()
	if o.current == sess && o.state == StateRunning {
		o.setStopping(sess)
		o.logger.Info("[Monitor] Monitoring session finished", zap.String("session_id", sess.id.String()))
	}
	o.mu.Unlock()

	sess.wg.Wait()
	sess.cancel()

	o.mu.Lock()
	if o.current == sess {
		o.state = StateIdle
	}
	o.mu.Unlock()
	close(sess.done)

	snap := sess.agg.Snapshot()
	o.logger.Info("[Monitor] Monitoring session stopped",
		zap.String("session_id", sess.id.String()),
		zap.Uint64("sequence", snap.Sequence),
		zap.Float64("composite", snap.Composite),
		zap.String("band", string(snap.Band)))
}

func (o *Orchestrator) audioLoop(ctx context.Context, sess *session, analyzer *spectral.Analyzer) {
	for ctx.Err() == nil {
		var frame domain.SampleFrame
		err := safeRun(o.logger, domain.ChannelAudio, func() error {
			var err error
			frame, err = o.sources.Audio.ReadFrame(ctx)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, domain.ErrInsufficientSamples) {
				metrics.ChannelSkippedFrames.WithLabelValues(string(domain.ChannelAudio)).Inc()
				continue
			}
			o.fail(sess, domain.ChannelAudio, err)
			if !sleepCtx(ctx, o.cfg.RetryDelay) {
				return
			}
			continue
		}

		start := time.Now()
		var score domain.ChannelScore
		var spec spectral.Spectrum
		err = safeRun(o.logger, domain.ChannelAudio, func() error {
			var err error
			score, spec, err = analyzer.AnalyzeSpectrum(frame)
			return err
		})
		metrics.AnalysisDuration.WithLabelValues(string(domain.ChannelAudio)).Observe(time.Since(start).Seconds())

		switch {
		case errors.Is(err, domain.ErrInsufficientSamples):
			metrics.ChannelSkippedFrames.WithLabelValues(string(domain.ChannelAudio)).Inc()
			o.logger.Debug("[Monitor] Audio frame skipped",
				zap.Int("samples", len(frame.Samples)),
				zap.Error(err))
		case err != nil:
			o.fail(sess, domain.ChannelAudio, err)
			if !sleepCtx(ctx, o.cfg.RetryDelay) {
				return
			}
		default:
			o.mu.Lock()
			sess.spectrum = &spec
			o.mu.Unlock()
			o.update(sess, score)
		}
	}
}

func (o *Orchestrator) thermalLoop(ctx context.Context, sess *session, detector *thermal.Detector) {
	ticker := time.NewTicker(o.cfg.ThermalInterval)
	defer ticker.Stop()

	failed := false
	for {
		failed = o.thermalCycle(ctx, sess, detector, failed)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// thermalCycle одно чтение; возвращает true, если источник недоступен.
// После восстановления источника базис собирается заново: окно до отказа устарело.
func (o *Orchestrator) thermalCycle(ctx context.Context, sess *session, detector *thermal.Detector, recovering bool) bool {
	var score domain.ChannelScore
	err := safeRun(o.logger, domain.ChannelThermal, func() error {
		reading, err := o.sources.Thermal.Read(ctx)
		if err != nil {
			return err
		}
		if recovering {
			o.logger.Info("[Monitor] Thermal source recovered, resetting baseline",
				zap.Int("discarded", detector.Len()))
			detector.Reset()
		}
		start := time.Now()
		score = detector.Observe(reading)
		metrics.AnalysisDuration.WithLabelValues(string(domain.ChannelThermal)).Observe(time.Since(start).Seconds())
		return nil
	})
	if err != nil {
		if ctx.Err() == nil {
			o.fail(sess, domain.ChannelThermal, err)
			return true
		}
		return recovering
	}
	o.update(sess, score)
	return false
}

func (o *Orchestrator) emailLoop(ctx context.Context, sess *session) {
	ticker := time.NewTicker(o.cfg.EmailInterval)
	defer ticker.Stop()

	for {
		o.emailCycle(ctx, sess)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) emailCycle(ctx context.Context, sess *session) {
	var bodies []string
	err := safeRun(o.logger, domain.ChannelEmail, func() error {
		var err error
		bodies, err = o.sources.Email.Fetch(ctx)
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			o.fail(sess, domain.ChannelEmail, err)
		}
		return
	}

	findings, score, _ := o.scanInto(sess, urlrisk.ExtractAll(bodies))
	o.logger.Debug("[Monitor] Email scan completed",
		zap.Int("messages", len(bodies)),
		zap.Int("urls", len(findings)),
		zap.Float64("score", score.Value))
}

func (o *Orchestrator) score(urls []string) ([]domain.URLFinding, domain.ChannelScore) {
	start := time.Now()
	findings, score := o.scorer.ScoreBatch(urls)
	metrics.AnalysisDuration.WithLabelValues(string(domain.ChannelEmail)).Observe(time.Since(start).Seconds())

	for _, f := range findings {
		for _, flag := range f.Flags {
			metrics.URLRuleMatches.WithLabelValues(string(flag)).Inc()
		}
	}
	return findings, score
}

func (o *Orchestrator) scanInto(sess *session, urls []string) ([]domain.URLFinding, domain.ChannelScore, domain.ThreatSnapshot) {
	findings, score := o.score(urls)

	o.publishMu.Lock()
	defer o.publishMu.Unlock()

	sess.agg.RecordFindings(findings)
	snap, changed := sess.agg.Update(score)
	o.publish(snap, changed)
	return findings, score, snap
}

func (o *Orchestrator) update(sess *session, score domain.ChannelScore) {
	o.publishMu.Lock()
	defer o.publishMu.Unlock()

	snap, changed := sess.agg.Update(score)
	o.publish(snap, changed)
}

func (o *Orchestrator) fail(sess *session, channel domain.ChannelID, err error) {
	metrics.ChannelFailures.WithLabelValues(string(channel)).Inc()
	o.logger.Warn("[Monitor] Channel source unavailable",
		zap.String("channel", string(channel)),
		zap.Error(err))

	o.publishMu.Lock()
	defer o.publishMu.Unlock()

	snap, changed := sess.agg.MarkUnavailable(channel, err)
	o.publish(snap, changed)
}

// publish вызывается под publishMu
func (o *Orchestrator) publish(snap domain.ThreatSnapshot, changed bool) {
	dropped := o.broadcaster.Publish(snap)
	metrics.SnapshotsPublished.Inc()
	o.reporter.observe(snap)

	if changed {
		o.logger.Debug("[Monitor] Snapshot published",
			zap.Uint64("sequence", snap.Sequence),
			zap.Float64("composite", snap.Composite),
			zap.Int("dropped", dropped))
	}
}

func mergeURLs(extracted, explicit []string) []string {
	seen := make(map[string]struct{}, len(extracted)+len(explicit))
	out := make([]string, 0, len(extracted)+len(explicit))
	for _, list := range [][]string{extracted, explicit} {
		for _, u := range list {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, u)
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
