package aggregator

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/CoolE88/threat-sentry/internal/domain"
	"github.com/CoolE88/threat-sentry/internal/metrics"

	"github.com/google/uuid"
)

// Options параметры агрегатора
type Options struct {
	HistorySize      int
	MaxFindings      int
	FindingThreshold float64
}

func DefaultOptions() Options {
	return Options{
		HistorySize:      300,
		MaxFindings:      20,
		FindingThreshold: 50,
	}
}

func (o Options) Validate() error {
	if o.HistorySize <= 0 {
		return domain.NewConfigError("aggregator.history_size", "must be positive")
	}
	if o.MaxFindings < 0 {
		return domain.NewConfigError("aggregator.max_findings", "must not be negative")
	}
	if o.FindingThreshold < 0 || o.FindingThreshold > 100 {
		return domain.NewConfigError("aggregator.finding_threshold", "must be within 0-100")
	}
	return nil
}

// Aggregator единственное разделяемое между каналами состояние сессии.
// Все изменения и сборка снапшота идут под одним мьютексом.
type Aggregator struct {
	mu       sync.Mutex
	opts     Options
	session  uuid.UUID
	channels map[domain.ChannelID]*domain.ChannelState
	findings []domain.URLFinding
	current  domain.ThreatSnapshot
	history  []domain.ThreatSnapshot
	now      func() time.Time
}

func New(session uuid.UUID, opts Options) (*Aggregator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	a := &Aggregator{
		opts:     opts,
		session:  session,
		channels: make(map[domain.ChannelID]*domain.ChannelState, len(domain.AllChannels)),
		now:      time.Now,
	}
	for _, id := range domain.AllChannels {
		a.channels[id] = &domain.ChannelState{Channel: id, Status: domain.StatusIdle}
	}
	a.current = a.build(0)
	return a, nil
}

// Update last-write-wins для канала. Возвращает опубликованный снапшот и признак смены sequence.
func (a *Aggregator) Update(score domain.ChannelScore) (domain.ThreatSnapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.state(score.Channel)
	st.Status = domain.StatusActive
	st.Score = clampScore(score.Value)
	st.Warmup = score.Warmup
	st.UpdatedAt = score.Timestamp
	st.Error = ""

	metrics.ChannelScore.WithLabelValues(string(score.Channel)).Set(st.Score)
	metrics.ChannelAvailable.WithLabelValues(string(score.Channel)).Set(1)

	return a.publish()
}

// MarkUnavailable исключает канал из композитной оценки до следующего успешного Update
func (a *Aggregator) MarkUnavailable(channel domain.ChannelID, cause error) (domain.ThreatSnapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.state(channel)
	st.Status = domain.StatusUnavailable
	st.UpdatedAt = a.now()
	if cause != nil {
		st.Error = cause.Error()
	}

	metrics.ChannelAvailable.WithLabelValues(string(channel)).Set(0)

	return a.publish()
}

// RecordFindings сохраняет находки не ниже порога, новые первыми
func (a *Aggregator) RecordFindings(findings []domain.URLFinding) {
	if a.opts.MaxFindings == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	fresh := make([]domain.URLFinding, 0, len(findings))
	for _, f := range findings {
		if f.Score >= a.opts.FindingThreshold {
			fresh = append(fresh, f)
		}
	}
	if len(fresh) == 0 {
		return
	}

	// повторное сканирование того же письма заменяет прежнюю находку
	merged := fresh
	for _, old := range a.findings {
		if !slices.ContainsFunc(fresh, func(f domain.URLFinding) bool { return f.URL == old.URL }) {
			merged = append(merged, old)
		}
	}
	if len(merged) > a.opts.MaxFindings {
		merged = merged[:a.opts.MaxFindings]
	}
	a.findings = merged
}

// Snapshot копия последнего опубликованного снапшота
func (a *Aggregator) Snapshot() domain.ThreatSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current.Clone()
}

// History скользящая история снапшотов, старые первыми
func (a *Aggregator) History() []domain.ThreatSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]domain.ThreatSnapshot, len(a.history))
	for i, s := range a.history {
		out[i] = s.Clone()
	}
	return out
}

func (a *Aggregator) SessionID() uuid.UUID {
	return a.session
}

func (a *Aggregator) state(id domain.ChannelID) *domain.ChannelState {
	st, ok := a.channels[id]
	if !ok {
		st = &domain.ChannelState{Channel: id, Status: domain.StatusIdle}
		a.channels[id] = st
	}
	return st
}

// publish вызывается под мьютексом
func (a *Aggregator) publish() (domain.ThreatSnapshot, bool) {
	prev := a.current
	next := a.build(prev.Sequence)

	changed := next.Composite != prev.Composite ||
		statusChanged(prev.Channels, next.Channels) ||
		findingsChanged(prev.Findings, next.Findings)
	if changed {
		next.Sequence = prev.Sequence + 1
	}

	a.current = next
	a.history = append(a.history, next)
	if len(a.history) > a.opts.HistorySize {
		a.history = a.history[len(a.history)-a.opts.HistorySize:]
	}

	metrics.CompositeScore.Set(next.Composite)
	metrics.SnapshotSequence.Set(float64(next.Sequence))

	return next.Clone(), changed
}

func (a *Aggregator) build(seq uint64) domain.ThreatSnapshot {
	snap := domain.ThreatSnapshot{
		SessionID: a.session,
		Sequence:  seq,
		Channels:  make([]domain.ChannelState, 0, len(a.channels)),
		Findings:  append([]domain.URLFinding(nil), a.findings...),
		CreatedAt: a.now(),
	}

	var sum float64
	for _, id := range a.order() {
		st := *a.channels[id]
		snap.Channels = append(snap.Channels, st)
		if st.Status == domain.StatusActive {
			sum += st.Score
			snap.ActiveChannels++
		}
	}
	if snap.ActiveChannels > 0 {
		snap.Composite = sum / float64(snap.ActiveChannels)
	}
	snap.Band = domain.BandFor(snap.Composite)
	return snap
}

// order стандартные каналы в фиксированном порядке, затем нестандартные
func (a *Aggregator) order() []domain.ChannelID {
	var extra []domain.ChannelID
	for id := range a.channels {
		if !slices.Contains(domain.AllChannels, id) {
			extra = append(extra, id)
		}
	}
	slices.Sort(extra)
	return append(slices.Clone(domain.AllChannels), extra...)
}

func statusChanged(prev, next []domain.ChannelState) bool {
	if len(prev) != len(next) {
		return true
	}
	for i := range prev {
		if prev[i].Channel != next[i].Channel || prev[i].Status != next[i].Status {
			return true
		}
	}
	return false
}

// findingsChanged сравнивает находки по URL и оценке с учётом порядка
func findingsChanged(prev, next []domain.URLFinding) bool {
	return !slices.EqualFunc(prev, next, func(a, b domain.URLFinding) bool {
		return a.URL == b.URL && a.Score == b.Score
	})
}

func clampScore(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
