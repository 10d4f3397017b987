package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CoolE88/threat-sentry/internal/domain"
	"github.com/CoolE88/threat-sentry/internal/metrics"
	"github.com/CoolE88/threat-sentry/internal/monitor"
	"github.com/CoolE88/threat-sentry/internal/spectral"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidRange = errors.New("end time must be after start time")
	ErrNotFound     = errors.New("snapshot not found")
	ErrEmptyScan    = fmt.Errorf("%w: nothing to scan", domain.ErrMalformedInput)
	ErrInvalidID    = fmt.Errorf("%w: invalid session ID", domain.ErrMalformedInput)
	ErrNoSpectrum   = errors.New("no audio frame analyzed yet")
)

// Repository журнал опубликованных снапшотов
type Repository interface {
	SaveSnapshot(ctx context.Context, rec *domain.SnapshotRecord) error
	GetSnapshotBySequence(ctx context.Context, sessionID uuid.UUID, sequence uint64) (*domain.SnapshotRecord, error)
	GetSnapshotsByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.SnapshotRecord, error)
	HealthCheck(ctx context.Context) error
}

// Monitor сессия мониторинга, которой управляет сервис
type Monitor interface {
	Start(ctx context.Context, duration time.Duration) error
	Stop()
	State() monitor.State
	ChannelStates() map[domain.ChannelID]monitor.State
	SessionID() uuid.UUID
	Snapshot() domain.ThreatSnapshot
	History() []domain.ThreatSnapshot
	Subscribe(buffer int) (<-chan domain.ThreatSnapshot, func())
	ScanEmail(ctx context.Context, bodies, urls []string) (domain.ScanResult, error)
	Spectrum() (spectral.Spectrum, bool)
}

// Status состояние сессии для потребителей API
type Status struct {
	State     monitor.State                      `json:"state"`
	SessionID uuid.UUID                          `json:"session_id"`
	Sequence  uint64                             `json:"sequence"`
	Band      domain.RiskBand                    `json:"band"`
	Channels  map[domain.ChannelID]monitor.State `json:"channels"`
}

type ThreatService struct {
	monitor Monitor
	repo    Repository
	logger  *zap.Logger
}

func NewThreatService(m Monitor, repo Repository, logger *zap.Logger) *ThreatService {
	return &ThreatService{
		monitor: m,
		repo:    repo,
		logger:  logger,
	}
}

func (s *ThreatService) CheckDBConnection(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}

func (s *ThreatService) StartSession(ctx context.Context, duration time.Duration) (Status, error) {
	if duration < 0 {
		return Status{}, domain.NewConfigError("duration", "must not be negative")
	}
	if err := s.monitor.Start(ctx, duration); err != nil {
		s.logger.Warn("[ThreatService] Failed to start session", zap.Error(err))
		return Status{}, err
	}
	return s.Status(), nil
}

func (s *ThreatService) StopSession() Status {
	s.monitor.Stop()
	return s.Status()
}

func (s *ThreatService) Status() Status {
	snap := s.monitor.Snapshot()
	return Status{
		State:     s.monitor.State(),
		SessionID: s.monitor.SessionID(),
		Sequence:  snap.Sequence,
		Band:      snap.Band,
		Channels:  s.monitor.ChannelStates(),
	}
}

// Snapshot pull-доступ к последнему снапшоту
func (s *ThreatService) Snapshot() domain.ThreatSnapshot {
	return s.monitor.Snapshot()
}

func (s *ThreatService) History() []domain.ThreatSnapshot {
	return s.monitor.History()
}

// Watch push-доступ: канал снапшотов и функция отписки
func (s *ThreatService) Watch(buffer int) (<-chan domain.ThreatSnapshot, func()) {
	return s.monitor.Subscribe(buffer)
}

// Spectrum спектр последнего аудиокадра сессии
func (s *ThreatService) Spectrum() (spectral.Spectrum, error) {
	spec, ok := s.monitor.Spectrum()
	if !ok {
		return spectral.Spectrum{}, ErrNoSpectrum
	}
	return spec, nil
}

// ScanEmail сканирует тела писем и явные URL
func (s *ThreatService) ScanEmail(ctx context.Context, bodies, urls []string) (domain.ScanResult, error) {
	if len(bodies) == 0 && len(urls) == 0 {
		return domain.ScanResult{}, ErrEmptyScan
	}

	res, err := s.monitor.ScanEmail(ctx, bodies, urls)
	if err != nil {
		s.logger.Error("[ThreatService] Email scan failed", zap.Error(err))
		return domain.ScanResult{}, err
	}

	s.logger.Info("[ThreatService] Email scan completed",
		zap.Int("bodies", len(bodies)),
		zap.Int("findings", len(res.Findings)),
		zap.Float64("score", res.Score.Value))

	return res, nil
}

// GetSnapshot запись журнала по сессии и sequence
func (s *ThreatService) GetSnapshot(ctx context.Context, sessionID string, sequence uint64) (*domain.SnapshotRecord, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}

	rec, err := s.repo.GetSnapshotBySequence(ctx, id, sequence)
	if err != nil {
		s.logger.Error("[ThreatService] Failed to get snapshot",
			zap.String("session_id", sessionID),
			zap.Uint64("sequence", sequence),
			zap.Error(err))
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}

	return rec, nil
}

// GetSnapshotsByTimeRange записи журнала за интервал [start, end)
func (s *ThreatService) GetSnapshotsByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.SnapshotRecord, error) {
	if end.Before(start) {
		return nil, ErrInvalidRange
	}

	data, err := s.repo.GetSnapshotsByTimeRange(ctx, start, end)
	if err != nil {
		s.logger.Error("[ThreatService] Failed to get snapshots by time range",
			zap.Time("start", start),
			zap.Time("end", end),
			zap.Error(err))
		return nil, err
	}

	return data, nil
}

// RunJournal сохраняет каждый новый (session, sequence) снапшот до отмены ctx.
// Ошибки сохранения не останавливают мониторинг.
func (s *ThreatService) RunJournal(ctx context.Context) {
	updates, cancel := s.monitor.Subscribe(64)
	defer cancel()

	var lastSession uuid.UUID
	var lastSeq uint64
	var saved bool

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("[ThreatService] Journal stopped")
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if saved && snap.SessionID == lastSession && snap.Sequence == lastSeq {
				continue
			}
			if snap.SessionID == uuid.Nil {
				continue
			}

			if err := s.repo.SaveSnapshot(ctx, domain.NewSnapshotRecord(snap)); err != nil {
				if ctx.Err() != nil {
					return
				}
				metrics.JournalFailures.Inc()
				s.logger.Error("[ThreatService] Failed to journal snapshot",
					zap.String("session_id", snap.SessionID.String()),
					zap.Uint64("sequence", snap.Sequence),
					zap.Error(err))
				continue
			}

			lastSession, lastSeq, saved = snap.SessionID, snap.Sequence, true
		}
	}
}
