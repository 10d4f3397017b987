package monitor

import (
	"github.com/CoolE88/threat-sentry/internal/domain"

	"go.uber.org/zap"
)

// reporter пишет в лог смену уровня риска. Доставка уведомлений пользователю внешняя.
type reporter struct {
	logger *zap.Logger
	last   domain.RiskBand
}

func newReporter(logger *zap.Logger) *reporter {
	return &reporter{logger: logger}
}

func (r *reporter) reset() {
	r.last = ""
}

// observe возвращает true, если уровень риска изменился
func (r *reporter) observe(snap domain.ThreatSnapshot) bool {
	if snap.Band == r.last {
		return false
	}

	fields := []zap.Field{
		zap.String("session_id", snap.SessionID.String()),
		zap.Uint64("sequence", snap.Sequence),
		zap.String("from", string(r.last)),
		zap.String("to", string(snap.Band)),
		zap.Float64("composite", snap.Composite),
		zap.Int("active_channels", snap.ActiveChannels),
	}
	r.last = snap.Band

	switch snap.Band {
	case domain.RiskHigh:
		r.logger.Warn("[Monitor] High threat level detected", fields...)
	default:
		r.logger.Info("[Monitor] Risk band changed", fields...)
	}
	return true
}
