package monitor

import (
	"fmt"

	"github.com/CoolE88/threat-sentry/internal/domain"

	"go.uber.org/zap"
)

// safeRun выполняет fn с перехватом паники. Паника в цикле канала
// превращается в ErrSourceUnavailable и не роняет остальные каналы.
func safeRun(logger *zap.Logger, channel domain.ChannelID, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrSourceUnavailable, rec)
			logger.Error("[Monitor] Recovered panic in channel cycle",
				zap.String("channel", string(channel)),
				zap.Any("panic", rec))
		}
	}()
	return fn()
}
