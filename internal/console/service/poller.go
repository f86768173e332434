package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const DefaultMetricsInterval = 30 * time.Second

// RunMetricsPoller обновляет метрики по таймеру до отмены ctx.
// Тик выполняется всегда, независимо от исхода предыдущего.
func (a *Aggregator) RunMetricsPoller(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultMetricsInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.Info("metrics poller started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("metrics poller stopped")
			return
		case <-ticker.C:
			if err := a.RefreshMetrics(ctx); err != nil {
				a.logger.Debug("scheduled metrics refresh failed", zap.Error(err))
			}
		}
	}
}
