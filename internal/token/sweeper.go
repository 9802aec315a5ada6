package token

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunSweeper периодически вычищает истёкшие токены. Блокирует до отмены ctx.
func RunSweeper(ctx context.Context, store Store, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.SweepExpired(ctx)
			if err != nil {
				log.Warn("token sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Debug("expired tokens swept", zap.Int("count", n))
			}
		}
	}
}
