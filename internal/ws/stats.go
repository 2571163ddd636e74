package ws

import (
	"context"
	"time"

	"go.uber.org/zap"

	"buddy-chat/internal/models"
)

// RunStats broadcasts server_stats to every registered connection on each tick until ctx is done.
func RunStats(ctx context.Context, hub *Hub, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n := hub.Count()
			sent := hub.Broadcast(models.ServerStatsEvent{
				Type:        models.TypeServerStats,
				Connections: n,
				Timestamp:   now.UTC(),
			})
			zap.L().Debug("server stats", zap.Int("connections", n), zap.Int("sent", sent))
		}
	}
}
