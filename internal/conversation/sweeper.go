package conversation

import (
	"context"
	"log/slog"
	"time"
)

const defaultSweepInterval = time.Minute

// StartSweeper periodically disposes sessions idle for longer than ttl.
// It stops when ctx is cancelled.
func StartSweeper(ctx context.Context, m *Manager, interval, ttl time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				if n := m.Sweep(ttl); n > 0 {
					slog.Info("Session sweeper disposed idle sessions", "count", n, "live", m.Len())
				}
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
