package chat

import (
	"context"
	"log/slog"
	"time"
)

// SweepCallback is invoked after each sweep that removed at least one session.
type SweepCallback func(removed int)

// StartSweeper runs o.Sweep every interval until ctx is cancelled.
func StartSweeper(ctx context.Context, o *Orchestrator, interval time.Duration, onSweep SweepCallback) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", o.opts.SessionTTL)

		for {
			select {
			case <-ticker.C:
				removed := o.Sweep(ctx, o.now())
				if removed == 0 {
					continue
				}
				slog.Info("Session sweeper removed idle sessions", "count", removed)
				if onSweep != nil {
					onSweep(removed)
				}
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
