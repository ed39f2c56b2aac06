package session

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically deletes expired sessions until its context ends.
type Sweeper struct {
	Store    Store
	Interval time.Duration
	Logger   *slog.Logger
}

func (sw *Sweeper) Run(ctx context.Context) {
	l := sw.Logger
	if l == nil {
		l = slog.Default()
	}
	l = l.With("svc", "session.sweeper")

	interval := sw.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sw.Store.Sweep(ctx)
			if err != nil {
				l.Warn("sweep_failed", "error", err)
				continue
			}
			if n > 0 {
				l.Info("sweep_done", "removed", n)
			}
		}
	}
}
