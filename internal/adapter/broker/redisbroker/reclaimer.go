package redisbroker

import (
	"context"
	"log/slog"
	"time"
)

// Reclaimer periodically sweeps expired leases so jobs abandoned by a dead
// worker return to the queue (or fail terminally once out of attempts).
type Reclaimer struct {
	broker   *Broker
	interval time.Duration
}

// NewReclaimer builds a sweeper over the broker. interval <= 0 defaults to 30s.
func NewReclaimer(b *Broker, interval time.Duration) *Reclaimer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reclaimer{broker: b, interval: interval}
}

// Run sweeps on a ticker until ctx is done. Sweep failures are logged and
// retried next tick; the loop never aborts on them.
func (r *Reclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	slog.Info("lease reclaimer started", slog.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			slog.Info("lease reclaimer stopped")
			return
		case <-ticker.C:
			n, err := r.broker.ReclaimExpired(ctx)
			if err != nil {
				slog.Error("lease reclaim sweep failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				slog.Warn("reclaimed expired leases", slog.Int("count", n))
			}
		}
	}
}
