package live

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/live-herald/ledger"
	"github.com/onnwee/live-herald/telemetry"
)

const (
	DefaultPruneInterval = 24 * time.Hour
	DefaultStaleTicks    = 288
)

// Pruner periodically drops ledger entries whose broadcaster has not been
// seen live for more than StaleTicks ticks. Failures are logged and retried
// on the next interval; they never affect polling.
type Pruner struct {
	Ledger     ledger.Ledger
	Interval   time.Duration
	StaleTicks int64
	Clock      Clock
}

// Run prunes every Interval until ctx is cancelled.
func (p *Pruner) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	clock := p.Clock
	if clock == nil {
		clock = RealClock
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-clock.After(interval):
		}
		_, _ = p.PruneOnce(ctx)
	}
}

// PruneOnce runs a single prune pass.
func (p *Pruner) PruneOnce(ctx context.Context) (int, error) {
	stale := p.StaleTicks
	if stale <= 0 {
		stale = DefaultStaleTicks
	}
	n, err := p.Ledger.Prune(ctx, stale)
	if err != nil {
		slog.Warn("ledger prune failed", slog.String("component", "pruner"), slog.Any("err", err))
		return 0, err
	}
	remaining := -1
	if entries, err := p.Ledger.Entries(ctx); err == nil {
		remaining = len(entries)
	}
	telemetry.ObservePrune(n, remaining)
	if n > 0 {
		slog.Info("pruned stale ledger entries", slog.String("component", "pruner"), slog.Int("removed", n), slog.Int64("stale_ticks", stale))
	}
	return n, nil
}
