package duel

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

const defaultSweepInterval = 30 * time.Second

// Sweeper drives the timeout path of adjudication: duels whose participants
// never checked in are finalized once the grace deadline passes, even if no
// further request ever touches them.
type Sweeper struct {
	svc      *Service
	clock    clockwork.Clock
	interval time.Duration
}

func NewSweeper(svc *Service, clock clockwork.Clock, interval time.Duration) *Sweeper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	return &Sweeper{svc: svc, clock: clock, interval: interval}
}

// Run sweeps until the context is canceled.
func (w *Sweeper) Run(ctx context.Context) error {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			n, err := w.svc.SweepOverdue(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "duel: sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.InfoContext(ctx, "duel: sweep completed overdue duels", "count", n)
			}
		}
	}
}
