package pgtask

import (
	"context"
	"log/slog"
	"time"

	"github.com/hollowroad/pgtask/internal"
)

const defaultJanitorInterval = time.Minute

// Janitor periodically reaps doing jobs owned by workers that stopped
// heartbeating (spec §8 scenario 6, supplemented feature in SPEC_FULL
// §12). It is independent of Worker: a deployment typically runs one
// Janitor regardless of how many Workers it runs, but nothing prevents
// running one per Worker.
type Janitor struct {
	store    Store
	log      *slog.Logger
	interval time.Duration
	stale    time.Duration

	lc   internal.Lifecycle
	task internal.TimerTask
}

// NewJanitor returns a Janitor that reaps jobs whose owning worker has
// not heartbeat in staleAfter. interval controls how often it checks;
// zero defaults to one minute.
func NewJanitor(store Store, staleAfter time.Duration, interval time.Duration, log *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = defaultJanitorInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Janitor{store: store, log: log, interval: interval, stale: staleAfter}
}

// Start begins the periodic reap loop. It may be called once.
func (j *Janitor) Start(ctx context.Context) error {
	if err := j.lc.TryStart(); err != nil {
		return err
	}
	j.task.Start(ctx, j.reap, j.interval)
	return nil
}

// Stop waits up to timeout for the current reap pass to finish.
func (j *Janitor) Stop(timeout time.Duration) error {
	return j.lc.TryStop(timeout, func() internal.DoneChan {
		return j.task.Stop()
	})
}

func (j *Janitor) reap(ctx context.Context) {
	cutoff := time.Now().Add(-j.stale)
	n, err := j.store.ReapStale(ctx, cutoff)
	if err != nil {
		j.log.Error("reap failed", "err", err)
		return
	}
	if n > 0 {
		j.log.Warn("reaped stale jobs", "count", n, "cutoff", cutoff)
	}
}
