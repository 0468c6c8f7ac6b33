// Package periodic defers jobs for cron-scheduled tasks on a fixed
// cadence, independent of any Worker (spec §4.4).
//
// A Deferrer never runs task handlers itself; it only calls
// Store.DeferPeriodic at each due slot, leaving execution to whichever
// Worker next fetches the resulting job. Running more than one Deferrer
// process for the same task is safe: DeferPeriodic's (task, expr, slot)
// dedup key makes the insert idempotent.
package periodic

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hollowroad/pgtask"
	"github.com/hollowroad/pgtask/internal"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// seedLookback bounds how far New looks back for a task's last missed
// slot at construction time. It only needs to be wider than the widest
// realistic cron period (a yearly schedule, say) — past that window, a
// schedule with no occurrence is treated as having none to catch up on.
const seedLookback = 370 * 24 * time.Hour

// lastAtOrBefore returns the latest instant at or before now that sched
// matches, so a (re)started Deferrer enqueues the one slot it missed
// instead of waiting a full period for the next one (spec §4.4: "late
// deferrals still enqueue the last missed slot"). cron.Schedule only
// exposes Next, which is monotonic non-decreasing in its argument, so the
// last occurrence at-or-before now is found by binary-searching for the
// boundary between "from" values whose next occurrence still lands at or
// before now and those whose next occurrence has passed it. If no
// occurrence falls within lookback, New falls back to the next future
// occurrence — there is nothing to catch up on.
func lastAtOrBefore(sched cron.Schedule, now time.Time, lookback time.Duration) time.Time {
	lo := now.Add(-lookback)
	if sched.Next(lo).After(now) {
		return sched.Next(now)
	}
	hi := now
	for hi.Sub(lo) > time.Second {
		mid := lo.Add(hi.Sub(lo) / 2)
		if sched.Next(mid).After(now) {
			hi = mid
		} else {
			lo = mid
		}
	}
	return sched.Next(lo)
}

// Deferrer evaluates every periodic Task in a Registry against its cron
// expression and calls Store.DeferPeriodic exactly once per due slot.
//
// Only the immediately due slot is ever deferred (bounded max-lookback
// of one slot, spec §4.4): a Deferrer that was down for several missed
// slots does not backfill them, it simply resumes from "now" forward.
type Deferrer struct {
	store Store
	log   *slog.Logger
	pool  *internal.WorkerPool[dueSlot]

	entries []*entry

	lc     internal.Lifecycle
	stopCh chan struct{}
	done   chan struct{}
}

// Store is the subset of pgtask.Store a Deferrer needs.
type Store interface {
	DeferPeriodic(ctx context.Context, taskName, cronExpr, queue string, slot time.Time, args map[string]any) (jobID int64, enqueued bool, err error)
}

type entry struct {
	task     *pgtask.Task
	schedule cron.Schedule
	next     time.Time
}

type dueSlot struct {
	task *pgtask.Task
	slot time.Time
}

// New builds a Deferrer for every task in tasks that carries a
// PeriodicSchedule. Tasks without one are ignored. concurrency bounds
// how many DeferPeriodic calls run at once when several slots land
// together; zero defaults to 1.
func New(store Store, tasks []*pgtask.Task, concurrency int, log *slog.Logger) (*Deferrer, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	d := &Deferrer{
		store: store,
		log:   log,
		pool:  internal.NewWorkerPool[dueSlot](concurrency, concurrency, log),
	}
	now := time.Now()
	for _, t := range tasks {
		if t.Periodic == nil {
			continue
		}
		sched, err := parser.Parse(t.Periodic.CronExpr)
		if err != nil {
			return nil, err
		}
		d.entries = append(d.entries, &entry{
			task:     t,
			schedule: sched,
			next:     lastAtOrBefore(sched, now, seedLookback),
		})
	}
	return d, nil
}

// Start begins the sleep-to-next-boundary loop. It may be called once.
func (d *Deferrer) Start(ctx context.Context) error {
	if err := d.lc.TryStart(); err != nil {
		return err
	}
	d.stopCh = make(chan struct{})
	d.done = make(chan struct{})

	poolCtx, poolCancel := context.WithCancel(ctx)
	d.pool.Start(poolCtx, d.dispatch)

	go func() {
		defer close(d.done)
		defer poolCancel()
		d.loop(ctx)
	}()
	return nil
}

// Stop waits up to timeout for the loop and any in-flight defers to
// finish.
func (d *Deferrer) Stop(timeout time.Duration) error {
	return d.lc.TryStop(timeout, func() internal.DoneChan {
		close(d.stopCh)
		dc := make(internal.DoneChan)
		go func() {
			<-d.done
			<-d.pool.Stop()
			close(dc)
		}()
		return dc
	})
}

func (d *Deferrer) loop(ctx context.Context) {
	if len(d.entries) == 0 {
		select {
		case <-ctx.Done():
		case <-d.stopCh:
		}
		return
	}
	for {
		wait := d.nextWake()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-d.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
		d.fireDue()
	}
}

func (d *Deferrer) nextWake() time.Duration {
	earliest := d.entries[0].next
	for _, e := range d.entries[1:] {
		if e.next.Before(earliest) {
			earliest = e.next
		}
	}
	wait := time.Until(earliest)
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (d *Deferrer) fireDue() {
	now := time.Now()
	for _, e := range d.entries {
		if e.next.After(now) {
			continue
		}
		slot := e.next
		for n := e.schedule.Next(slot); !n.After(now); n = e.schedule.Next(n) {
			slot = n
		}
		e.next = e.schedule.Next(now)
		if !d.pool.Push(dueSlot{task: e.task, slot: slot}) {
			d.log.Warn("periodic dispatcher stopped, slot dropped", "task", e.task.Name, "slot", slot)
		}
	}
}

func (d *Deferrer) dispatch(ctx context.Context, ds dueSlot) {
	var args map[string]any
	if ds.task.Periodic != nil {
		args = ds.task.Periodic.Args
	}
	queue := ds.task.Periodic.Queue
	if queue == "" {
		queue = "default"
	}
	_, enqueued, err := d.store.DeferPeriodic(ctx, ds.task.Name, ds.task.Periodic.CronExpr, queue, ds.slot, args)
	if err != nil {
		d.log.Error("periodic defer failed", "task", ds.task.Name, "slot", ds.slot, "err", err)
		return
	}
	if !enqueued {
		d.log.Debug("periodic slot already deferred", "task", ds.task.Name, "slot", ds.slot)
	}
}
