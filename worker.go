package pgtask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hollowroad/pgtask/internal"
	"github.com/hollowroad/pgtask/job"
)

const (
	defaultPollingInterval     = 5 * time.Second
	defaultShutdownGrace       = 30 * time.Second
	defaultHeartbeatInterval   = 10 * time.Second
	anyQueueChannel            = "pgtask_any_queue"
	queueChannelPrefix         = "pgtask_queue_"
)

// Worker owns N concurrent sub-workers (spec §4.3). Each sub-worker
// independently fetches, dispatches to the matching registered Task, and
// reports the outcome, falling back to a bounded poll when idle and no
// NOTIFY arrives.
//
// Worker has a strict lifecycle: Start may be called once; Stop performs
// a two-phase drain (stop fetching, then wait up to a grace period
// before cancelling in-flight handlers) and may be called once.
type Worker struct {
	store     Store
	connector Connector
	registry  *Registry

	id           uuid.UUID
	log          *slog.Logger
	queues       []string
	concurrency  int
	pollInterval time.Duration
	grace        time.Duration
	heartbeatInt time.Duration

	start internal.Lifecycle
	stopped atomic.Bool

	wake       *internal.Broadcaster
	stopCh     chan struct{}
	execCancel context.CancelFunc
	listenCancel context.CancelFunc
	heartbeat  internal.TimerTask
	wg         sync.WaitGroup
}

// NewWorker constructs a Worker. store and connector must be non-nil;
// registry is consulted by name for every fetched job. The worker is not
// started automatically — call Start.
func NewWorker(store Store, connector Connector, registry *Registry, cfg Config, opts ...Option) *Worker {
	w := &Worker{
		store:        store,
		connector:    connector,
		registry:     registry,
		id:           uuid.New(),
		log:          slog.Default(),
		queues:       cfg.Queues,
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollingInterval,
		grace:        cfg.ShutdownGracePeriod,
		heartbeatInt: cfg.HeartbeatInterval,
		wake:         internal.NewBroadcaster(),
	}
	if w.concurrency < 1 {
		w.concurrency = 1
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollingInterval
	}
	if w.grace <= 0 {
		w.grace = defaultShutdownGrace
	}
	if w.heartbeatInt <= 0 {
		w.heartbeatInt = defaultHeartbeatInterval
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the worker's identifier, used to attribute doing jobs and
// heartbeat rows to this process.
func (w *Worker) ID() uuid.UUID { return w.id }

// Start begins background fetching and processing. ctx bounds the
// worker's entire lifetime; cancelling it stops fetching and cancels
// in-flight handlers' context at once, with no grace period.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.start.TryStart(); err != nil {
		return err
	}

	w.stopCh = make(chan struct{})

	execCtx, execCancel := context.WithCancel(ctx)
	w.execCancel = execCancel

	listenCtx, listenCancel := context.WithCancel(ctx)
	w.listenCancel = listenCancel
	w.startListening(listenCtx)

	w.heartbeat.Start(execCtx, w.tickHeartbeat, w.heartbeatInt)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.subworker(execCtx)
	}
	return nil
}

// Stop initiates the two-phase graceful shutdown described in spec
// §4.3/§5: stop accepting new fetches, wait up to grace for in-flight
// jobs, then cancel their context. Stop returns ErrStopTimeout if
// in-flight jobs are still running when grace elapses — they may still
// be finishing in the background. A non-positive grace uses
// Config.ShutdownGracePeriod.
func (w *Worker) Stop(grace time.Duration) error {
	if !w.stopped.CompareAndSwap(false, true) {
		return internal.ErrDoubleStopped
	}
	if grace <= 0 {
		grace = w.grace
	}
	close(w.stopCh)
	w.listenCancel()
	heartbeatDone := w.heartbeat.Stop()

	workersDone := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(workersDone)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-workersDone:
		<-heartbeatDone
		w.execCancel()
		return nil
	case <-timer.C:
		w.execCancel()
		return internal.ErrStopTimeout
	}
}

func (w *Worker) startListening(ctx context.Context) {
	sink := make(chan Notification, 16)
	channels := []string{anyQueueChannel}
	for _, q := range w.queues {
		channels = append(channels, queueChannelPrefix+q)
	}
	for _, ch := range channels {
		if err := w.connector.Listen(ctx, ch, sink); err != nil {
			w.log.Warn("listen failed, falling back to polling only", "channel", ch, "err", err)
		}
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sink:
				if !ok {
					return
				}
				w.wake.Wake()
			}
		}
	}()
}

func (w *Worker) tickHeartbeat(ctx context.Context) {
	if err := w.store.Heartbeat(ctx, w.id); err != nil {
		w.log.Warn("heartbeat failed", "worker_id", w.id, "err", err)
	}
}

func (w *Worker) subworker(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		jb, err := w.store.FetchOne(ctx, w.id, w.queues)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error("fetch failed", "err", err)
			w.idle(ctx)
			continue
		}
		if jb == nil {
			w.idle(ctx)
			continue
		}
		w.execute(ctx, jb)
	}
}

// idle is the sub-worker's step 3: wait for NOTIFY, the polling timer,
// or cancellation, whichever comes first.
func (w *Worker) idle(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-timer.C:
	case <-w.wake.Wait():
	}
}

func (w *Worker) execute(execCtx context.Context, jb *job.Job) {
	task, ok := w.registry.Lookup(jb.Task)
	if !ok {
		w.log.Warn("task not found", "job_id", jb.ID, "task", jb.Task, "err", ErrTaskNotFound)
		w.finish(execCtx, jb.ID, Failure())
		return
	}

	handlerCtx := execCtx
	if !task.PassContext {
		handlerCtx = context.WithoutCancel(execCtx)
	}

	err := w.runHandler(handlerCtx, task, jb)

	outcome := w.outcomeFor(jb, task, err, execCtx.Err() != nil && task.PassContext)
	w.finish(execCtx, jb.ID, outcome)
}

func (w *Worker) runHandler(ctx context.Context, t *Task, jb *job.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("handler panic", "job_id", jb.ID, "task", jb.Task, "err", r)
			err = Abort(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return t.Handler(ctx, jb.Args)
}

// outcomeFor implements the outcome-handling table from spec §4.3.
func (w *Worker) outcomeFor(jb *job.Job, t *Task, err error, shutdownCanceled bool) Outcome {
	if err == nil {
		return Success()
	}
	if errors.Is(err, ErrJobAborted) {
		return Failure()
	}
	if shutdownCanceled {
		// Cooperative-cancellation return path: the handler observed
		// the grace-period cancellation. The job goes back to todo
		// immediately, regardless of policy or the exact error.
		return RetryAt(time.Now())
	}

	attempt := jb.Attempts + 1

	var retryable *RetryableError
	if errors.As(err, &retryable) {
		d, ok := t.Retry.Next(attempt, err)
		if !ok {
			return Failure()
		}
		if retryable.After > 0 {
			d = retryable.After
		}
		return RetryAt(time.Now().Add(d))
	}

	if d, ok := t.Retry.Next(attempt, err); ok {
		return RetryAt(time.Now().Add(d))
	}
	return Failure()
}

func (w *Worker) finish(ctx context.Context, jobID int64, outcome Outcome) {
	// Finish must still reach the store even if execCtx was cancelled
	// for the handler — use context.WithoutCancel so a forced shutdown
	// cancellation doesn't also abort the bookkeeping write.
	if err := w.store.Finish(context.WithoutCancel(ctx), jobID, outcome); err != nil {
		if errors.Is(err, ErrUnexpectedJobStatus) {
			w.log.Warn("finish found job not in doing status", "job_id", jobID, "err", err)
			return
		}
		w.log.Error("finish failed", "job_id", jobID, "err", err)
	}
}
