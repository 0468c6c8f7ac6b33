package pgtask

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hollowroad/pgtask/job"
)

// fakeStore is an in-memory pgtask.Store used to exercise Worker's
// fetch/dispatch/finish loop without a database, in the teacher's
// mock-collaborator test style (clean_worker_test.go's mockCleaner).
type fakeStore struct {
	mu       sync.Mutex
	jobs     map[int64]*job.Job
	nextID   int64
	finishes []finishCall
	heartbeats int
}

type finishCall struct {
	jobID   int64
	outcome Outcome
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[int64]*job.Job)}
}

func (s *fakeStore) Defer(ctx context.Context, spec JobSpec) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if spec.QueueingLock != nil {
		for _, jb := range s.jobs {
			if jb.QueueingLock != nil && *jb.QueueingLock == *spec.QueueingLock && !jb.Status.Terminal() {
				return 0, ErrAlreadyEnqueued
			}
		}
	}
	s.nextID++
	id := s.nextID
	s.jobs[id] = &job.Job{
		ID: id, Queue: spec.Queue, Task: spec.Task, Args: spec.Args,
		ScheduledFor: spec.ScheduledFor, QueueingLock: spec.QueueingLock,
		Status: job.Todo,
	}
	return id, nil
}

func (s *fakeStore) FetchOne(ctx context.Context, workerID [16]byte, queues []string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id := int64(1); id <= s.nextID; id++ {
		jb, ok := s.jobs[id]
		if !ok || jb.Status != job.Todo || !jb.Due(now) {
			continue
		}
		jb.Status = job.Doing
		jb.WorkerID = workerID
		cp := *jb
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeStore) Finish(ctx context.Context, jobID int64, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishes = append(s.finishes, finishCall{jobID: jobID, outcome: outcome})
	jb, ok := s.jobs[jobID]
	if !ok || jb.Status != job.Doing {
		return ErrUnexpectedJobStatus
	}
	outcome.Visit(
		func() { jb.Status = job.Succeeded; jb.Attempts++ },
		func() { jb.Status = job.Failed; jb.Attempts++ },
		func(at time.Time) { jb.Status = job.Todo; jb.ScheduledFor = &at; jb.Attempts++ },
	)
	return nil
}

func (s *fakeStore) ListJobs(ctx context.Context, filter ListFilter) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*job.Job
	for _, jb := range s.jobs {
		cp := *jb
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) CancelJob(ctx context.Context, jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	jb, ok := s.jobs[jobID]
	if !ok || jb.Status != job.Todo {
		return nil
	}
	jb.Status = job.Failed
	return nil
}

func (s *fakeStore) DeleteFinishedJobs(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeStore) DeferPeriodic(ctx context.Context, taskName, cronExpr, queue string, slot time.Time, args map[string]any) (int64, bool, error) {
	return 0, false, nil
}

func (s *fakeStore) ListEvents(ctx context.Context, jobID int64) ([]Event, error) {
	return nil, nil
}

func (s *fakeStore) ReapStale(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeStore) Heartbeat(ctx context.Context, workerID [16]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats++
	return nil
}

// fakeConnector is a no-op Connector: Worker only needs Listen to not
// error, and the test drives everything through polling.
type fakeConnector struct{}

func (fakeConnector) Execute(ctx context.Context, query string, args ...any) (Rows, error) {
	return nil, errors.New("fakeConnector: Execute not used in these tests")
}
func (fakeConnector) Listen(ctx context.Context, channel string, sink chan<- Notification) error {
	return nil
}
func (fakeConnector) Close() error { return nil }

func newTestWorker(store *fakeStore, concurrency int) *Worker {
	return NewWorker(store, fakeConnector{}, NewRegistry(), Config{
		Concurrency:     concurrency,
		PollingInterval: 10 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
	})
}

func TestWorkerProcessesJobSuccessfully(t *testing.T) {
	store := newFakeStore()
	registry := NewRegistry()
	called := make(chan struct{}, 1)
	if err := registry.Register(&Task{
		Name: "email.send",
		Handler: func(ctx context.Context, args map[string]any) error {
			called <- struct{}{}
			return nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	w := NewWorker(store, fakeConnector{}, registry, Config{
		Concurrency:     1,
		PollingInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}

	id, err := store.Defer(ctx, JobSpec{Queue: "default", Task: "email.send"})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}

	waitForStatus(t, store, id, job.Succeeded)

	if err := w.Stop(time.Second); err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	attempts := store.jobs[id].Attempts
	store.mu.Unlock()
	if attempts != 1 {
		t.Fatalf("expected attempts=1 after one successful run, got %d", attempts)
	}
}

func TestWorkerTaskNotFoundFailsJob(t *testing.T) {
	store := newFakeStore()
	w := newTestWorker(store, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}

	id, err := store.Defer(ctx, JobSpec{Queue: "q", Task: "unregistered.task"})
	if err != nil {
		t.Fatal(err)
	}

	waitForStatus(t, store, id, job.Failed)

	if err := w.Stop(time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestWorkerRetriesOnPolicyDecision(t *testing.T) {
	store := newFakeStore()
	registry := NewRegistry()

	var attempts int
	var mu sync.Mutex
	if err := registry.Register(&Task{
		Name: "flaky",
		Retry: RetryPolicy{
			MaxAttempts:     3,
			Mode:            BackoffFixed,
			InitialInterval: 5 * time.Millisecond,
		},
		Handler: func(ctx context.Context, args map[string]any) error {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n < 3 {
				return errors.New("transient failure")
			}
			return nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	w := NewWorker(store, fakeConnector{}, registry, Config{
		Concurrency:     1,
		PollingInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}

	id, err := store.Defer(ctx, JobSpec{Queue: "q", Task: "flaky"})
	if err != nil {
		t.Fatal(err)
	}

	waitForStatus(t, store, id, job.Succeeded)

	if err := w.Stop(time.Second); err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	finalAttempts := store.jobs[id].Attempts
	store.mu.Unlock()
	if finalAttempts != 3 {
		t.Fatalf("expected 3 attempts (2 retries + 1 success), got %d", finalAttempts)
	}
}

func TestWorkerJobAbortedSkipsRetry(t *testing.T) {
	store := newFakeStore()
	registry := NewRegistry()
	if err := registry.Register(&Task{
		Name:  "aborts",
		Retry: RetryPolicy{MaxAttempts: 5, Mode: BackoffFixed, InitialInterval: time.Millisecond},
		Handler: func(ctx context.Context, args map[string]any) error {
			return Abort(errors.New("give up"))
		},
	}); err != nil {
		t.Fatal(err)
	}

	w := NewWorker(store, fakeConnector{}, registry, Config{
		Concurrency:     1,
		PollingInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}

	id, err := store.Defer(ctx, JobSpec{Queue: "q", Task: "aborts"})
	if err != nil {
		t.Fatal(err)
	}

	waitForStatus(t, store, id, job.Failed)

	store.mu.Lock()
	finalAttempts := store.jobs[id].Attempts
	store.mu.Unlock()
	if finalAttempts != 1 {
		t.Fatalf("JobAborted must not be retried, expected attempts=1, got %d", finalAttempts)
	}

	if err := w.Stop(time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestWorkerDoubleStartAndStop(t *testing.T) {
	store := newFakeStore()
	w := newTestWorker(store, 1)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(ctx); err == nil {
		t.Fatal("expected error on double Start")
	}
	if err := w.Stop(time.Second); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(time.Second); err == nil {
		t.Fatal("expected error on double Stop")
	}
}

func TestWorkerSendsHeartbeats(t *testing.T) {
	store := newFakeStore()
	w := newTestWorker(store, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		n := store.heartbeats
		store.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	store.mu.Lock()
	n := store.heartbeats
	store.mu.Unlock()
	if n == 0 {
		t.Fatal("expected at least one heartbeat to have been recorded")
	}

	if err := w.Stop(time.Second); err != nil {
		t.Fatal(err)
	}
}

func waitForStatus(t *testing.T, store *fakeStore, id int64, want job.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		got := store.jobs[id].Status
		store.mu.Unlock()
		if got == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %d never reached status %v", id, want)
}
