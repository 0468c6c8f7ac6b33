package pgtask

import (
	"errors"
	"time"
)

var (
	// ErrAlreadyEnqueued is returned by Store.Defer when the job's
	// QueueingLock is already held by a job in status todo or doing.
	// Never retried; the caller decides what to do.
	ErrAlreadyEnqueued = errors.New("pgtask: queueing lock already held")

	// ErrTaskNotFound is the outcome of fetching a job whose Task name is
	// not registered with this worker's Registry. Non-retryable: the job
	// finishes failed and the condition is logged.
	ErrTaskNotFound = errors.New("pgtask: task not registered")

	// ErrJobAborted marks a job as failed immediately, with no retry,
	// regardless of its RetryPolicy. Raise it (via Abort) from a handler
	// reacting to cooperative cancellation.
	ErrJobAborted = errors.New("pgtask: job aborted")

	// ErrUnexpectedJobStatus means a Finish call found the target row
	// not in status doing. This indicates either a programmer error
	// (finishing a job twice) or a janitor reaping it out from under a
	// slow handler; it is logged and swallowed, never surfaced to the
	// handler.
	ErrUnexpectedJobStatus = errors.New("pgtask: job was not in doing status")

	// ErrConnectorClosed is returned by Connector methods called after
	// Close.
	ErrConnectorClosed = errors.New("pgtask: connector closed")
)

// RetryableError requests that a job be retried. Returning one from a
// task handler is equivalent to letting the RetryPolicy decide, except
// that After, when non-zero, overrides the policy's computed delay.
type RetryableError struct {
	Err   error
	After time.Duration
}

func (e *RetryableError) Error() string {
	if e.Err == nil {
		return "pgtask: retry requested"
	}
	return "pgtask: retry requested: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error { return e.Err }

// Retry wraps err as a RetryableError with no explicit delay override,
// leaving the decision to the task's RetryPolicy.
func Retry(err error) error {
	return &RetryableError{Err: err}
}

// RetryAfter wraps err as a RetryableError that requests retrying after
// exactly d, bypassing the RetryPolicy's backoff computation (the max
// attempts / allow-list checks still apply).
func RetryAfter(err error, d time.Duration) error {
	return &RetryableError{Err: err, After: d}
}

type abortedError struct {
	err error
}

func (e *abortedError) Error() string {
	if e.err == nil {
		return ErrJobAborted.Error()
	}
	return ErrJobAborted.Error() + ": " + e.err.Error()
}

func (e *abortedError) Unwrap() error { return e.err }

func (e *abortedError) Is(target error) bool { return target == ErrJobAborted }

// Abort wraps err so that errors.Is(err, ErrJobAborted) is true. A
// handler returning such an error finishes the job as failed with no
// retry, regardless of RetryPolicy. This is the cooperative-cancellation
// return path: a handler whose ctx was canceled by a Worker shutdown
// should prefer returning RetryAfter(err, 0) instead, so the job goes
// back to todo rather than failed — Abort is for handlers that decide
// cancellation means the job itself is no longer worth doing.
func Abort(err error) error {
	return &abortedError{err: err}
}

// ErrorKind classifies an error for RetryPolicy allow-listing (spec
// §4.3: "an allow-list of retryable error kinds"). Tasks whose handlers
// return errors worth distinguishing should implement KindedError.
type ErrorKind string

// KindedError lets a handler tag an error with an ErrorKind so a
// RetryPolicy's RetryableKinds allow-list can make a decision without
// string-matching error messages.
type KindedError interface {
	error
	Kind() ErrorKind
}
