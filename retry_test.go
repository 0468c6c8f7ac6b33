package pgtask

import (
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyZeroValueNeverRetries(t *testing.T) {
	var p RetryPolicy
	if _, ok := p.Next(1, errors.New("boom")); ok {
		t.Fatal("zero-value RetryPolicy must never retry")
	}
}

func TestRetryPolicyMaxAttempts(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Mode: BackoffFixed, InitialInterval: time.Second}

	if _, ok := p.Next(1, nil); !ok {
		t.Fatal("expected retry at attempt 1")
	}
	if _, ok := p.Next(2, nil); !ok {
		t.Fatal("expected retry at attempt 2")
	}
	if _, ok := p.Next(3, nil); ok {
		t.Fatal("attempt 3 reached MaxAttempts, expected no retry")
	}
}

func TestRetryPolicyFixedBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Mode: BackoffFixed, InitialInterval: 2 * time.Second}
	d, ok := p.Next(1, nil)
	if !ok || d != 2*time.Second {
		t.Fatalf("expected fixed 2s delay, got %v (ok=%v)", d, ok)
	}
	d, ok = p.Next(4, nil)
	if !ok || d != 2*time.Second {
		t.Fatalf("expected fixed 2s delay at attempt 4, got %v (ok=%v)", d, ok)
	}
}

func TestRetryPolicyLinearBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Mode: BackoffLinear, InitialInterval: time.Second}
	d, ok := p.Next(3, nil)
	if !ok || d != 3*time.Second {
		t.Fatalf("expected linear 3s delay at attempt 3, got %v", d)
	}
}

func TestRetryPolicyExponentialBackoff(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:     6,
		Mode:            BackoffExponential,
		InitialInterval: time.Second,
		Multiplier:      2,
		MaxInterval:     10 * time.Second,
	}
	d, ok := p.Next(1, nil)
	if !ok || d != time.Second {
		t.Fatalf("attempt 1: expected 1s, got %v", d)
	}
	d, ok = p.Next(3, nil)
	if !ok || d != 4*time.Second {
		t.Fatalf("attempt 3: expected 4s, got %v", d)
	}
	d, ok = p.Next(5, nil)
	if !ok || d != 10*time.Second {
		t.Fatalf("attempt 5: expected capped 10s, got %v", d)
	}
}

func TestRetryPolicyJitterStaysInBounds(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:         10,
		Mode:                BackoffFixed,
		InitialInterval:     time.Second,
		RandomizationFactor: 0.5,
	}
	for i := 0; i < 50; i++ {
		d, ok := p.Next(1, nil)
		if !ok {
			t.Fatal("expected retry")
		}
		if d < 500*time.Millisecond || d > 1500*time.Millisecond {
			t.Fatalf("jittered delay %v out of [0.5s, 1.5s]", d)
		}
	}
}

type testKindedError struct {
	kind ErrorKind
}

func (e *testKindedError) Error() string  { return "kinded: " + string(e.kind) }
func (e *testKindedError) Kind() ErrorKind { return e.kind }

func TestRetryPolicyRetryableKindsAllowList(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:     5,
		Mode:            BackoffFixed,
		InitialInterval: time.Millisecond,
		RetryableKinds:  []ErrorKind{"timeout"},
	}

	if _, ok := p.Next(1, &testKindedError{kind: "timeout"}); !ok {
		t.Fatal("expected retry for allow-listed kind")
	}
	if _, ok := p.Next(1, &testKindedError{kind: "fatal"}); ok {
		t.Fatal("expected no retry for non-allow-listed kind")
	}
	if _, ok := p.Next(1, errors.New("plain")); ok {
		t.Fatal("expected no retry for an error with no Kind at all")
	}
}

func TestRetryAndRetryAfterWrap(t *testing.T) {
	base := errors.New("boom")

	err := Retry(base)
	var re *RetryableError
	if !errors.As(err, &re) {
		t.Fatal("Retry must produce a *RetryableError")
	}
	if re.After != 0 {
		t.Fatalf("Retry must not set After, got %v", re.After)
	}
	if !errors.Is(err, base) {
		t.Fatal("Retry must wrap the original error for errors.Is")
	}

	err = RetryAfter(base, 5*time.Second)
	if !errors.As(err, &re) {
		t.Fatal("RetryAfter must produce a *RetryableError")
	}
	if re.After != 5*time.Second {
		t.Fatalf("expected After=5s, got %v", re.After)
	}
}

func TestAbortIsErrJobAborted(t *testing.T) {
	err := Abort(errors.New("context canceled"))
	if !errors.Is(err, ErrJobAborted) {
		t.Fatal("Abort must satisfy errors.Is(err, ErrJobAborted)")
	}
}
