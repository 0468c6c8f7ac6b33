package pgtask

import (
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// BackoffMode selects the shape of a RetryPolicy's delay curve.
type BackoffMode uint8

const (
	// BackoffFixed always waits InitialInterval.
	BackoffFixed BackoffMode = iota
	// BackoffLinear waits InitialInterval * attempt.
	BackoffLinear
	// BackoffExponential waits InitialInterval * Multiplier^(attempt-1).
	BackoffExponential
)

// RetryPolicy decides, given how many attempts a job has already made
// and the error its last attempt raised, whether to retry and after what
// delay (spec §4.3). Policies are pure functions of their inputs.
//
// The zero value never retries: MaxAttempts of 0 means "no retries".
type RetryPolicy struct {
	// MaxAttempts is the inclusive cap on attempts before a job is
	// given up on.
	MaxAttempts uint32

	Mode                BackoffMode
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64

	// RetryableKinds, if non-empty, restricts retries to errors whose
	// KindedError.Kind() appears in this list. An empty list retries
	// any error kind.
	RetryableKinds []ErrorKind
}

// Next returns the delay before the next attempt, and whether the job
// should be retried at all. attempt is the number of attempts made so
// far (1 after the first failure).
func (p RetryPolicy) Next(attempt uint32, err error) (time.Duration, bool) {
	if p.MaxAttempts == 0 || attempt >= p.MaxAttempts {
		return 0, false
	}
	if !p.allows(err) {
		return 0, false
	}
	return p.delay(attempt), true
}

func (p RetryPolicy) allows(err error) bool {
	if len(p.RetryableKinds) == 0 {
		return true
	}
	var kinded KindedError
	if !errors.As(err, &kinded) {
		return false
	}
	for _, k := range p.RetryableKinds {
		if kinded.Kind() == k {
			return true
		}
	}
	return false
}

func (p RetryPolicy) delay(attempt uint32) time.Duration {
	var d float64
	switch p.Mode {
	case BackoffLinear:
		d = float64(p.InitialInterval) * float64(attempt)
	case BackoffExponential:
		d = float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(attempt-1))
	default:
		d = float64(p.InitialInterval)
	}
	if p.MaxInterval > 0 && d > float64(p.MaxInterval) {
		d = float64(p.MaxInterval)
	}
	if p.RandomizationFactor > 0 {
		delta := p.RandomizationFactor * d
		lo := d - delta
		hi := d + delta
		d = lo + rand.Float64()*(hi-lo)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
