// Package retry provides bounded retries with exponential backoff. Only
// errors explicitly marked transient are retried; everything else fails fast.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config controls the retry loop.
type Config struct {
	Attempts int           // maximum attempts, 0 means unbounded
	BaseWait time.Duration // wait before the second attempt
	MaxWait  time.Duration // backoff ceiling
	Factor   float64       // backoff multiplier
	Jitter   float64       // relative jitter, 0..1
}

// Default returns the client defaults: three attempts starting at 100ms.
func Default() Config {
	return Config{
		Attempts: 3,
		BaseWait: 100 * time.Millisecond,
		MaxWait:  10 * time.Second,
		Factor:   2.0,
		Jitter:   0.1,
	}
}

// transientError marks an error as worth retrying.
type transientError struct {
	err error
}

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// Transient wraps err so the retry loop will retry it. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	var te transientError
	return errors.As(err, &te)
}

// wait returns the backoff before the given 1-based attempt's retry.
func (c Config) wait(attempt int) time.Duration {
	w := float64(c.BaseWait) * math.Pow(c.Factor, float64(attempt-1))
	if w > float64(c.MaxWait) {
		w = float64(c.MaxWait)
	}
	if c.Jitter > 0 {
		w += w * c.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(w)
}

// Do runs fn until it succeeds, returns a non-transient error, exhausts the
// attempt budget, or ctx is done.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoValue(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoValue is Do for functions that produce a value.
func DoValue[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; cfg.Attempts == 0 || attempt <= cfg.Attempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(cfg.wait(attempt)):
		}
	}
	return zero, lastErr
}
