package retrier

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Retrier runs an operation with exponential backoff and jitter
type Retrier struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
	maxRetries      int
	jitter          float64
	onRetry         func(attempt int, delay time.Duration, err error)
}

// Option configures a Retrier
type Option func(*Retrier)

// WithInitialInterval sets the delay before the first retry
func WithInitialInterval(d time.Duration) Option {
	return func(r *Retrier) { r.initialInterval = d }
}

// WithMaxInterval caps the delay between retries
func WithMaxInterval(d time.Duration) Option {
	return func(r *Retrier) { r.maxInterval = d }
}

// WithMultiplier sets the backoff growth factor
func WithMultiplier(m float64) Option {
	return func(r *Retrier) { r.multiplier = m }
}

// WithMaxRetries sets how many times a failed attempt is retried
func WithMaxRetries(n int) Option {
	return func(r *Retrier) { r.maxRetries = n }
}

// WithJitter sets the jitter factor in [0, 1]
func WithJitter(j float64) Option {
	return func(r *Retrier) { r.jitter = j }
}

// WithOnRetry registers a hook called before each retry sleep
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

// New creates a Retrier with defaults of 3 retries starting at 250ms
func New(opts ...Option) *Retrier {
	r := &Retrier{
		initialInterval: 250 * time.Millisecond,
		maxInterval:     10 * time.Second,
		multiplier:      2.0,
		maxRetries:      3,
		jitter:          0.1,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.maxRetries < 0 {
		r.maxRetries = 0
	}

	return r
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error as is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, returns a permanent error, the retries are
// exhausted or ctx is done.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	interval := r.initialInterval

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			delay := r.withJitter(interval)
			if r.onRetry != nil {
				r.onRetry(attempt, delay, err)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}

			interval = time.Duration(float64(interval) * r.multiplier)
			if interval > r.maxInterval {
				interval = r.maxInterval
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return err
		}
	}

	return err
}

func (r *Retrier) withJitter(interval time.Duration) time.Duration {
	jitter := (rand.Float64()*2 - 1) * r.jitter * float64(interval)
	delay := time.Duration(float64(interval) + jitter)
	if delay < 0 {
		return 0
	}
	return delay
}

// DoWithData runs fn with retries and returns its value
func DoWithData[T any](ctx context.Context, r *Retrier, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var e error
		result, e = fn(ctx)
		return e
	})
	return result, err
}
