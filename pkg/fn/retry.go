package fn

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryOpts tunes Retry.
type RetryOpts struct {
	MaxAttempts int           // total calls, first one included
	InitialWait time.Duration // wait after the first failure
	MaxWait     time.Duration // cap on any single wait; 0 means none
	Jitter      bool          // scale each wait by a random factor in [0.5, 1.5)

	// Retryable reports whether err is worth another attempt. Nil retries
	// every error.
	Retryable func(err error) bool

	// OnRetry sees the 1-based attempt that failed, the wait that follows
	// and the failure.
	OnRetry func(attempt int, wait time.Duration, err error)
}

var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: time.Second,
	MaxWait:     30 * time.Second,
	Jitter:      true,
}

// WaitHinter is an error that carries the server's requested delay, such as
// HTTP Retry-After.
type WaitHinter interface {
	RetryAfter() time.Duration
}

func (o RetryOpts) capped(d time.Duration) time.Duration {
	if o.MaxWait > 0 && d > o.MaxWait {
		return o.MaxWait
	}
	return d
}

// delay is the pause after a failure whose base backoff is base.
func (o RetryOpts) delay(base time.Duration, err error) time.Duration {
	var hint WaitHinter
	if errors.As(err, &hint) && hint.RetryAfter() > 0 {
		return o.capped(hint.RetryAfter())
	}
	if o.Jitter {
		base = time.Duration(float64(base) * (0.5 + rand.Float64()))
	}
	return o.capped(base)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry calls f until it succeeds, the error is not Retryable, ctx ends or
// MaxAttempts calls have been made. The base wait doubles after each
// failure; a WaitHinter error replaces it for that one pause.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	attempts := max(opts.MaxAttempts, 1)
	base := opts.InitialWait
	for attempt := 1; ; attempt++ {
		r := f(ctx)
		err := r.Cause()
		if err == nil || attempt == attempts {
			return r
		}
		if opts.Retryable != nil && !opts.Retryable(err) {
			return r
		}
		if ctx.Err() != nil {
			return Err[T](ctx.Err())
		}

		wait := opts.delay(base, err)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, wait, err)
		}
		if err := sleep(ctx, wait); err != nil {
			return Err[T](err)
		}
		base = opts.capped(base * 2)
	}
}
