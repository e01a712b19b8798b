package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrUnavailable is returned by Do after a transient failure survives the
// full retry budget. Callers treat it as "skip this unit of work": a
// candidate is skipped, a notification is nacked for redelivery. It is
// never returned for non-transient failures, which propagate unchanged.
var ErrUnavailable = errors.New("service unavailable after retries")

// RetryPolicy bounds retries of external calls. Transient is the
// classifier: it reports whether an error is worth retrying. A nil
// Transient retries nothing.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Transient   func(error) bool
}

// DefaultRetryPolicy returns the standard budget: three attempts with
// exponential backoff starting at two seconds.
func DefaultRetryPolicy(transient func(error) bool) RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Transient: transient}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 3
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 2 * time.Second
	}
	return base << attempt
}

// Do runs op under the retry policy. Transient errors are retried with
// exponential backoff up to MaxAttempts total invocations, after which Do
// returns ErrUnavailable. Non-transient errors and context cancellation
// return immediately.
func Do[T any](ctx context.Context, p RetryPolicy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.attempts()

	for attempt := 0; attempt < attempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if p.Transient == nil || !p.Transient(err) {
			return zero, err
		}
		if attempt == attempts-1 {
			slog.Error("giving up after transient failures",
				"op", name, "attempts", attempts, "error", err)
			break
		}

		delay := p.delay(attempt)
		slog.Warn("transient failure, retrying",
			"op", name, "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, ErrUnavailable
}
