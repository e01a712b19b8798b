package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFlaky = errors.New("connection reset")

func flakyPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		Transient:   func(err error) bool { return errors.Is(err, errFlaky) },
	}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), flakyPolicy(3), "op", func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || calls != 1 {
		t.Fatalf("got %q after %d calls", got, calls)
	}
}

func TestDo_RecoversFromTransient(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), flakyPolicy(3), "op", func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errFlaky
		}
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 7 || calls != 3 {
		t.Fatalf("got %d after %d calls", got, calls)
	}
}

// TestDo_ExhaustionReturnsUnavailable checks the op runs exactly
// MaxAttempts times and the sentinel comes back.
func TestDo_ExhaustionReturnsUnavailable(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), flakyPolicy(3), "op", func(ctx context.Context) (string, error) {
		calls++
		return "", errFlaky
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("op ran %d times, want 3", calls)
	}
}

func TestDo_NonTransientFailsImmediately(t *testing.T) {
	permanent := errors.New("invalid argument")
	calls := 0
	_, err := Do(context.Background(), flakyPolicy(3), "op", func(ctx context.Context) (string, error) {
		calls++
		return "", permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("want original error, got %v", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatal("non-transient failure must not be masked as unavailable")
	}
	if calls != 1 {
		t.Fatalf("op ran %d times, want 1", calls)
	}
}

func TestDo_ContextCancelStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := flakyPolicy(5)
	p.BaseDelay = time.Hour // backoff sleep must be interruptible

	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, p, "op", func(ctx context.Context) (string, error) {
			return "", errFlaky
		})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestDo_NilClassifierNeverRetries(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, "op",
		func(ctx context.Context) (string, error) {
			calls++
			return "", errFlaky
		})
	if err == nil || calls != 1 {
		t.Fatalf("nil classifier should fail fast, err=%v calls=%d", err, calls)
	}
}
