package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{Attempts: attempts, Backoff: time.Millisecond}
}

func TestRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := fastPolicy(2).Retry(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_SucceedsOnRetry(t *testing.T) {
	calls := 0
	err := fastPolicy(2).Retry(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errTest
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy(2).Retry(context.Background(), func(ctx context.Context) error {
		calls++
		return errTest
	})
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want the last fn error", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", calls)
	}
}

func TestRetry_ContextCancelAbortsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := RetryPolicy{Attempts: 2, Backoff: time.Hour}
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Retry(ctx, func(ctx context.Context) error {
			calls++
			return errTest
		})
	}()

	// Cancel while the retry loop waits out the backoff.
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Retry did not return after cancel")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry after cancel)", calls)
	}
}

func TestRetry_ZeroAttemptsStillRunsOnce(t *testing.T) {
	calls := 0
	_ = RetryPolicy{}.Retry(context.Background(), func(ctx context.Context) error {
		calls++
		return errTest
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithResult(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), fastPolicy(2), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errTest
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("result = %d, want 42", got)
	}

	_, err = RetryWithResult(context.Background(), fastPolicy(1), func(ctx context.Context) (int, error) {
		return 0, errTest
	})
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v, want errTest", err)
	}
}
