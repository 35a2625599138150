package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransient(t *testing.T) {
	p := NewRetryPolicy(3, time.Millisecond)
	calls := 0
	err := p.Do(func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsOnCancellation(t *testing.T) {
	p := NewRetryPolicy(5, time.Millisecond)
	calls := 0
	err := p.DoContext(context.Background(), func() error {
		calls++
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("retried a cancelled call %d times", calls)
	}
}

func TestRetryExhausts(t *testing.T) {
	p := NewRetryPolicy(2, time.Millisecond)
	calls := 0
	boom := errors.New("boom")
	err := p.Do(func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(2, 50*time.Millisecond)
	if !cb.Allow() {
		t.Fatalf("fresh breaker closed")
	}
	cb.OnError(errors.New("fail"))
	if !cb.Allow() {
		t.Fatalf("breaker opened below threshold")
	}
	cb.OnError(errors.New("fail"))
	if cb.Allow() {
		t.Fatalf("breaker still closed at threshold")
	}
	time.Sleep(60 * time.Millisecond)
	if !cb.Allow() {
		t.Fatalf("breaker did not recover after cooldown")
	}
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	cb.OnError(context.Canceled)
	cb.OnError(context.DeadlineExceeded)
	if !cb.Allow() {
		t.Fatalf("cancellation opened the breaker")
	}
}

func TestRateLimitError(t *testing.T) {
	err := RateLimitError{Provider: "whisper"}
	if !IsRateLimit(err) {
		t.Fatalf("rate limit not detected")
	}
	if IsRateLimit(errors.New("other")) {
		t.Fatalf("false positive")
	}
}
