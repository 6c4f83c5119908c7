package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoStopsAfterSuccess(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, BackoffFactor: 2}
	err := Do(context.Background(), policy, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("временный сбой")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if calls != 3 {
		t.Fatalf("ожидали 3 вызова, получили %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("постоянный сбой")
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, BackoffFactor: 2}
	err := Do(context.Background(), policy, func(context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("ожидали последнюю ошибку, получили %v", err)
	}
	if calls != 3 {
		t.Fatalf("ожидали 3 попытки, получили %d", calls)
	}
}

func TestDoRespectsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 3}, func(context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ожидали context.Canceled, получили %v", err)
	}
	if calls != 0 {
		t.Fatalf("не ожидали вызовов после отмены, получили %d", calls)
	}
}

func TestDelayGrowsAndCaps(t *testing.T) {
	policy := Policy{BaseDelay: time.Second, BackoffFactor: 2, MaxDelay: 3 * time.Second}
	if got := policy.Delay(0); got != time.Second {
		t.Fatalf("ожидали 1s на первой паузе, получили %v", got)
	}
	if got := policy.Delay(1); got != 2*time.Second {
		t.Fatalf("ожидали 2s на второй паузе, получили %v", got)
	}
	if got := policy.Delay(5); got != 3*time.Second {
		t.Fatalf("ожидали ограничение 3s, получили %v", got)
	}
}

func TestDoAppliesAttemptTimeout(t *testing.T) {
	policy := Policy{MaxAttempts: 1, AttemptTimeout: 10 * time.Millisecond}
	err := Do(context.Background(), policy, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ожидали дедлайн попытки, получили %v", err)
	}
}
