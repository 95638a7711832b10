package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFlaky = errors.New("flaky")

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialDelay: time.Millisecond}

	attempts := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestDo_SuccessOnThirdAttempt(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialDelay: time.Millisecond}

	attempts := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errFlaky
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestDo_BoundExhausted(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialDelay: time.Millisecond}

	attempts := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return errFlaky
	})

	if err == nil {
		t.Fatal("Expected error after exhausting attempts, got nil")
	}
	if !errors.Is(err, errFlaky) {
		t.Errorf("Expected wrapped last error, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected exactly 3 attempts, got: %d", attempts)
	}
}

func TestDo_CancelledDuringWait(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialDelay: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func(ctx context.Context) error {
			attempts++
			return errFlaky
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation; retry timer survived")
	}

	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got: %d", attempts)
	}
}

func TestDelay_Linear(t *testing.T) {
	cfg := Config{InitialDelay: 2 * time.Second, MaxDelay: 10 * time.Second, Strategy: StrategyLinear}

	if got := cfg.delay(1); got != 2*time.Second {
		t.Errorf("attempt 1: expected 2s, got %v", got)
	}
	if got := cfg.delay(2); got != 4*time.Second {
		t.Errorf("attempt 2: expected 4s, got %v", got)
	}
	if got := cfg.delay(7); got != 10*time.Second {
		t.Errorf("attempt 7: expected cap 10s, got %v", got)
	}
}

func TestDelay_Exponential(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, MaxDelay: time.Minute, Strategy: StrategyExponential, Multiplier: 2.0}

	if got := cfg.delay(1); got != time.Second {
		t.Errorf("attempt 1: expected 1s, got %v", got)
	}
	if got := cfg.delay(3); got != 4*time.Second {
		t.Errorf("attempt 3: expected 4s, got %v", got)
	}
}
