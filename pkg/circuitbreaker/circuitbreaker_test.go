package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errStoreDown = errors.New("store down")

func failing(ctx context.Context) error { return errStoreDown }
func succeeding(ctx context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := New(Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, failing); !errors.Is(err, errStoreDown) {
			t.Fatalf("attempt %d: expected store error, got %v", i, err)
		}
	}

	if cb.State() != StateOpen {
		t.Errorf("expected open after %d failures, got %s", 3, cb.State())
	}
	if err := cb.Execute(ctx, succeeding); !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen while open, got %v", err)
	}
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond})
	ctx := context.Background()

	cb.Execute(ctx, failing)
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open after timeout, got %s", cb.State())
	}

	cb.Execute(ctx, succeeding)
	if cb.State() != StateHalfOpen {
		t.Errorf("expected still half-open after 1 success, got %s", cb.State())
	}
	cb.Execute(ctx, succeeding)
	if cb.State() != StateClosed {
		t.Errorf("expected closed after %d successes, got %s", 2, cb.State())
	}
}

func TestCircuitBreaker_ReopensOnHalfOpenFailure(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: 10 * time.Millisecond})
	ctx := context.Background()

	cb.Execute(ctx, failing)
	time.Sleep(20 * time.Millisecond)
	cb.Execute(ctx, failing) // probe fails

	if cb.State() != StateOpen {
		t.Errorf("expected reopened circuit, got %s", cb.State())
	}
}
