package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Strategy selects how the delay grows between attempts.
type Strategy int

const (
	// StrategyLinear grows the delay as InitialDelay * attempt number.
	StrategyLinear Strategy = iota
	// StrategyExponential grows the delay as InitialDelay * Multiplier^attempt.
	StrategyExponential
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts  int           // Total attempts, including the first one
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Cap on the delay between attempts
	Strategy     Strategy
	Multiplier   float64 // Exponential strategy only (typically 2.0)
}

// DefaultConfig returns the bounded linear policy used by the connection
// supervisor: three attempts with linearly increasing delay.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     10 * time.Second,
		Strategy:     StrategyLinear,
	}
}

// Do executes fn until it succeeds, the attempt bound is exhausted, or the
// context is cancelled. There is no retry-forever mode: exhaustion returns
// the last error wrapped, and cancellation aborts any pending wait so no
// retry timer survives a teardown.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		if err := fn(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled during wait: %w", ctx.Err())
		case <-time.After(cfg.delay(attempt)):
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", cfg.MaxAttempts, lastErr)
}

func (cfg Config) delay(attempt int) time.Duration {
	var d float64
	switch cfg.Strategy {
	case StrategyExponential:
		mult := cfg.Multiplier
		if mult <= 0 {
			mult = 2.0
		}
		d = float64(cfg.InitialDelay) * math.Pow(mult, float64(attempt-1))
	default:
		d = float64(cfg.InitialDelay) * float64(attempt)
	}

	if cfg.MaxDelay > 0 && d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	return time.Duration(d)
}
