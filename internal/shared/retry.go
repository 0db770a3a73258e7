package shared

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy bounds a retry loop with exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Retry runs fn until it succeeds, retryable reports false, attempts run out,
// or ctx is done. The delay doubles after every failed attempt.
func Retry(ctx context.Context, p RetryPolicy, op string, retryable func(error) bool, fn func(context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	var err error
	for i := 0; i < p.MaxAttempts; i++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) || i == p.MaxAttempts-1 {
			return err
		}

		delay := p.BaseDelay * time.Duration(1<<i) // exponential backoff
		slog.Debug("Retrying after failure", "op", op, "attempt", i+1, "delay", delay, "error", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
	return err
}

// RetryOnConflict retries fn while it fails with SQLite lock contention.
func RetryOnConflict(ctx context.Context, p RetryPolicy, op string, fn func(context.Context) error) error {
	return Retry(ctx, p, op, IsSQLiteConflictError, fn)
}
