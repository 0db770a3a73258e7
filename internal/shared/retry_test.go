package shared

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryOnConflictRetriesBusy(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, "test",
		func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("database is locked (5) (SQLITE_BUSY)")
			}
			return nil
		})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryOnConflictStopsOnOtherErrors(t *testing.T) {
	calls := 0
	want := errors.New("disk I/O error")
	err := RetryOnConflict(context.Background(), RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}, "test",
		func(context.Context) error {
			calls++
			return want
		})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond}, "test",
		func(error) bool { return true },
		func(context.Context) error {
			calls++
			return errors.New("still failing")
		})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryPolicy{MaxAttempts: 10, BaseDelay: time.Hour}, "test",
		func(error) bool { return true },
		func(context.Context) error {
			calls++
			cancel()
			return errors.New("failing")
		})
	if err == nil || calls != 1 {
		t.Fatalf("expected one call and an error, got calls=%d err=%v", calls, err)
	}
}

func TestSQLiteErrorClassification(t *testing.T) {
	tests := []struct {
		err      error
		conflict bool
		unique   bool
	}{
		{nil, false, false},
		{errors.New("database is locked"), true, false},
		{errors.New("SQLITE_BUSY: retry"), true, false},
		{errors.New("constraint failed: UNIQUE constraint failed: content.content_id (2067)"), false, true},
		{errors.New("no such table: content"), false, false},
	}
	for _, tt := range tests {
		if got := IsSQLiteConflictError(tt.err); got != tt.conflict {
			t.Errorf("IsSQLiteConflictError(%v) = %v, want %v", tt.err, got, tt.conflict)
		}
		if got := IsSQLiteUniqueViolation(tt.err); got != tt.unique {
			t.Errorf("IsSQLiteUniqueViolation(%v) = %v, want %v", tt.err, got, tt.unique)
		}
	}
}
