package utils

import (
	"errors"
	"testing"
	"time"
)

func TestRetryEventualSuccess(t *testing.T) {
	r := &RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Logger: NewLogger()}

	calls := 0
	err := r.Do("flaky", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d; want 3", calls)
	}
}

func TestRetryExhaustedWrapsLastError(t *testing.T) {
	r := &RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, Logger: NewLogger()}

	sentinel := errors.New("still broken")
	err := r.Do("doomed", func() error { return sentinel })
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("expected wrapped sentinel error, got %v", err)
	}
}
