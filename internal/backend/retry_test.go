package backend

import (
	"context"
	"errors"
	"testing"
)

func TestRetryPolicy_ZeroValueSingleAttempt(t *testing.T) {
	calls := 0
	errBoom := errors.New("boom")

	err := RetryPolicy{}.Do(context.Background(), func() error {
		calls++
		return errBoom
	})

	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (zero value must not retry)", calls)
	}
}

func TestRetryPolicy_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	p := RetryPolicy{Attempts: 3}

	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicy_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := RetryPolicy{Attempts: 5}

	err := p.Do(ctx, func() error {
		calls++
		cancel()
		return errors.New("fail")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 after cancellation", calls)
	}
}
