package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

func TestBreaker_StateTransitions(t *testing.T) {
	breaker := NewBreaker("transitions", 3, 100*time.Millisecond)

	if breaker.State() != StateClosed {
		t.Errorf("Expected state=closed, got %v", breaker.State())
	}

	breaker.RecordFailure()
	breaker.RecordFailure()
	if breaker.State() != StateClosed {
		t.Errorf("Expected state=closed after 2 failures, got %v", breaker.State())
	}

	breaker.RecordFailure()
	if breaker.State() != StateOpen {
		t.Errorf("Expected state=open after 3 failures, got %v", breaker.State())
	}

	time.Sleep(150 * time.Millisecond)

	if !breaker.Allow() {
		t.Error("Expected Allow() to return true after timeout (half-open)")
	}
	if breaker.State() != StateHalfOpen {
		t.Errorf("Expected state=half-open, got %v", breaker.State())
	}

	breaker.RecordSuccess()
	if breaker.State() != StateClosed {
		t.Errorf("Expected state=closed after success, got %v", breaker.State())
	}
}

func TestBreaker_OpenState(t *testing.T) {
	breaker := NewBreaker("open", 2, 100*time.Millisecond)

	breaker.RecordFailure()
	breaker.RecordFailure()

	if breaker.Allow() {
		t.Error("Expected Allow() to return false when open")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	breaker := NewBreaker("reopen", 5, 20*time.Millisecond)
	for i := 0; i < 5; i++ {
		breaker.RecordFailure()
	}
	time.Sleep(30 * time.Millisecond)

	if !breaker.Allow() {
		t.Fatal("Expected half-open probe to be allowed")
	}
	breaker.RecordFailure()
	if breaker.State() != StateOpen {
		t.Errorf("Expected state=open after failed probe, got %v", breaker.State())
	}
}

func TestBreaker_Do(t *testing.T) {
	breaker := NewBreaker("do", 1, time.Hour)
	boom := errors.New("boom")

	if err := breaker.Do(func() error { return boom }); !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
	if err := breaker.Do(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen, got %v", err)
	}
}
