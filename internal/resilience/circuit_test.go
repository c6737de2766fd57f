package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fail(_ context.Context) (int, error) {
	return 0, Transient(errors.New("engine down"), 503)
}

func succeed(_ context.Context) (int, error) {
	return 1, nil
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("engine", BreakerConfig{Threshold: 3, Cooldown: time.Minute})

	for i := 0; i < 3; i++ {
		_, _ = Call(context.Background(), b, fail)
	}
	if b.State() != Open {
		t.Fatalf("expected open, got %s", b.State())
	}

	_, err := Call(context.Background(), b, func(_ context.Context) (int, error) {
		t.Error("should not be called while open")
		return 0, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	b := NewBreaker("engine", BreakerConfig{Threshold: 2, Cooldown: time.Minute})
	for i := 0; i < 5; i++ {
		_, _ = Call(context.Background(), b, func(_ context.Context) (int, error) {
			return 0, errors.New("bad input")
		})
	}
	if b.State() != Closed {
		t.Errorf("expected closed, got %s", b.State())
	}
	if b.Failures() != 0 {
		t.Errorf("expected 0 failures, got %d", b.Failures())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker("engine", BreakerConfig{Threshold: 1, Cooldown: time.Minute})
	b.now = func() time.Time { return now }

	_, _ = Call(context.Background(), b, fail)
	if b.State() != Open {
		t.Fatalf("expected open, got %s", b.State())
	}

	now = now.Add(2 * time.Minute)
	if b.State() != HalfOpen {
		t.Fatalf("expected half-open after cooldown, got %s", b.State())
	}

	// failed probe reopens
	_, _ = Call(context.Background(), b, fail)
	if b.State() != Open {
		t.Fatalf("expected open after failed probe, got %s", b.State())
	}

	now = now.Add(2 * time.Minute)
	if _, err := Call(context.Background(), b, succeed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State() != Closed {
		t.Errorf("expected closed after successful probe, got %s", b.State())
	}
}

func TestRun_OpenBreakerNotRetried(t *testing.T) {
	p := NewPolicy("engine", 5, time.Millisecond, time.Millisecond, 1, time.Hour)

	calls := 0
	_, err := Run(context.Background(), p, func(_ context.Context) (int, error) {
		calls++
		return 0, Transient(errors.New("engine down"), 503)
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}
