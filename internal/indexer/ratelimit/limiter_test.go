package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLimiter_QueryQuota(t *testing.T) {
	l := NewLimiter(Config{QueryLimit: 2, QueryPeriod: time.Hour}, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.WaitQuery(ctx, 1); err != nil {
			t.Fatalf("WaitQuery() #%d error = %v", i+1, err)
		}
	}
	if err := l.WaitQuery(ctx, 1); !errors.Is(err, ErrLimitReached) {
		t.Errorf("WaitQuery() over quota error = %v, want ErrLimitReached", err)
	}
	if !l.CheckQueryLimit(1) {
		t.Error("CheckQueryLimit() = false, want true")
	}

	// Other indexers keep their own quota.
	if err := l.WaitQuery(ctx, 2); err != nil {
		t.Errorf("WaitQuery() for other indexer error = %v", err)
	}
}

func TestLimiter_WaitRespectsContext(t *testing.T) {
	l := NewLimiter(Config{QueryInterval: time.Hour, QueryBurst: 1}, zerolog.Nop())

	if err := l.WaitQuery(context.Background(), 1); err != nil {
		t.Fatalf("first WaitQuery() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.WaitQuery(ctx, 1); err == nil {
		t.Error("WaitQuery() should fail when the pacing delay outlives the context")
	}
}

func TestLimiter_GrabQuota(t *testing.T) {
	l := NewLimiter(Config{GrabLimit: 1, GrabPeriod: time.Hour}, zerolog.Nop())

	if err := l.AcquireGrab(3); err != nil {
		t.Fatalf("AcquireGrab() error = %v", err)
	}
	if err := l.AcquireGrab(3); !errors.Is(err, ErrLimitReached) {
		t.Errorf("AcquireGrab() error = %v, want ErrLimitReached", err)
	}

	stats := l.GetStats(3)
	if stats.Grabs != 1 {
		t.Errorf("Grabs = %d, want 1", stats.Grabs)
	}
}

func TestLimiter_UnlimitedByDefault(t *testing.T) {
	l := NewLimiter(Config{}, zerolog.Nop())
	for i := 0; i < 50; i++ {
		if err := l.WaitQuery(context.Background(), 1); err != nil {
			t.Fatalf("WaitQuery() error = %v", err)
		}
	}
	if l.CheckQueryLimit(1) {
		t.Error("zero QueryLimit should be unlimited")
	}
}
