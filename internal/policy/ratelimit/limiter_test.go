package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiter_Wait(t *testing.T) {
	// 10 RPS with burst 1: one token every 100ms.
	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	start := time.Now()
	if err := l.Wait(ctx, "https://www.amazon.it/dp/B0CLTBHXWQ"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Logf("warning: first wait took %v", time.Since(start))
	}

	start = time.Now()
	if err := l.Wait(ctx, "https://www.amazon.it/dp/B0DGY63Z2H"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_DifferentHosts(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://www.amazon.it/dp/1"); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := l.Wait(ctx, "https://www.amazon.de/dp/1"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("host amazon.de blocked unexpectedly")
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	l := New(Config{})
	ctx := context.Background()

	start := time.Now()
	for range 50 {
		if err := l.Wait(ctx, "https://www.amazon.it/dp/1"); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("unlimited limiter paced navigations: %v", time.Since(start))
	}
}

func TestLimiter_CanceledContext(t *testing.T) {
	l := New(Config{RPS: 0.01, Burst: 1})
	if err := l.Wait(context.Background(), "https://www.amazon.it/dp/1"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Wait(ctx, "https://www.amazon.it/dp/1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
