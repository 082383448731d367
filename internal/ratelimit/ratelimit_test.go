package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestBucketStartsFull(t *testing.T) {
	t.Parallel()
	tb := New(10, 1)
	if got := tb.Available(); got < 9.9 {
		t.Errorf("available = %v, want ~10", got)
	}
}

func TestWaitImmediate(t *testing.T) {
	t.Parallel()
	tb := New(5, 1)

	// Should consume tokens without blocking
	for i := 0; i < 5; i++ {
		start := time.Now()
		if err := tb.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() returned error: %v", err)
		}
		if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
			t.Errorf("Wait() took %v, expected immediate (token %d)", elapsed, i)
		}
	}
}

func TestWaitBlocks(t *testing.T) {
	t.Parallel()
	// 1 token capacity, refills at 10/sec → ~100ms per token
	tb := New(1, 10)

	if err := tb.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Next Wait should block ~100ms
	start := time.Now()
	if err := tb.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(start)

	if elapsed < 50*time.Millisecond {
		t.Errorf("expected blocking ~100ms, got %v", elapsed)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("blocked too long: %v", elapsed)
	}
}

func TestContextCancelled(t *testing.T) {
	t.Parallel()
	tb := New(1, 0.1) // very slow refill

	_ = tb.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := tb.Wait(ctx); err == nil {
		t.Error("expected context error, got nil")
	}
}

func TestNewPerWindow(t *testing.T) {
	t.Parallel()
	tb := NewPerWindow(200, 60*time.Second)
	if tb.capacity != 200 {
		t.Errorf("capacity = %v, want 200", tb.capacity)
	}
	want := 200.0 / 60.0
	if diff := tb.rate - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("rate = %v, want %v", tb.rate, want)
	}
}
