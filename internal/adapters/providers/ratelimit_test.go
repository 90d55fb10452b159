package providers

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketStartsFull(t *testing.T) {
	inner := &fakeProvider{name: "inner", height: 1}
	rl := NewRateLimitedProvider(inner, 1, 5)

	for i := 0; i < 5; i++ {
		if !rl.TryAcquire() {
			t.Fatalf("expected token %d available from a full bucket", i+1)
		}
	}
	if rl.TryAcquire() {
		t.Error("expected empty bucket to reject the 6th acquire")
	}
}

func TestTokenBucketRefills(t *testing.T) {
	inner := &fakeProvider{name: "inner", height: 1}
	rl := NewRateLimitedProvider(inner, 100, 2)

	for rl.TryAcquire() {
	}

	time.Sleep(50 * time.Millisecond)
	if !rl.TryAcquire() {
		t.Error("expected a refilled token after waiting")
	}
}

func TestBlockingAcquireWaitsForToken(t *testing.T) {
	inner := &fakeProvider{name: "inner", height: 850000}
	rl := NewRateLimitedProvider(inner, 50, 1)

	for rl.TryAcquire() {
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	height, err := rl.LatestHeight(ctx)
	if err != nil {
		t.Fatalf("expected blocking acquire to succeed after refill: %v", err)
	}
	if height != 850000 {
		t.Errorf("unexpected height %d", height)
	}
}

func TestBlockingAcquireHonorsContext(t *testing.T) {
	inner := &fakeProvider{name: "inner", height: 1}
	rl := NewRateLimitedProvider(inner, 0.01, 1)

	for rl.TryAcquire() {
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := rl.LatestHeight(ctx); err == nil {
		t.Fatal("expected error when context expires before a token refills")
	}
	if inner.calls != 0 {
		t.Error("inner provider must not be called without a token")
	}
}

func TestBestEffortSharesBucket(t *testing.T) {
	inner := &fakeProvider{name: "inner", height: 1}
	rl := NewRateLimitedProvider(inner, 0.01, 1)
	be := rl.BestEffort()

	if _, err := be.LatestHeight(context.Background()); err != nil {
		t.Fatalf("expected first best-effort call to pass: %v", err)
	}

	_, err := be.LatestHeight(context.Background())
	if err == nil {
		t.Fatal("expected drained bucket to reject best-effort call")
	}
	if !IsRateLimited(err) {
		t.Errorf("expected rate-limit classification, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("expected inner called once, got %d", inner.calls)
	}
}
