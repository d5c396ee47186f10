package ratelimit

import (
	"errors"
	"fmt"
	"testing"
)

func TestBurstThenReject(t *testing.T) {
	l, err := New(Config{PerSecond: 0.001, Burst: 3, MaxClients: 10})
	if err != nil {
		t.Fatalf("Failed to create limiter: %v", err)
	}

	for i := 0; i < 3; i++ {
		if !l.Allow("client-a") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if l.Allow("client-a") {
		t.Error("request beyond burst should be rejected")
	}
	if err := l.Check("client-a"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("Expected ErrRateLimited, got %v", err)
	}

	// buckets are per client
	if !l.Allow("client-b") {
		t.Error("other client should have its own bucket")
	}
}

func TestTrackedClientsBounded(t *testing.T) {
	l, err := New(Config{PerSecond: 1, Burst: 1, MaxClients: 5})
	if err != nil {
		t.Fatalf("Failed to create limiter: %v", err)
	}
	for i := 0; i < 20; i++ {
		l.Allow(fmt.Sprintf("client-%d", i))
	}
	if got := l.Tracked(); got != 5 {
		t.Errorf("tracked clients = %d, want 5", got)
	}
}

func TestDisabled(t *testing.T) {
	l, err := New(Config{PerSecond: 0})
	if err != nil {
		t.Fatalf("Failed to create limiter: %v", err)
	}
	if l.Enabled() {
		t.Error("limiter should be disabled")
	}
	for i := 0; i < 100; i++ {
		if !l.Allow("x") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func TestInvalidMaxClients(t *testing.T) {
	if _, err := New(Config{PerSecond: 1, Burst: 1, MaxClients: 0}); err == nil {
		t.Error("Expected error for zero tracked clients")
	}
}
