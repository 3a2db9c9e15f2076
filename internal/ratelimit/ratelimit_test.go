package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestLimiter(cfg Config) *Limiter {
	l := New(cfg)
	return l
}

func TestAllow_BurstThenReject(t *testing.T) {
	l := newTestLimiter(Config{
		RequestsPerMinute: 60,
		BurstSize:         3,
		CleanupInterval:   time.Minute,
	})
	defer l.Stop()

	for i := 0; i < 3; i++ {
		if !l.Allow("client-a") {
			t.Fatalf("request %d within burst should be allowed", i)
		}
	}
	if l.Allow("client-a") {
		t.Error("request beyond burst should be rejected")
	}
}

func TestAllow_IndependentClients(t *testing.T) {
	l := newTestLimiter(Config{
		RequestsPerMinute: 60,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer l.Stop()

	if !l.Allow("a") {
		t.Fatal("first request for a should pass")
	}
	if !l.Allow("b") {
		t.Error("client b should have its own bucket")
	}
}

func TestAllowScan_CeilingEnforced(t *testing.T) {
	l := newTestLimiter(Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		ScansPerHour:      2,
		CleanupInterval:   time.Minute,
	})
	defer l.Stop()

	addr := "0x1234567890abcdef1234567890abcdef12345678"
	if err := l.AllowScan(addr); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if err := l.AllowScan(addr); err != nil {
		t.Fatalf("second scan: %v", err)
	}

	err := l.AllowScan(addr)
	if err == nil {
		t.Fatal("third scan should be rejected")
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
	var le *LimitError
	if !errors.As(err, &le) {
		t.Fatal("expected *LimitError")
	}
	if le.RetryAfter <= 0 || le.RetryAfter > time.Hour {
		t.Errorf("unreasonable retry-after: %s", le.RetryAfter)
	}
}

func TestAllowScan_ConcurrentNoDoubleCounting(t *testing.T) {
	l := newTestLimiter(Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		ScansPerHour:      10,
		CleanupInterval:   time.Minute,
	})
	defer l.Stop()

	addr := "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.AllowScan(addr); err == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Errorf("expected exactly 10 scans allowed under concurrency, got %d", allowed)
	}
}

func TestAllowScan_DisabledWhenZero(t *testing.T) {
	l := newTestLimiter(Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		ScansPerHour:      0,
		CleanupInterval:   time.Minute,
	})
	defer l.Stop()

	for i := 0; i < 100; i++ {
		if err := l.AllowScan("0xwallet"); err != nil {
			t.Fatalf("ceiling disabled, scan %d should pass: %v", i, err)
		}
	}
}
