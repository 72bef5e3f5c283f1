package limiter

import (
	"context"
	"testing"
	"time"

	"scanguard/internal/counter"
)

func TestCeilingAllowsUpToLimitThenDenies(t *testing.T) {
	l := New(counter.NewMemoryStore(), Config{Requests: 100, Window: time.Minute, FailMode: FailClosed}, nil)
	ctx := context.Background()

	for i := 1; i <= 100; i++ {
		d := l.CheckAndConsume(ctx, "203.0.113.9")
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if want := 100 - i; d.Remaining != want {
			t.Fatalf("request %d: expected remaining %d, got %d", i, want, d.Remaining)
		}
	}

	d := l.CheckAndConsume(ctx, "203.0.113.9")
	if d.Allowed {
		t.Fatalf("request 101 should be denied")
	}
	if d.Remaining != 0 {
		t.Fatalf("expected remaining 0 on deny, got %d", d.Remaining)
	}
	if d.ResetAt.IsZero() {
		t.Fatalf("expected reset time on deny")
	}
}

func TestDistinctIPsHaveSeparateQuotas(t *testing.T) {
	l := New(counter.NewMemoryStore(), Config{Requests: 1, Window: time.Minute, FailMode: FailClosed}, nil)
	ctx := context.Background()

	if d := l.CheckAndConsume(ctx, "10.0.0.1"); !d.Allowed {
		t.Fatalf("first request from first IP should pass")
	}
	if d := l.CheckAndConsume(ctx, "10.0.0.2"); !d.Allowed {
		t.Fatalf("first request from second IP should pass")
	}
	if d := l.CheckAndConsume(ctx, "10.0.0.1"); d.Allowed {
		t.Fatalf("second request from first IP should be denied")
	}
}

type failingStore struct{}

func (failingStore) Incr(context.Context, string, counter.Window) (int64, error) {
	return 0, counter.ErrUnavailable
}

func (failingStore) Add(context.Context, string, int64, counter.Window) (int64, error) {
	return 0, counter.ErrUnavailable
}

func (failingStore) Get(context.Context, string, counter.Window) (int64, error) {
	return 0, counter.ErrUnavailable
}

func (failingStore) Close() error { return nil }

func TestFailClosedDeniesWhenStoreIsDown(t *testing.T) {
	l := New(failingStore{}, Config{Requests: 100, Window: time.Minute, FailMode: FailClosed}, nil)
	d := l.CheckAndConsume(context.Background(), "10.0.0.1")
	if d.Allowed {
		t.Fatalf("fail-closed limiter must deny on backend failure")
	}
	if !d.Degraded {
		t.Fatalf("decision should be flagged degraded")
	}
}

func TestFailOpenAllowsWhenStoreIsDown(t *testing.T) {
	l := New(failingStore{}, Config{Requests: 100, Window: time.Minute, FailMode: FailOpen}, nil)
	d := l.CheckAndConsume(context.Background(), "10.0.0.1")
	if !d.Allowed {
		t.Fatalf("fail-open limiter must allow on backend failure")
	}
	if !d.Degraded {
		t.Fatalf("decision should be flagged degraded")
	}
}

func TestTrustedIPBypassesCeiling(t *testing.T) {
	l := New(counter.NewMemoryStore(), Config{
		Requests:   1,
		Window:     time.Minute,
		FailMode:   FailClosed,
		TrustedIPs: []string{"192.0.2.10"},
	}, nil)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if d := l.CheckAndConsume(ctx, "192.0.2.10"); !d.Allowed {
			t.Fatalf("trusted IP should never be limited")
		}
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	l := New(counter.NewMemoryStore(), Config{Requests: 2, Window: time.Minute, FailMode: FailClosed}, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if d := l.Peek(ctx, "10.0.0.5"); !d.Allowed || d.Remaining != 2 {
			t.Fatalf("peek should not consume quota, got %+v", d)
		}
	}
	if d := l.CheckAndConsume(ctx, "10.0.0.5"); !d.Allowed || d.Remaining != 1 {
		t.Fatalf("first real request should see full quota, got %+v", d)
	}
}
