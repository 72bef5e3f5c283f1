package counter

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSlidingWindowEvictsOldEvents(t *testing.T) {
	store := NewMemoryStore()
	clock := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store.SetNow(func() time.Time { return clock })

	w := Sliding(time.Minute)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := store.Incr(ctx, "emp:e1", w); err != nil {
			t.Fatalf("incr: %v", err)
		}
	}
	count, err := store.Get(ctx, "emp:e1", w)
	if err != nil || count != 5 {
		t.Fatalf("expected 5, got %d err %v", count, err)
	}

	clock = clock.Add(61 * time.Second)
	count, err = store.Get(ctx, "emp:e1", w)
	if err != nil || count != 0 {
		t.Fatalf("expected 0 after window passed, got %d err %v", count, err)
	}

	count, err = store.Incr(ctx, "emp:e1", w)
	if err != nil || count != 1 {
		t.Fatalf("expected fresh count 1, got %d err %v", count, err)
	}
}

func TestFixedDailyWindowResetsAtMidnight(t *testing.T) {
	store := NewMemoryStore()
	clock := time.Date(2026, 3, 10, 23, 50, 0, 0, time.UTC)
	store.SetNow(func() time.Time { return clock })

	w := Daily(time.UTC)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := store.Add(ctx, "cust:points:c1", 10, w); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	count, _ := store.Get(ctx, "cust:points:c1", w)
	if count != 30 {
		t.Fatalf("expected 30 points, got %d", count)
	}

	clock = time.Date(2026, 3, 11, 0, 1, 0, 0, time.UTC)
	count, _ = store.Get(ctx, "cust:points:c1", w)
	if count != 0 {
		t.Fatalf("expected reset after midnight, got %d", count)
	}
	count, _ = store.Add(ctx, "cust:points:c1", 5, w)
	if count != 5 {
		t.Fatalf("expected 5 in new day, got %d", count)
	}
}

func TestConcurrentIncrementsDoNotLoseUpdates(t *testing.T) {
	store := NewMemoryStore()
	w := Sliding(time.Hour)
	ctx := context.Background()

	const workers = 8
	const perWorker = 200
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := store.Incr(ctx, "ratelimit:ip:1.2.3.4", w); err != nil {
					t.Errorf("incr: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	count, err := store.Get(ctx, "ratelimit:ip:1.2.3.4", w)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if count != workers*perWorker {
		t.Fatalf("lost updates: expected %d, got %d", workers*perWorker, count)
	}
}

func TestWindowResetAt(t *testing.T) {
	now := time.Date(2026, 3, 10, 13, 30, 0, 0, time.UTC)
	daily := Daily(time.UTC)
	reset := daily.ResetAt(now)
	want := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	if !reset.Equal(want) {
		t.Fatalf("daily reset: expected %s, got %s", want, reset)
	}

	sliding := Sliding(time.Minute)
	if got := sliding.ResetAt(now); !got.Equal(now.Add(time.Minute)) {
		t.Fatalf("sliding reset: got %s", got)
	}
}

func TestSeparateKeysDoNotInterfere(t *testing.T) {
	store := NewMemoryStore()
	w := Sliding(time.Minute)
	ctx := context.Background()
	if _, err := store.Incr(ctx, "emp:a", w); err != nil {
		t.Fatalf("incr: %v", err)
	}
	count, _ := store.Get(ctx, "emp:b", w)
	if count != 0 {
		t.Fatalf("expected isolated keys, got %d", count)
	}
}
