package alerts

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"scanguard/internal/model"
)

func sample(pattern model.Pattern, createdAt time.Time) model.Alert {
	return model.Alert{
		Type:       pattern,
		EmployeeID: "E1",
		CustomerID: "C1",
		Severity:   pattern.Severity(),
		Message:    "test alert",
		CreatedAt:  createdAt,
	}
}

func TestRecordFillsIdentityFields(t *testing.T) {
	s := NewStore(10)
	stored := s.Record(model.Alert{Type: model.PatternRapidFire})
	if stored.ID == "" {
		t.Fatalf("expected generated id")
	}
	if stored.Status != model.StatusNew {
		t.Fatalf("expected status new, got %s", stored.Status)
	}
	if stored.CreatedAt.IsZero() {
		t.Fatalf("expected timestamp to be set")
	}
}

func TestRecentReturnsNewestFirst(t *testing.T) {
	s := NewStore(10)
	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		a := sample(model.PatternRapidFire, base.Add(time.Duration(i)*time.Minute))
		a.Message = fmt.Sprintf("alert %d", i)
		s.Record(a)
	}

	got := s.Recent(3)
	if len(got) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(got))
	}
	if got[0].Message != "alert 4" || got[2].Message != "alert 2" {
		t.Fatalf("expected newest first, got %q .. %q", got[0].Message, got[2].Message)
	}
}

func TestStoreDropsOldestPastLimit(t *testing.T) {
	s := NewStore(3)
	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		a := sample(model.PatternRapidFire, base.Add(time.Duration(i)*time.Minute))
		a.Message = fmt.Sprintf("alert %d", i)
		s.Record(a)
	}

	got := s.Recent(0)
	if len(got) != 3 {
		t.Fatalf("expected store capped at 3, got %d", len(got))
	}
	if got[len(got)-1].Message != "alert 2" {
		t.Fatalf("expected oldest surviving entry to be alert 2, got %q", got[len(got)-1].Message)
	}
}

func TestSinceFiltersByTimestamp(t *testing.T) {
	s := NewStore(10)
	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		s.Record(sample(model.PatternUnusualHours, base.Add(time.Duration(i)*time.Hour)))
	}
	got := s.Since(base.Add(2 * time.Hour))
	if len(got) != 2 {
		t.Fatalf("expected 2 alerts at or after the cutoff, got %d", len(got))
	}
}

func TestAcknowledge(t *testing.T) {
	s := NewStore(10)
	stored := s.Record(sample(model.PatternRepeatedScans, time.Now()))

	if !s.Acknowledge(stored.ID) {
		t.Fatalf("expected acknowledge to find the alert")
	}
	if s.Acknowledge("no-such-id") {
		t.Fatalf("unknown id should report false")
	}
	got := s.Recent(1)
	if got[0].Status != model.StatusAcknowledged {
		t.Fatalf("expected acknowledged status, got %s", got[0].Status)
	}
}

func TestStatsBuckets(t *testing.T) {
	s := NewStore(100)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.SetNow(func() time.Time { return now })

	s.Record(sample(model.PatternRepeatedScans, now.Add(-time.Hour)))       // today
	s.Record(sample(model.PatternRapidFire, now.Add(-26*time.Hour)))        // this week only
	s.Record(sample(model.PatternUnusualHours, now.Add(-10*24*time.Hour)))  // older
	ack := s.Record(sample(model.PatternDailyScanLimit, now.Add(-2*time.Hour)))
	s.Acknowledge(ack.ID)

	stats := s.Stats(time.UTC)
	if stats.Total != 4 {
		t.Fatalf("total: expected 4, got %d", stats.Total)
	}
	if stats.New != 3 {
		t.Fatalf("new: expected 3, got %d", stats.New)
	}
	if stats.Today != 2 {
		t.Fatalf("today: expected 2, got %d", stats.Today)
	}
	if stats.ThisWeek != 3 {
		t.Fatalf("thisWeek: expected 3, got %d", stats.ThisWeek)
	}
	if stats.BySeverity[model.SeverityHigh] != 2 || stats.BySeverity[model.SeverityMedium] != 2 {
		t.Fatalf("unexpected severity breakdown: %+v", stats.BySeverity)
	}
}

type capturePersister struct {
	mu    sync.Mutex
	saved []model.Alert
}

func (p *capturePersister) SaveAlert(_ context.Context, alert model.Alert) error {
	p.mu.Lock()
	p.saved = append(p.saved, alert)
	p.mu.Unlock()
	return nil
}

func (p *capturePersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.saved)
}

func TestRecorderPersistsOffTheRequestPath(t *testing.T) {
	store := NewStore(10)
	persister := &capturePersister{}
	r := NewRecorder(store, persister, nil, 16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	stored := r.Record(sample(model.PatternRapidFire, time.Now()))
	if stored.ID == "" {
		t.Fatalf("expected stored alert with id")
	}
	if len(store.Recent(1)) != 1 {
		t.Fatalf("memory store should see the alert immediately")
	}

	deadline := time.After(2 * time.Second)
	for persister.count() == 0 {
		select {
		case <-deadline:
			t.Fatalf("persister never received the alert")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	r.Wait()
}

func TestRecorderWithoutSinksStoresInMemory(t *testing.T) {
	store := NewStore(10)
	r := NewRecorder(store, nil, nil, 1, nil)
	for i := 0; i < 10; i++ {
		r.Record(sample(model.PatternUnusualHours, time.Now()))
	}
	if len(store.Recent(0)) != 10 {
		t.Fatalf("all alerts should land in memory even with no sinks")
	}
}
