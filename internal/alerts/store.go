// Package alerts is the in-memory sink for triggered abuse alerts.
// Dashboards poll Recent/Stats on an interval; there is no push channel.
package alerts

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"scanguard/internal/model"
)

type Store struct {
	mu    sync.RWMutex
	buf   []model.Alert
	limit int
	now   func() time.Time
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit, now: time.Now}
}

// SetNow overrides the clock. Test hook.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Record appends an alert, filling in ID, status and timestamp when the
// caller left them empty. Oldest entries are dropped past the store limit
// (retention policy; acknowledged or not).
func (s *Store) Record(alert model.Alert) model.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Status == "" {
		alert.Status = model.StatusNew
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = s.now().UTC()
	}
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, alert)
		return alert
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = alert
	return alert
}

// Recent returns up to limit alerts, newest first.
func (s *Store) Recent(limit int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.Alert, 0, limit)
	for i := len(s.buf) - 1; i >= len(s.buf)-limit; i-- {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for i := len(s.buf) - 1; i >= 0; i-- {
		if s.buf[i].CreatedAt.Before(ts) {
			continue
		}
		out = append(out, s.buf[i])
	}
	return out
}

// Acknowledge flips an alert from new to acknowledged. Returns false when
// the id is unknown.
func (s *Store) Acknowledge(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.buf {
		if s.buf[i].ID == id {
			s.buf[i].Status = model.StatusAcknowledged
			return true
		}
	}
	return false
}

func (s *Store) Stats(loc *time.Location) model.AlertStats {
	if loc == nil {
		loc = time.UTC
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now().In(loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	weekStart := now.Add(-7 * 24 * time.Hour)

	stats := model.AlertStats{BySeverity: make(map[model.Severity]int)}
	for _, a := range s.buf {
		stats.Total++
		if a.Status == model.StatusNew {
			stats.New++
		}
		created := a.CreatedAt.In(loc)
		if !created.Before(dayStart) {
			stats.Today++
		}
		if !created.Before(weekStart) {
			stats.ThisWeek++
		}
		stats.BySeverity[a.Severity]++
	}
	return stats
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
