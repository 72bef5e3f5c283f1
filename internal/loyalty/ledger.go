// Package loyalty keeps the running per-customer points totals returned by
// the scan endpoint. The café CRUD backend remains the system of record;
// this mirror makes the service answerable on its own.
package loyalty

import (
	"sync"
	"time"
)

type Ledger struct {
	mu        sync.RWMutex
	totals    map[string]int64
	updatedAt map[string]time.Time
	limit     int
}

func NewLedger(limit int) *Ledger {
	if limit <= 0 {
		limit = 5000
	}
	return &Ledger{
		totals:    make(map[string]int64),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

// Award credits points and returns the customer's new total.
func (l *Ledger) Award(customerID string, points int) int64 {
	if customerID == "" {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totals[customerID] += int64(points)
	l.updatedAt[customerID] = time.Now().UTC()
	if len(l.totals) > l.limit {
		l.evictOldest()
	}
	return l.totals[customerID]
}

func (l *Ledger) Total(customerID string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totals[customerID]
}

func (l *Ledger) evictOldest() {
	var oldestCustomer string
	var oldest time.Time
	for customer, ts := range l.updatedAt {
		if oldestCustomer == "" || ts.Before(oldest) {
			oldestCustomer = customer
			oldest = ts
		}
	}
	if oldestCustomer != "" {
		delete(l.totals, oldestCustomer)
		delete(l.updatedAt, oldestCustomer)
	}
}

func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totals = make(map[string]int64)
	l.updatedAt = make(map[string]time.Time)
}
