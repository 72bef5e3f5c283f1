package model

import "time"

type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

type Pattern string

const (
	PatternRepeatedScans    Pattern = "repeated_scans"
	PatternRapidFire        Pattern = "rapid_fire"
	PatternDailyScanLimit   Pattern = "daily_scan_limit"
	PatternDailyPointsLimit Pattern = "daily_points_limit"
	PatternUnusualHours     Pattern = "unusual_hours"
)

// Severity is fixed per pattern: rapid bursts and repeated pair scans are
// blocking offenses, daily caps and off-hours activity are advisory.
func (p Pattern) Severity() Severity {
	switch p {
	case PatternRepeatedScans, PatternRapidFire:
		return SeverityHigh
	case PatternDailyScanLimit, PatternDailyPointsLimit, PatternUnusualHours:
		return SeverityMedium
	}
	return SeverityLow
}

type AlertStatus string

const (
	StatusNew          AlertStatus = "new"
	StatusAcknowledged AlertStatus = "acknowledged"
)

// ScanEvent is the immutable record of one loyalty scan attempt and the
// input to heuristic evaluation.
type ScanEvent struct {
	EmployeeID string    `json:"employeeId,omitempty"`
	CustomerID string    `json:"customerId"`
	QRToken    string    `json:"qrToken,omitempty"`
	Points     int       `json:"points"`
	IP         string    `json:"ip,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// AlertDetails carries the counts behind a triggered pattern so the
// dashboard can render them without re-deriving anything.
type AlertDetails struct {
	Count     int64  `json:"count"`
	Threshold int64  `json:"threshold"`
	Window    string `json:"timeWindow"`
}

type Alert struct {
	ID         string       `json:"id"`
	Type       Pattern      `json:"type"`
	EmployeeID string       `json:"employeeId,omitempty"`
	CustomerID string       `json:"customerId,omitempty"`
	Severity   Severity     `json:"severity"`
	Message    string       `json:"message"`
	Details    AlertDetails `json:"details"`
	Status     AlertStatus  `json:"status"`
	CreatedAt  time.Time    `json:"createdAt"`
}

type AlertStats struct {
	Total      int              `json:"total"`
	New        int              `json:"new"`
	Today      int              `json:"today"`
	ThisWeek   int              `json:"thisWeek"`
	BySeverity map[Severity]int `json:"bySeverity"`
}
