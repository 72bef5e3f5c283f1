package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"scanguard/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:scanguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS abuse_alerts (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			employee_id TEXT,
			customer_id TEXT,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT NOT NULL,
			details_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_abuse_alerts_created ON abuse_alerts(created_at)`,
		`CREATE TABLE IF NOT EXISTS scans (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			employee_id TEXT,
			customer_id TEXT NOT NULL,
			qr_token TEXT,
			points INTEGER NOT NULL,
			ip TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scans_customer_ts ON scans(customer_id, ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO abuse_alerts (id, created_at, alert_type, employee_id, customer_id, severity, status, message, details_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID,
		alert.CreatedAt.UTC(),
		string(alert.Type),
		alert.EmployeeID,
		alert.CustomerID,
		string(alert.Severity),
		string(alert.Status),
		alert.Message,
		encodeJSON(alert.Details),
	)
	return err
}

func (s *sqliteStore) SaveScan(ctx context.Context, ev model.ScanEvent) error {
	if s.db == nil || ev.CustomerID == "" {
		return nil
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scans (ts, employee_id, customer_id, qr_token, points, ip)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ts.UTC(),
		ev.EmployeeID,
		ev.CustomerID,
		ev.QRToken,
		ev.Points,
		ev.IP,
	)
	return err
}
