package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"scanguard/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/scanguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS abuse_alerts (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			alert_type TEXT NOT NULL,
			employee_id TEXT,
			customer_id TEXT,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT NOT NULL,
			details_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_abuse_alerts_created ON abuse_alerts(created_at)`,
		`CREATE TABLE IF NOT EXISTS scans (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
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

func (s *postgresStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO abuse_alerts (id, created_at, alert_type, employee_id, customer_id, severity, status, message, details_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status`,
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

func (s *postgresStore) SaveScan(ctx context.Context, ev model.ScanEvent) error {
	if s.db == nil || ev.CustomerID == "" {
		return nil
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scans (ts, employee_id, customer_id, qr_token, points, ip)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ts.UTC(),
		ev.EmployeeID,
		ev.CustomerID,
		ev.QRToken,
		ev.Points,
		ev.IP,
	)
	return err
}
