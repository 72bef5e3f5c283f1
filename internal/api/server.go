package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"scanguard/internal/alerts"
	"scanguard/internal/config"
	"scanguard/internal/engine"
	"scanguard/internal/limiter"
	"scanguard/internal/loyalty"
	"scanguard/internal/model"
	"scanguard/internal/storage"
)

type Server struct {
	cfg      *config.Manager
	limiter  *limiter.IPLimiter
	engine   *engine.Engine
	recorder *alerts.Recorder
	alerts   *alerts.Store
	ledger   *loyalty.Ledger
	store    storage.Store
	logger   *slog.Logger
	version  string
}

func NewServer(cfg *config.Manager, l *limiter.IPLimiter, eng *engine.Engine, rec *alerts.Recorder, alertStore *alerts.Store, ledger *loyalty.Ledger, store storage.Store, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:      cfg,
		limiter:  l,
		engine:   eng,
		recorder: rec,
		alerts:   alertStore,
		ledger:   ledger,
		store:    store,
		logger:   logger,
		version:  version,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)
	r.Use(RateLimit(s.limiter))

	r.Route("/api", func(r chi.Router) {
		r.Post("/scan", s.handleScan)
		r.Post("/scan-qr", s.handleScan)
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Route("/abuse-alerts", func(r chi.Router) {
			r.Get("/recent", s.handleRecentAlerts)
			r.Get("/stats", s.handleAlertStats)
			r.Post("/", s.handleCreateAlert)
			r.Post("/{id}/ack", s.handleAcknowledgeAlert)
		})
		r.Route("/admin", func(r chi.Router) {
			r.Post("/clear", s.handleClear)
			r.Post("/reset", s.handleReset)
		})
	})
	return r
}

// Start runs the HTTP server and shuts it down when ctx is cancelled.
func Start(ctx context.Context, s *Server) *http.Server {
	addr := s.cfg.Get().Server.Addr
	if s.logger != nil {
		s.logger.Info("api listening", "addr", addr)
	}
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

type scanRequest struct {
	EmployeeID string `json:"employeeId"`
	CustomerID string `json:"customerId"`
	QRCode     string `json:"qrCode"`
	QRToken    string `json:"qrToken"`
	Points     int    `json:"points"`
}

type scanResponse struct {
	PointsEarned int   `json:"pointsEarned"`
	TotalPoints  int64 `json:"totalPoints"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "request body too large or unreadable")
		return
	}
	var req scanRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "customerId is required")
		return
	}
	if req.Points < 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "points must not be negative")
		return
	}
	if req.Points == 0 {
		req.Points = 1
	}
	qrToken := req.QRToken
	if qrToken == "" {
		qrToken = req.QRCode
	}

	ev := model.ScanEvent{
		EmployeeID: strings.TrimSpace(req.EmployeeID),
		CustomerID: req.CustomerID,
		QRToken:    qrToken,
		Points:     req.Points,
		IP:         ClientIP(r),
		Timestamp:  time.Now().UTC(),
	}

	res := s.engine.Evaluate(r.Context(), ev)
	for _, alert := range res.Alerts {
		s.recorder.Record(alert)
		if s.logger != nil {
			s.logger.Warn("abuse alert triggered",
				"type", string(alert.Type),
				"severity", string(alert.Severity),
				"employee_id", alert.EmployeeID,
				"customer_id", alert.CustomerID,
			)
		}
	}

	if res.Blocked {
		msg := res.Message
		if msg == "" {
			msg = "this action was blocked for policy reasons"
		}
		writeError(w, http.StatusTooManyRequests, "ABUSE_DETECTED", msg)
		return
	}

	total := s.ledger.Award(ev.CustomerID, ev.Points)
	if s.store != nil {
		// best effort off the request path, failure is logged only
		go func(ev model.ScanEvent) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.store.SaveScan(ctx, ev); err != nil && s.logger != nil {
				s.logger.Error("scan persist failed", "customer_id", ev.CustomerID, "err", err)
			}
		}(ev)
	}

	writeJSON(w, http.StatusOK, scanResponse{PointsEarned: ev.Points, TotalPoints: total})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	decision := s.limiter.Peek(r.Context(), ClientIP(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339Nano),
		"rateLimit": map[string]any{
			"remaining": decision.Remaining,
			"resetAt":   decision.ResetAt.Unix(),
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"time":        time.Now().UTC().Format(time.RFC3339Nano),
		"version":     s.version,
		"config_path": s.cfg.Path(),
		"limiter": map[string]any{
			"requests":  cfg.Limiter.Requests,
			"window":    cfg.Limiter.Window.String(),
			"fail_mode": cfg.Limiter.FailMode,
		},
		"detection": map[string]any{
			"repeated_scan_threshold": cfg.Detection.RepeatedScanThreshold,
			"repeated_scan_window":    cfg.Detection.RepeatedScanWindow.String(),
			"rapid_fire_threshold":    cfg.Detection.RapidFireThreshold,
			"rapid_fire_window":       cfg.Detection.RapidFireWindow.String(),
			"daily_scan_limit":        cfg.Detection.DailyScanLimit,
			"daily_points_limit":      cfg.Detection.DailyPointsLimit,
			"quiet_hours_enabled":     cfg.Detection.QuietHoursEnabled,
		},
		"counter": map[string]any{"backend": cfg.Counter.Backend},
		"storage": map[string]any{"enabled": cfg.Storage.Enabled, "driver": cfg.Storage.Driver},
		"notify":  map[string]any{"kafka": cfg.Notify.Kafka.Enabled},
		"dashboard": map[string]any{
			"poll_interval": cfg.Dashboard.PollInterval.String(),
		},
	})
}

func (s *Server) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	var list []model.Alert
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "since must be RFC3339")
			return
		}
		list = s.alerts.Since(ts)
	} else {
		list = s.alerts.Recent(limit)
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAlertStats(w http.ResponseWriter, r *http.Request) {
	loc, err := time.LoadLocation(s.cfg.Get().Detection.Timezone)
	if err != nil {
		loc = time.UTC
	}
	writeJSON(w, http.StatusOK, s.alerts.Stats(loc))
}

type createAlertRequest struct {
	Type       model.Pattern      `json:"type"`
	EmployeeID string             `json:"employeeId"`
	CustomerID string             `json:"customerId"`
	Severity   model.Severity     `json:"severity"`
	Message    string             `json:"message"`
	Details    model.AlertDetails `json:"details"`
}

// handleCreateAlert is the manual injection endpoint used by dashboard
// test tooling.
func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "request body too large or unreadable")
		return
	}
	var req createAlertRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "type is required")
		return
	}
	severity := req.Severity
	if severity == "" {
		severity = req.Type.Severity()
	}
	alert := s.recorder.Record(model.Alert{
		Type:       req.Type,
		EmployeeID: req.EmployeeID,
		CustomerID: req.CustomerID,
		Severity:   severity,
		Message:    req.Message,
		Details:    req.Details,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"alert": alert})
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.alerts.Acknowledge(id) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown alert id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.alerts.Clear()
		s.ledger.Clear()
	case "alerts":
		s.alerts.Clear()
	case "ledger":
		s.ledger.Clear()
	default:
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "target must be all, alerts or ledger")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.engine.Reset()
	s.alerts.Clear()
	s.ledger.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}
