// Package limiter enforces the per-IP request ceiling in front of the scan
// and alert endpoints.
package limiter

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"scanguard/internal/counter"
)

type FailMode string

const (
	// FailClosed denies requests when the counter backend is unavailable.
	// Default, protects backend resources.
	FailClosed FailMode = "closed"
	// FailOpen lets requests through on backend failure.
	FailOpen FailMode = "open"
)

type Config struct {
	Requests   int
	Window     time.Duration
	FailMode   FailMode
	TrustedIPs []string
}

// Decision is the rate-limit state for one request. Remaining and ResetAt
// are surfaced as X-RateLimit-* headers at the boundary so clients can
// back off.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Degraded  bool
}

type IPLimiter struct {
	store  counter.Store
	logger *slog.Logger
	cfg    atomic.Value
	now    func() time.Time
}

type limiterState struct {
	requests int
	window   counter.Window
	failMode FailMode
	trusted  map[string]struct{}
}

func New(store counter.Store, cfg Config, logger *slog.Logger) *IPLimiter {
	l := &IPLimiter{store: store, logger: logger, now: time.Now}
	l.UpdateConfig(cfg)
	return l
}

// SetNow overrides the clock. Test hook.
func (l *IPLimiter) SetNow(now func() time.Time) {
	l.now = now
}

func (l *IPLimiter) UpdateConfig(cfg Config) {
	trusted := make(map[string]struct{}, len(cfg.TrustedIPs))
	for _, ip := range cfg.TrustedIPs {
		ip = strings.TrimSpace(ip)
		if ip == "" {
			continue
		}
		trusted[ip] = struct{}{}
	}
	mode := cfg.FailMode
	if mode != FailOpen {
		mode = FailClosed
	}
	l.cfg.Store(&limiterState{
		requests: cfg.Requests,
		window:   counter.Sliding(cfg.Window),
		failMode: mode,
		trusted:  trusted,
	})
}

func (l *IPLimiter) state() *limiterState {
	return l.cfg.Load().(*limiterState)
}

// CheckAndConsume consumes one slot for ip and reports whether the request
// may proceed. It never returns an error: backend failures degrade to the
// configured fail mode and are logged.
func (l *IPLimiter) CheckAndConsume(ctx context.Context, ip string) Decision {
	st := l.state()
	now := l.now().UTC()
	resetAt := st.window.ResetAt(now)

	if _, ok := st.trusted[ip]; ok {
		return Decision{Allowed: true, Remaining: st.requests, ResetAt: resetAt}
	}

	count, err := l.store.Incr(ctx, "ratelimit:ip:"+ip, st.window)
	if err != nil {
		allowed := st.failMode == FailOpen
		if l.logger != nil {
			l.logger.Warn("rate limiter degraded",
				"ip", ip,
				"fail_mode", string(st.failMode),
				"allowed", allowed,
				"err", err,
			)
		}
		return Decision{Allowed: allowed, Remaining: 0, ResetAt: resetAt, Degraded: true}
	}

	remaining := st.requests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   int(count) <= st.requests,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// Peek reports the caller's current state without consuming a slot; used
// by the health endpoint to echo rate-limit headers.
func (l *IPLimiter) Peek(ctx context.Context, ip string) Decision {
	st := l.state()
	now := l.now().UTC()
	resetAt := st.window.ResetAt(now)

	if _, ok := st.trusted[ip]; ok {
		return Decision{Allowed: true, Remaining: st.requests, ResetAt: resetAt}
	}

	count, err := l.store.Get(ctx, "ratelimit:ip:"+ip, st.window)
	if err != nil {
		return Decision{Allowed: st.failMode == FailOpen, Remaining: 0, ResetAt: resetAt, Degraded: true}
	}
	remaining := st.requests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: int(count) < st.requests, Remaining: remaining, ResetAt: resetAt}
}
