// Package engine evaluates scan events against the configured abuse
// patterns. The engine only decides; whether a scan is rejected is acted
// on by the calling endpoint via the returned verdict.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"scanguard/internal/config"
	"scanguard/internal/counter"
	"scanguard/internal/model"
)

type Engine struct {
	counters counter.Store
	logger   *slog.Logger
	cfg      atomic.Value
	suppress *SuppressionCache
	now      func() time.Time
}

type engineState struct {
	repeatedThreshold int64
	repeatedWindow    counter.Window
	rapidThreshold    int64
	rapidWindow       counter.Window
	dailyScanLimit    int64
	dailyPointsLimit  int64
	dailyWindow       counter.Window
	quietEnabled      bool
	quietStart        int
	quietEnd          int
	loc               *time.Location
	trustedEmployees  map[string]struct{}
}

// Result is the verdict for one scan. Alerts holds every pattern that
// newly triggered; Blocked is set when policy rejects the transaction
// (any HIGH alert, or a daily cap already exceeded).
type Result struct {
	Alerts  []model.Alert
	Blocked bool
	Message string
}

func New(counters counter.Store, cfg *config.Config, logger *slog.Logger) *Engine {
	e := &Engine{
		counters: counters,
		logger:   logger,
		suppress: NewSuppressionCache(),
		now:      time.Now,
	}
	e.UpdateConfig(cfg)
	return e
}

// SetNow overrides the clock. Test hook.
func (e *Engine) SetNow(now func() time.Time) {
	e.now = now
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	loc, err := time.LoadLocation(cfg.Detection.Timezone)
	if err != nil {
		loc = time.UTC
	}
	trusted := make(map[string]struct{}, len(cfg.Exemptions.TrustedEmployees))
	for _, id := range cfg.Exemptions.TrustedEmployees {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		trusted[id] = struct{}{}
	}
	e.cfg.Store(&engineState{
		repeatedThreshold: int64(cfg.Detection.RepeatedScanThreshold),
		repeatedWindow:    counter.Sliding(cfg.Detection.RepeatedScanWindow),
		rapidThreshold:    int64(cfg.Detection.RapidFireThreshold),
		rapidWindow:       counter.Sliding(cfg.Detection.RapidFireWindow),
		dailyScanLimit:    int64(cfg.Detection.DailyScanLimit),
		dailyPointsLimit:  int64(cfg.Detection.DailyPointsLimit),
		dailyWindow:       counter.Daily(loc),
		quietEnabled:      cfg.Detection.QuietHoursEnabled,
		quietStart:        cfg.Detection.QuietHoursStart,
		quietEnd:          cfg.Detection.QuietHoursEnd,
		loc:               loc,
		trustedEmployees:  trusted,
	})
}

func (e *Engine) state() *engineState {
	return e.cfg.Load().(*engineState)
}

// Reset clears suppression state so every pattern may trigger again.
func (e *Engine) Reset() {
	e.suppress.Reset()
}

// Evaluate runs every heuristic against the scan. Counters count attempts,
// including scans that end up rejected, so a capped subject stays capped
// until the window rolls over. A counter backend failure skips the
// affected pattern (fail-open for heuristics) and is logged.
func (e *Engine) Evaluate(ctx context.Context, ev model.ScanEvent) Result {
	st := e.state()
	now := ev.Timestamp
	if now.IsZero() {
		now = e.now().UTC()
	}

	if _, ok := st.trustedEmployees[ev.EmployeeID]; ok && ev.EmployeeID != "" {
		return Result{}
	}

	var res Result

	if ev.EmployeeID != "" && ev.CustomerID != "" {
		pairKey := "pair:" + ev.EmployeeID + "|" + ev.CustomerID
		if count, ok := e.incr(ctx, pairKey, st.repeatedWindow, model.PatternRepeatedScans); ok {
			if count > st.repeatedThreshold {
				e.trigger(&res, now, st.repeatedWindow, model.Alert{
					Type:       model.PatternRepeatedScans,
					EmployeeID: ev.EmployeeID,
					CustomerID: ev.CustomerID,
					Message: fmt.Sprintf("employee %s scanned customer %s %d times within %s",
						ev.EmployeeID, ev.CustomerID, count, st.repeatedWindow.Size),
					Details: model.AlertDetails{Count: count, Threshold: st.repeatedThreshold, Window: st.repeatedWindow.Size.String()},
				}, pairKey)
				res.Blocked = true
				if res.Message == "" {
					res.Message = "abuse detected: repeated scans of the same customer"
				}
			}
		}
	}

	if ev.EmployeeID != "" {
		empKey := "emp:" + ev.EmployeeID
		if count, ok := e.incr(ctx, empKey, st.rapidWindow, model.PatternRapidFire); ok {
			if count > st.rapidThreshold {
				e.trigger(&res, now, st.rapidWindow, model.Alert{
					Type:       model.PatternRapidFire,
					EmployeeID: ev.EmployeeID,
					Message: fmt.Sprintf("employee %s performed %d scans within %s",
						ev.EmployeeID, count, st.rapidWindow.Size),
					Details: model.AlertDetails{Count: count, Threshold: st.rapidThreshold, Window: st.rapidWindow.Size.String()},
				}, empKey)
				res.Blocked = true
				if res.Message == "" {
					res.Message = "abuse detected: scanning too rapidly"
				}
			}
		}
	}

	if ev.CustomerID != "" {
		scanKey := "cust:scans:" + ev.CustomerID
		if count, ok := e.incr(ctx, scanKey, st.dailyWindow, model.PatternDailyScanLimit); ok {
			if count > st.dailyScanLimit {
				e.trigger(&res, now, st.dailyWindow, model.Alert{
					Type:       model.PatternDailyScanLimit,
					CustomerID: ev.CustomerID,
					Message: fmt.Sprintf("customer %s reached %d scans today (limit %d)",
						ev.CustomerID, count, st.dailyScanLimit),
					Details: model.AlertDetails{Count: count, Threshold: st.dailyScanLimit, Window: "1 day"},
				}, scanKey)
				// hard cap: every scan past the limit is rejected until
				// the day rolls over, alert or not
				res.Blocked = true
				if res.Message == "" {
					res.Message = "daily scan limit reached, try again tomorrow"
				}
			}
		}

		pointsKey := "cust:points:" + ev.CustomerID
		if ev.Points > 0 {
			if total, ok := e.add(ctx, pointsKey, int64(ev.Points), st.dailyWindow, model.PatternDailyPointsLimit); ok {
				if total > st.dailyPointsLimit {
					e.trigger(&res, now, st.dailyWindow, model.Alert{
						Type:       model.PatternDailyPointsLimit,
						CustomerID: ev.CustomerID,
						Message: fmt.Sprintf("customer %s accrued %d points today (limit %d)",
							ev.CustomerID, total, st.dailyPointsLimit),
						Details: model.AlertDetails{Count: total, Threshold: st.dailyPointsLimit, Window: "1 day"},
					}, pointsKey)
					res.Blocked = true
					if res.Message == "" {
						res.Message = "daily points limit reached, try again tomorrow"
					}
				}
			}
		}
	}

	if st.quietEnabled && inQuietHours(now.In(st.loc).Hour(), st.quietStart, st.quietEnd) {
		subject := ev.EmployeeID
		if subject == "" {
			subject = ev.CustomerID
		}
		e.trigger(&res, now, st.dailyWindow, model.Alert{
			Type:       model.PatternUnusualHours,
			EmployeeID: ev.EmployeeID,
			CustomerID: ev.CustomerID,
			Message: fmt.Sprintf("scan at %02d:00 falls within quiet hours %02d:00-%02d:00",
				now.In(st.loc).Hour(), st.quietStart, st.quietEnd),
			Details: model.AlertDetails{Count: 1, Threshold: 0, Window: "per-event"},
		}, "hours:"+subject)
	}

	return res
}

// trigger records the alert unless an equal (pattern, subject, window)
// alert already fired. Suppression keys embed the window bucket so daily
// patterns re-arm at midnight; rolling patterns re-arm when the ttl lapses.
func (e *Engine) trigger(res *Result, now time.Time, w counter.Window, alert model.Alert, subjectKey string) {
	ttl := w.Size
	key := string(alert.Type) + "|" + subjectKey + "|" + w.Bucket(now)
	if !e.suppress.Once(key, now, ttl) {
		return
	}
	alert.Severity = alert.Type.Severity()
	alert.Status = model.StatusNew
	alert.CreatedAt = now
	res.Alerts = append(res.Alerts, alert)
}

func (e *Engine) incr(ctx context.Context, key string, w counter.Window, p model.Pattern) (int64, bool) {
	count, err := e.counters.Incr(ctx, key, w)
	if err != nil {
		e.degraded(p, err)
		return 0, false
	}
	return count, true
}

func (e *Engine) add(ctx context.Context, key string, delta int64, w counter.Window, p model.Pattern) (int64, bool) {
	count, err := e.counters.Add(ctx, key, delta, w)
	if err != nil {
		e.degraded(p, err)
		return 0, false
	}
	return count, true
}

func (e *Engine) degraded(p model.Pattern, err error) {
	if e.logger != nil {
		e.logger.Warn("heuristic degraded, pattern skipped", "pattern", string(p), "err", err)
	}
}

// inQuietHours handles quiet periods that wrap midnight (e.g. 23 to 5).
// Both bounds are inclusive, matching the configured hours.
func inQuietHours(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour <= end
	}
	return hour >= start || hour <= end
}
