// Package counter tracks per-key event counts within fixed or sliding time
// windows. The Store interface is the contract; the backing implementation
// decides whether counts are shared across instances (redis) or local to
// one process (memory).
package counter

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ErrUnavailable wraps backend failures so callers can apply their
// fail-open/closed policy without inspecting driver errors.
var ErrUnavailable = errors.New("counter store unavailable")

type Mode int

const (
	// ModeFixed resets at a calendar-aligned boundary (e.g. midnight for
	// daily limits).
	ModeFixed Mode = iota
	// ModeSliding is a rolling lookback from the current instant.
	ModeSliding
)

// Window describes the bounded interval a count is tracked over. Location
// only matters for fixed windows, where bucket boundaries are aligned to
// wall-clock time in that zone.
type Window struct {
	Size     time.Duration
	Mode     Mode
	Location *time.Location
}

func Sliding(size time.Duration) Window {
	return Window{Size: size, Mode: ModeSliding}
}

func Fixed(size time.Duration, loc *time.Location) Window {
	return Window{Size: size, Mode: ModeFixed, Location: loc}
}

// Daily is a fixed window aligned to midnight in loc.
func Daily(loc *time.Location) Window {
	return Fixed(24*time.Hour, loc)
}

func (w Window) loc() *time.Location {
	if w.Location != nil {
		return w.Location
	}
	return time.UTC
}

// BucketStart returns the start of the fixed bucket containing now. For
// sliding windows it returns the start of the lookback.
func (w Window) BucketStart(now time.Time) time.Time {
	if w.Mode == ModeSliding {
		return now.Add(-w.Size)
	}
	local := now.In(w.loc())
	if w.Size == 24*time.Hour {
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, w.loc())
	}
	return local.Truncate(w.Size)
}

// ResetAt returns when the current count stops applying: the next bucket
// boundary for fixed windows, now+size for sliding ones.
func (w Window) ResetAt(now time.Time) time.Time {
	if w.Mode == ModeSliding {
		return now.Add(w.Size)
	}
	return w.BucketStart(now).Add(w.Size)
}

// Bucket is a stable token identifying the window instance containing now.
// It is used in backend keys and alert suppression keys so that "once per
// window" holds across restarts of the same bucket.
func (w Window) Bucket(now time.Time) string {
	if w.Mode == ModeSliding {
		return "roll" + strconv.FormatInt(int64(w.Size.Seconds()), 10)
	}
	return strconv.FormatInt(w.BucketStart(now).Unix(), 10)
}

// Store provides atomic increment-and-read per (key, window). Counts for
// expired windows read as zero.
type Store interface {
	// Incr records one event and returns the count within the window,
	// including this event.
	Incr(ctx context.Context, key string, w Window) (int64, error)
	// Add accumulates a quantity (e.g. points) and returns the windowed
	// total including delta.
	Add(ctx context.Context, key string, delta int64, w Window) (int64, error)
	// Get returns the current count without incrementing.
	Get(ctx context.Context, key string, w Window) (int64, error)
	Close() error
}
