// Package quota decides whether a user may post again, based on rolling
// counters derived from the posted-answer history. Pure reads; the tracker
// never mutates anything.
package quota

import (
	"context"
	"sync"
	"time"

	"answerbot/internal/session"
)

const (
	DefaultDailyCap  = 5
	DefaultHourlyCap = 2
)

// Limits are the posting ceilings. Zero values fall back to defaults;
// Location defaults to time.Local and anchors the local-midnight day
// boundary.
type Limits struct {
	DailyCap  int
	HourlyCap int
	Location  *time.Location
}

func (l Limits) withDefaults() Limits {
	if l.DailyCap <= 0 {
		l.DailyCap = DefaultDailyCap
	}
	if l.HourlyCap <= 0 {
		l.HourlyCap = DefaultHourlyCap
	}
	if l.Location == nil {
		l.Location = time.Local
	}
	return l
}

// History is the read side of the answered-question table.
type History interface {
	CountPostedSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// Result is the outcome of a quota check. When not allowed, Reason and
// ResumeAt say why and when the session may try again.
type Result struct {
	Allowed  bool
	Reason   session.PauseReason
	ResumeAt time.Time
}

type Tracker struct {
	hist History

	mu     sync.Mutex
	limits Limits
}

func NewTracker(hist History, limits Limits) *Tracker {
	return &Tracker{hist: hist, limits: limits.withDefaults()}
}

// SetLimits swaps the ceilings (config hot reload). Safe to call while
// checks are in flight.
func (t *Tracker) SetLimits(limits Limits) {
	t.mu.Lock()
	t.limits = limits.withDefaults()
	t.mu.Unlock()
}

// Check applies the daily cap first, then the hourly cap. Daily counts run
// from local midnight; denial resumes at the next local midnight. Hourly
// counts run over the trailing hour; denial resumes one hour from now.
func (t *Tracker) Check(ctx context.Context, userID string, now time.Time) (Result, error) {
	t.mu.Lock()
	lim := t.limits
	t.mu.Unlock()

	local := now.In(lim.Location)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, lim.Location)

	n, err := t.hist.CountPostedSince(ctx, userID, dayStart)
	if err != nil {
		return Result{}, err
	}
	if n >= lim.DailyCap {
		return Result{
			Reason:   session.PauseDailyLimit,
			ResumeAt: dayStart.AddDate(0, 0, 1),
		}, nil
	}

	n, err = t.hist.CountPostedSince(ctx, userID, now.Add(-time.Hour))
	if err != nil {
		return Result{}, err
	}
	if n >= lim.HourlyCap {
		return Result{
			Reason:   session.PauseHourlyLimit,
			ResumeAt: now.Add(time.Hour),
		}, nil
	}

	return Result{Allowed: true}, nil
}
