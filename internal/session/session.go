// Package session holds the per-user bot session and its lifecycle rules.
//
// A session is the unit the scheduler iterates over. Transitions:
//
//	active -> paused   quota denied or credentials missing (reason recorded)
//	paused -> active   auto-resume once now >= ResumeAt (or credentials restored)
//	active -> error    error count reached the ceiling; manual restart required
//	any    -> stopped  explicit user stop
//
// The error count resets to zero on any successful post and increments on a
// failed attempt or an exhausted candidate search.
package session

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusError   Status = "error"
	StatusStopped Status = "stopped"
)

// PauseReason explains why a paused session is idle. It is the only channel
// through which an operator learns why a bot is not posting.
type PauseReason string

const (
	PauseDailyLimit         PauseReason = "daily_limit"
	PauseHourlyLimit        PauseReason = "hourly_limit"
	PauseMissingCredentials PauseReason = "missing_credentials"
)

// DefaultErrorCeiling deactivates a session after this many consecutive
// failed attempts.
const DefaultErrorCeiling = 5

// Session is one user's persistent bot run. At most one session per user is
// non-terminal at a time; the store enforces this on create.
type Session struct {
	ID     string
	UserID string
	Status Status

	ErrorCount         int
	QuestionsProcessed int
	AnswersPosted      int

	// Channels is the monitoring list captured when the session started.
	// The live per-channel enable flags stay in the channel table; this
	// snapshot is kept for audit.
	Channels []string

	PauseReason PauseReason
	ResumeAt    *time.Time

	LastActivityAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// New returns a fresh active session for the user.
func New(userID string, channels []string, now time.Time) *Session {
	return &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		Status:         StatusActive,
		Channels:       append([]string(nil), channels...),
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Terminal reports whether the session can never run again without a restart.
func (s *Session) Terminal() bool {
	return s == nil || s.Status == StatusStopped || s.Status == StatusError
}

// Runnable reports whether the scheduler should touch this session now.
// Paused sessions become runnable once their resume time passes; paused
// sessions without a resume time wait for an external fix (credentials).
func (s *Session) Runnable(now time.Time) bool {
	if s == nil {
		return false
	}
	switch s.Status {
	case StatusActive:
		return true
	case StatusPaused:
		return s.ResumeAt != nil && !now.Before(*s.ResumeAt)
	default:
		return false
	}
}

// Pause parks the session with a reason. resumeAt may be nil when the pause
// has no natural end (missing credentials).
func (s *Session) Pause(reason PauseReason, resumeAt *time.Time, now time.Time) {
	if s == nil || s.Terminal() {
		return
	}
	s.Status = StatusPaused
	s.PauseReason = reason
	s.ResumeAt = resumeAt
	s.UpdatedAt = now
}

// Resume returns the session to active, clearing the pause bookkeeping.
func (s *Session) Resume(now time.Time) {
	if s == nil || s.Status != StatusPaused {
		return
	}
	s.Status = StatusActive
	s.PauseReason = ""
	s.ResumeAt = nil
	s.UpdatedAt = now
}

// RecordSuccess accounts for a posted answer. The error count strictly
// resets to zero.
func (s *Session) RecordSuccess(now time.Time) {
	if s == nil {
		return
	}
	s.ErrorCount = 0
	s.QuestionsProcessed++
	s.AnswersPosted++
	s.LastActivityAt = now
	s.UpdatedAt = now
}

// RecordFailure accounts for a candidate that was processed but not posted.
// It increments the error count and deactivates the session once the ceiling
// is reached, reporting whether that happened. A ceiling <= 0 falls back to
// DefaultErrorCeiling.
func (s *Session) RecordFailure(ceiling int, now time.Time) bool {
	if s == nil {
		return false
	}
	s.QuestionsProcessed++
	return s.bumpError(ceiling, now)
}

// RecordExhausted accounts for a tick that found no suitable candidate.
// Not a platform error, but it still counts toward the error budget so a
// session with permanently empty channels doesn't loop silently forever.
func (s *Session) RecordExhausted(ceiling int, now time.Time) bool {
	if s == nil {
		return false
	}
	return s.bumpError(ceiling, now)
}

func (s *Session) bumpError(ceiling int, now time.Time) bool {
	if ceiling <= 0 {
		ceiling = DefaultErrorCeiling
	}
	s.ErrorCount++
	s.LastActivityAt = now
	s.UpdatedAt = now
	if s.ErrorCount >= ceiling {
		s.Status = StatusError
		s.PauseReason = ""
		s.ResumeAt = nil
		return true
	}
	return false
}

// Stop terminates the session on explicit user action.
func (s *Session) Stop(now time.Time) {
	if s == nil || s.Status == StatusStopped {
		return
	}
	s.Status = StatusStopped
	s.PauseReason = ""
	s.ResumeAt = nil
	s.UpdatedAt = now
}
