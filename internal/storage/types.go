package storage

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrClosed = errors.New("storage closed")

	// ErrDuplicateAnswer is returned when a posted answer for the same
	// (user, post) pair already exists. The pipeline re-checks dedup before
	// posting, so hitting this means two writers raced; the schema wins.
	ErrDuplicateAnswer = errors.New("duplicate posted answer")
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default (5s)
}

type AnswerStatus string

const (
	AnswerPosted AnswerStatus = "posted"
	AnswerFailed AnswerStatus = "failed"
)

// Answer is one append-only record of a candidate processed for a user,
// posted or failed. The core never updates or deletes these rows; vote
// counts may be refreshed by an external job.
type Answer struct {
	ID        int64
	UserID    string
	SessionID string
	Channel   string
	PostID    string
	Title     string
	Author    string
	Text      string
	CommentID string
	Status    AnswerStatus
	Upvotes   int
	Downvotes int
	CreatedAt time.Time
}

// ChannelEntry is one row of a user's channel monitoring list.
type ChannelEntry struct {
	UserID    string
	Name      string
	Enabled   bool
	CreatedAt time.Time
}

// Credentials holds a user's platform and generator secrets.
type Credentials struct {
	UserID        string
	PlatformToken string
	GeneratorKey  string
	UpdatedAt     time.Time
}

// Complete reports whether both secrets are present. Incomplete credentials
// route a session to paused/missing_credentials, never to error.
func (c *Credentials) Complete() bool {
	return c != nil &&
		strings.TrimSpace(c.PlatformToken) != "" &&
		strings.TrimSpace(c.GeneratorKey) != ""
}
