package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"answerbot/internal/session"
	"answerbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the SQLite-backed durable store for sessions, answers, channel
// monitoring entries and credentials.
//
// SQLite prefers a single writer, so the pool is capped at one connection;
// callers multiplex through database/sql as usual.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- sessions ----

// CreateSession inserts a fresh session, first stopping any non-terminal
// session the user still has. At most one runnable session per user is an
// invariant; the transaction keeps it that way.
func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := sess.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET status = ?, pause_reason = NULL, resume_at = NULL, updated_at = ?
		 WHERE user_id = ? AND status IN (?, ?)`,
		session.StatusStopped, now.UnixMilli(), sess.UserID, session.StatusActive, session.StatusPaused,
	)
	if err != nil {
		return fmt.Errorf("close prior sessions: %w", err)
	}

	channels, err := json.Marshal(sess.Channels)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions(id, user_id, status, error_count, questions_processed, answers_posted,
		                      channels, pause_reason, resume_at, last_activity_at, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		sess.ID, sess.UserID, sess.Status, sess.ErrorCount, sess.QuestionsProcessed, sess.AnswersPosted,
		string(channels), nullStr(string(sess.PauseReason)), nullTime(sess.ResumeAt),
		sess.LastActivityAt.UnixMilli(), sess.CreatedAt.UnixMilli(), sess.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return tx.Commit()
}

// SaveSession persists the session's mutable fields by id.
func (s *Store) SaveSession(ctx context.Context, sess *session.Session) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, error_count = ?, questions_processed = ?, answers_posted = ?,
		        pause_reason = ?, resume_at = ?, last_activity_at = ?, updated_at = ?
		 WHERE id = ?`,
		sess.Status, sess.ErrorCount, sess.QuestionsProcessed, sess.AnswersPosted,
		nullStr(string(sess.PauseReason)), nullTime(sess.ResumeAt),
		sess.LastActivityAt.UnixMilli(), sess.UpdatedAt.UnixMilli(), sess.ID,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save session %s: not found", sess.ID)
	}
	return nil
}

// CurrentSession returns the user's non-terminal session, or nil.
func (s *Store) CurrentSession(ctx context.Context, userID string) (*session.Session, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	row := s.db.QueryRowContext(ctx,
		sessionSelect+` WHERE user_id = ? AND status IN (?, ?) ORDER BY created_at DESC LIMIT 1`,
		userID, session.StatusActive, session.StatusPaused,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

// RunnableSessions returns every active or paused session, oldest first so
// long-waiting users are served before recently active ones.
func (s *Store) RunnableSessions(ctx context.Context) ([]*session.Session, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		sessionSelect+` WHERE status IN (?, ?) ORDER BY last_activity_at ASC`,
		session.StatusActive, session.StatusPaused,
	)
	if err != nil {
		return nil, fmt.Errorf("query runnable sessions: %w", err)
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

const sessionSelect = `SELECT id, user_id, status, error_count, questions_processed, answers_posted,
       channels, pause_reason, resume_at, last_activity_at, created_at, updated_at
  FROM sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*session.Session, error) {
	var (
		sess        session.Session
		channels    string
		pauseReason sql.NullString
		resumeAt    sql.NullInt64
		lastAct     int64
		createdAt   int64
		updatedAt   int64
	)
	err := r.Scan(&sess.ID, &sess.UserID, &sess.Status, &sess.ErrorCount,
		&sess.QuestionsProcessed, &sess.AnswersPosted,
		&channels, &pauseReason, &resumeAt, &lastAct, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(channels), &sess.Channels); err != nil {
		return nil, fmt.Errorf("decode session channels: %w", err)
	}
	sess.PauseReason = session.PauseReason(pauseReason.String)
	if resumeAt.Valid {
		t := time.UnixMilli(resumeAt.Int64)
		sess.ResumeAt = &t
	}
	sess.LastActivityAt = time.UnixMilli(lastAct)
	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.UpdatedAt = time.UnixMilli(updatedAt)
	return &sess, nil
}

// ---- answers ----

// AppendAnswer inserts the audit row for one processing attempt and fills
// in the generated id. The partial unique index rejects a second posted row
// for the same (user, post) pair.
func (s *Store) AppendAnswer(ctx context.Context, a *Answer) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO answers(user_id, session_id, channel, post_id, title, author,
		                     answer_text, comment_id, status, upvotes, downvotes, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.UserID, nullStr(a.SessionID), a.Channel, a.PostID, a.Title, nullStr(a.Author),
		a.Text, nullStr(a.CommentID), a.Status, a.Upvotes, a.Downvotes, a.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateAnswer
		}
		return fmt.Errorf("append answer: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		a.ID = id
	}
	return nil
}

// HasPostedAnswer reports whether a posted answer exists for the pair.
func (s *Store) HasPostedAnswer(ctx context.Context, userID, postID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM answers WHERE user_id = ? AND post_id = ? AND status = ? LIMIT 1`,
		userID, postID, AnswerPosted,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return true, nil
}

// CountPostedSince counts posted answers for the user at or after since.
func (s *Store) CountPostedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM answers WHERE user_id = ? AND status = ? AND created_at >= ?`,
		userID, AnswerPosted, since.UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count posted: %w", err)
	}
	return n, nil
}

// ---- channels ----

// ActiveChannels returns the names of the user's enabled channels.
func (s *Store) ActiveChannels(ctx context.Context, userID string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM channels WHERE user_id = ? AND enabled = 1 ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) UpsertChannel(ctx context.Context, e ChannelEntry) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels(user_id, name, enabled, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(user_id, name) DO UPDATE SET enabled = excluded.enabled`,
		e.UserID, e.Name, boolInt(e.Enabled), e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}
	return nil
}

// ---- credentials ----

// Credentials returns the user's stored secrets, or nil when absent.
func (s *Store) Credentials(ctx context.Context, userID string) (*Credentials, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	var (
		c       Credentials
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, platform_token, generator_key, updated_at FROM credentials WHERE user_id = ?`,
		userID,
	).Scan(&c.UserID, &c.PlatformToken, &c.GeneratorKey, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	c.UpdatedAt = time.UnixMilli(updated)
	return &c, nil
}

func (s *Store) PutCredentials(ctx context.Context, c *Credentials) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	now := c.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials(user_id, platform_token, generator_key, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   platform_token = excluded.platform_token,
		   generator_key = excluded.generator_key,
		   updated_at = excluded.updated_at`,
		c.UserID, c.PlatformToken, c.GeneratorKey, now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put credentials: %w", err)
	}
	return nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
