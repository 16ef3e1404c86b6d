package scheduler

import (
	"context"
	"time"

	"answerbot/internal/pipeline"
	"answerbot/internal/platform"
	"answerbot/internal/session"
	"answerbot/internal/storage"
	"answerbot/pkg/logx"
)

// TickSummary is the result of one driver invocation.
type TickSummary struct {
	StartedAt   time.Time     `json:"started_at"`
	Took        time.Duration `json:"took"`
	Sessions    int           `json:"sessions"`
	Posted      int           `json:"posted"`
	Failed      int           `json:"failed"`
	Paused      int           `json:"paused"`
	NoCandidate int           `json:"no_candidate"`
	Skipped     int           `json:"skipped"`
}

// Session processing outcomes, tallied into the summary.
const (
	outcomePosted      = "posted"
	outcomeFailed      = "failed"
	outcomePaused      = "paused"
	outcomeNoCandidate = "no_candidate"
	outcomeSkipped     = "skipped"
)

// RunTick processes every runnable session once: at most one candidate per
// session, sequentially. It is non-reentrant; an overlapping call returns
// ErrTickRunning without touching any session.
//
// Per-session failures are absorbed into that session's error budget. Only
// durable-store failures abort the tick and surface to the operator.
func (d *Driver) RunTick(ctx context.Context) (TickSummary, error) {
	if !d.tickMu.TryLock() {
		d.log.Warn("tick overlap; skipping")
		return TickSummary{}, ErrTickRunning
	}
	defer d.tickMu.Unlock()

	start := d.now()
	sum := TickSummary{StartedAt: start}

	sessions, err := d.store.RunnableSessions(ctx)
	if err != nil {
		d.alertTickFailed(err)
		return sum, err
	}
	sum.Sessions = len(sessions)

	for _, sess := range sessions {
		if err := ctx.Err(); err != nil {
			sum.Took = time.Since(start)
			return sum, err
		}

		outcome, err := d.processSession(ctx, sess)
		if err != nil {
			// Store-level failure: nothing downstream can be trusted.
			d.log.Error("tick aborted",
				logx.String("user", sess.UserID), logx.Err(err))
			d.alertTickFailed(err)
			sum.Took = time.Since(start)
			return sum, err
		}

		switch outcome {
		case outcomePosted:
			sum.Posted++
		case outcomeFailed:
			sum.Failed++
		case outcomePaused:
			sum.Paused++
		case outcomeNoCandidate:
			sum.NoCandidate++
		default:
			sum.Skipped++
		}
	}

	sum.Took = time.Since(start)
	d.log.Info("tick complete",
		logx.Int("sessions", sum.Sessions), logx.Int("posted", sum.Posted),
		logx.Int("failed", sum.Failed), logx.Int("paused", sum.Paused),
		logx.Int("no_candidate", sum.NoCandidate), logx.Int("skipped", sum.Skipped),
		logx.Duration("took", sum.Took))
	return sum, nil
}

// processSession runs one unit of useful work for one session. The returned
// error is reserved for durable-store failures; everything else lands in
// the session's own state.
func (d *Driver) processSession(ctx context.Context, sess *session.Session) (string, error) {
	mu := d.lockFor(sess.UserID)
	mu.Lock()
	defer mu.Unlock()

	now := d.now()
	cfg := d.config()
	log := d.log.With(logx.String("user", sess.UserID), logx.String("session", sess.ID))

	// Paused sessions: auto-resume on schedule, or when the missing
	// credentials show up. Anything else stays parked.
	if sess.Status == session.StatusPaused {
		resumed, err := d.tryResume(ctx, sess, now, log)
		if err != nil {
			return "", err
		}
		if !resumed {
			return outcomeSkipped, nil
		}
	}

	creds, err := d.store.Credentials(ctx, sess.UserID)
	if err != nil {
		return "", err
	}
	if !creds.Complete() {
		sess.Pause(session.PauseMissingCredentials, nil, now)
		if err := d.store.SaveSession(ctx, sess); err != nil {
			return "", err
		}
		log.Warn("session paused: credentials missing or incomplete")
		return outcomePaused, nil
	}

	res, err := d.quota.Check(ctx, sess.UserID, now)
	if err != nil {
		return "", err
	}
	if !res.Allowed {
		resumeAt := res.ResumeAt
		sess.Pause(res.Reason, &resumeAt, now)
		if err := d.store.SaveSession(ctx, sess); err != nil {
			return "", err
		}
		log.Info("session paused: quota",
			logx.String("reason", string(res.Reason)), logx.Time("resume_at", resumeAt))
		return outcomePaused, nil
	}

	channels, err := d.store.ActiveChannels(ctx, sess.UserID)
	if err != nil {
		return "", err
	}
	if len(channels) == 0 {
		// Monitoring list emptied after start; fall back to the snapshot.
		channels = sess.Channels
	}

	src := boundSource{api: d.platform, token: creds.PlatformToken, limit: cfg.PageSize, timeout: cfg.CallTimeout}
	cand, err := d.selector.Select(ctx, src, d.store, sess.UserID, channels, now)
	if err != nil {
		return "", err
	}
	if cand == nil {
		deactivated := sess.RecordExhausted(cfg.ErrorCeiling, now)
		if err := d.store.SaveSession(ctx, sess); err != nil {
			return "", err
		}
		log.Info("no candidate found", logx.Int("error_count", sess.ErrorCount))
		if deactivated {
			log.Warn("session deactivated: error budget exhausted")
			d.alertDeactivated(sess.UserID, sess.ErrorCount)
		}
		return outcomeNoCandidate, nil
	}

	deps := pipeline.Deps{
		Generator: boundGenerator{api: d.generator, key: creds.GeneratorKey, timeout: cfg.CallTimeout},
		Poster:    boundPoster{api: d.platform, token: creds.PlatformToken, timeout: cfg.CallTimeout},
		Recorder:  d.store,
		Dedup:     d.store,
	}
	out, err := d.pipeline.Process(ctx, deps, sess.UserID, sess.ID, *cand)
	if err != nil {
		return "", err
	}

	if out.Status == storage.AnswerPosted {
		sess.RecordSuccess(now)
		if err := d.store.SaveSession(ctx, sess); err != nil {
			return "", err
		}
		log.Info("answer posted",
			logx.String("post", cand.Post.ID), logx.String("comment", out.CommentID))
		return outcomePosted, nil
	}

	deactivated := sess.RecordFailure(cfg.ErrorCeiling, now)
	if err := d.store.SaveSession(ctx, sess); err != nil {
		return "", err
	}
	log.Warn("attempt failed",
		logx.String("post", cand.Post.ID), logx.String("reason", out.Reason),
		logx.Int("error_count", sess.ErrorCount))
	if deactivated {
		log.Warn("session deactivated: error budget exhausted")
		d.alertDeactivated(sess.UserID, sess.ErrorCount)
	}
	return outcomeFailed, nil
}

// tryResume reports whether a paused session went back to active.
func (d *Driver) tryResume(ctx context.Context, sess *session.Session, now time.Time, log logx.Logger) (bool, error) {
	if sess.Runnable(now) {
		was := sess.PauseReason
		sess.Resume(now)
		if err := d.store.SaveSession(ctx, sess); err != nil {
			return false, err
		}
		log.Info("session resumed", logx.String("was", string(was)))
		return true, nil
	}
	if sess.PauseReason == session.PauseMissingCredentials {
		creds, err := d.store.Credentials(ctx, sess.UserID)
		if err != nil {
			return false, err
		}
		if creds.Complete() {
			sess.Resume(now)
			if err := d.store.SaveSession(ctx, sess); err != nil {
				return false, err
			}
			log.Info("session resumed: credentials restored")
			return true, nil
		}
	}
	return false, nil
}

// ---- per-user bound collaborators ----

type boundSource struct {
	api     PlatformAPI
	token   string
	limit   int
	timeout time.Duration
}

func (b boundSource) RecentPosts(ctx context.Context, channel string) ([]platform.Post, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.api.RecentPosts(ctx, b.token, channel, b.limit)
}

type boundPoster struct {
	api     PlatformAPI
	token   string
	timeout time.Duration
}

func (b boundPoster) PostComment(ctx context.Context, postID, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.api.PostComment(ctx, b.token, postID, text)
}

type boundGenerator struct {
	api     GeneratorAPI
	key     string
	timeout time.Duration
}

func (b boundGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.api.Generate(ctx, b.key, prompt)
}
