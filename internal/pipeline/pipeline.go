// Package pipeline runs the generate-then-post flow for one candidate and
// writes the audit row for every attempt, posted or failed.
package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"answerbot/internal/generate"
	"answerbot/internal/selector"
	"answerbot/internal/storage"
	"answerbot/pkg/logx"
)

// Disclaimer is appended verbatim to every generated answer. Posting an
// undisclosed bot reply is a compliance violation, so this is not optional.
const Disclaimer = "\n\n---\n^(This reply was written by an automated assistant. Please double-check anything important.)"

// Generator produces answer text, bound to the user's generator key.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Poster publishes a comment, bound to the user's platform token.
type Poster interface {
	PostComment(ctx context.Context, postID, text string) (string, error)
}

// Recorder appends the audit row for an attempt.
type Recorder interface {
	AppendAnswer(ctx context.Context, a *storage.Answer) error
}

// Dedup is re-checked after the compliance delay: a concurrent run may have
// answered the same post while we were waiting.
type Dedup interface {
	HasPostedAnswer(ctx context.Context, userID, postID string) (bool, error)
}

// Deps bundles the per-user collaborators for one Process call.
type Deps struct {
	Generator Generator
	Poster    Poster
	Recorder  Recorder
	Dedup     Dedup
}

const (
	DefaultDelayMin = 2 * time.Minute
	DefaultDelayMax = 4 * time.Minute
)

// Options tune the compliance delay window. Zero values fall back to
// defaults.
type Options struct {
	DelayMin time.Duration
	DelayMax time.Duration
}

func (o Options) withDefaults() Options {
	if o.DelayMin <= 0 {
		o.DelayMin = DefaultDelayMin
	}
	if o.DelayMax < o.DelayMin {
		o.DelayMax = DefaultDelayMax
	}
	if o.DelayMax < o.DelayMin {
		o.DelayMax = o.DelayMin
	}
	return o
}

// Outcome is the tagged result of one attempt. Reason is a short machine
// word for logs ("generate", "duplicate", "post", "canceled").
type Outcome struct {
	Status    storage.AnswerStatus
	CommentID string
	Reason    string
}

type Pipeline struct {
	log logx.Logger

	mu  sync.Mutex
	opt Options
	rng *rand.Rand

	// sleep is swapped in tests; the default honors ctx cancellation
	// without busy waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(opt Options, log logx.Logger) *Pipeline {
	return &Pipeline{
		log:   log,
		opt:   opt.withDefaults(),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: sleepCtx,
	}
}

// SetOptions swaps the delay window (config hot reload).
func (p *Pipeline) SetOptions(opt Options) {
	p.mu.Lock()
	p.opt = opt.withDefaults()
	p.mu.Unlock()
}

// Process generates, delays, re-checks dedup and posts one answer for the
// candidate, then unconditionally persists the audit row.
//
// Per-attempt failures (generator, platform, duplicate) come back as a
// failed Outcome with a nil error; the caller feeds them to the session
// state machine. A non-nil error means the durable store itself failed and
// the whole tick should abort.
func (p *Pipeline) Process(ctx context.Context, deps Deps, userID, sessionID string, cand selector.Candidate) (Outcome, error) {
	row := &storage.Answer{
		UserID:    userID,
		SessionID: sessionID,
		Channel:   cand.Channel,
		PostID:    cand.Post.ID,
		Title:     cand.Post.Title,
		Author:    cand.Post.Author,
		Upvotes:   cand.Post.Score,
	}

	out := p.run(ctx, deps, userID, cand, row)

	row.Status = out.Status
	row.CommentID = out.CommentID
	if err := p.record(ctx, deps.Recorder, row); err != nil {
		return out, err
	}
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, deps Deps, userID string, cand selector.Candidate, row *storage.Answer) Outcome {
	prompt := generate.Prompt(cand.Channel, cand.Post.Title, cand.Post.Body)
	text, err := deps.Generator.Generate(ctx, prompt)
	if err != nil {
		p.log.Warn("answer generation failed",
			logx.String("user", userID), logx.String("post", cand.Post.ID), logx.Err(err))
		return Outcome{Status: storage.AnswerFailed, Reason: "generate"}
	}

	text = strings.TrimRight(text, " \n") + Disclaimer
	row.Text = text

	delay := p.pickDelay()
	p.log.Debug("compliance delay before posting",
		logx.String("user", userID), logx.String("post", cand.Post.ID), logx.Duration("delay", delay))
	if err := p.sleep(ctx, delay); err != nil {
		return Outcome{Status: storage.AnswerFailed, Reason: "canceled"}
	}

	// The delay window is long enough for another run to have answered this
	// post; re-check before committing a comment to the platform.
	done, err := deps.Dedup.HasPostedAnswer(ctx, userID, cand.Post.ID)
	if err != nil {
		p.log.Warn("dedup re-check failed",
			logx.String("user", userID), logx.String("post", cand.Post.ID), logx.Err(err))
		return Outcome{Status: storage.AnswerFailed, Reason: "dedup"}
	}
	if done {
		p.log.Info("post answered during delay; skipping",
			logx.String("user", userID), logx.String("post", cand.Post.ID))
		return Outcome{Status: storage.AnswerFailed, Reason: "duplicate"}
	}

	commentID, err := deps.Poster.PostComment(ctx, cand.Post.ID, text)
	if err != nil {
		p.log.Warn("comment post failed",
			logx.String("user", userID), logx.String("post", cand.Post.ID), logx.Err(err))
		return Outcome{Status: storage.AnswerFailed, Reason: "post"}
	}

	return Outcome{Status: storage.AnswerPosted, CommentID: commentID}
}

// record persists the audit row. If the unique posted index fires (a race
// we lost after posting), keep the audit trail by downgrading the row.
func (p *Pipeline) record(ctx context.Context, rec Recorder, row *storage.Answer) error {
	// Use a detached context so a canceled tick still leaves an audit row.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	err := rec.AppendAnswer(ctx, row)
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrDuplicateAnswer) && row.Status == storage.AnswerPosted {
		p.log.Error("posted answer lost dedup race; recording as failed",
			logx.String("user", row.UserID), logx.String("post", row.PostID))
		row.Status = storage.AnswerFailed
		return rec.AppendAnswer(ctx, row)
	}
	return err
}

func (p *Pipeline) pickDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	window := p.opt.DelayMax - p.opt.DelayMin
	if window <= 0 {
		return p.opt.DelayMin
	}
	return p.opt.DelayMin + time.Duration(p.rng.Int63n(int64(window)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
