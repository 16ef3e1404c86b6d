// Package selector picks the next post to answer for a user.
//
// Selection is an attempt-bounded loop over a shuffled channel list. A nil
// candidate with a nil error means every attempt was exhausted, which is a
// normal outcome, not a failure; errors are reserved for store and context
// failures.
package selector

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"answerbot/internal/classify"
	"answerbot/internal/platform"
	"answerbot/pkg/logx"
)

// Source fetches recent posts from one channel, most-recent-first, already
// bound to the user's credentials and page size.
type Source interface {
	RecentPosts(ctx context.Context, channel string) ([]platform.Post, error)
}

// Dedup reports whether the user has already answered a post.
type Dedup interface {
	HasPostedAnswer(ctx context.Context, userID, postID string) (bool, error)
}

const (
	DefaultMaxAttempts = 3
	DefaultMinScore    = 1
	DefaultMaxAge      = 24 * time.Hour
)

// Options tune candidate filtering. Zero values fall back to defaults.
type Options struct {
	MaxAttempts int           // channels tried per call, bounded by len(channels)
	MinScore    int           // minimum post score
	MaxAge      time.Duration // skip posts older than this
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.MinScore <= 0 {
		o.MinScore = DefaultMinScore
	}
	if o.MaxAge <= 0 {
		o.MaxAge = DefaultMaxAge
	}
	return o
}

// Candidate is a post judged suitable to answer, with its channel.
type Candidate struct {
	Channel string
	Post    platform.Post
}

type Selector struct {
	classifier *classify.Classifier
	opt        Options
	log        logx.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func New(classifier *classify.Classifier, opt Options, log logx.Logger) *Selector {
	return &Selector{
		classifier: classifier,
		opt:        opt.withDefaults(),
		log:        log,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetOptions swaps filter options (config hot reload).
func (s *Selector) SetOptions(opt Options) {
	s.mu.Lock()
	s.opt = opt.withDefaults()
	s.mu.Unlock()
}

// SetClassifier swaps the classifier (config hot reload).
func (s *Selector) SetClassifier(c *classify.Classifier) {
	s.mu.Lock()
	s.classifier = c
	s.mu.Unlock()
}

// Select tries up to min(MaxAttempts, len(channels)) channels, picked
// without replacement in random order, and returns the best surviving post
// from the first channel that yields one.
//
// Survivors pass the question classifier, the score floor, the age ceiling
// and the dedup check. Ties on score break toward the lowest post id so the
// pick is deterministic for a given fetch result.
//
// A (nil, nil) return means all attempts exhausted without a candidate.
// Non-nil errors are limited to dedup-store and context failures; fetch
// errors burn the attempt and move on.
func (s *Selector) Select(ctx context.Context, src Source, dedup Dedup, userID string, channels []string, now time.Time) (*Candidate, error) {
	if len(channels) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	opt := s.opt
	classifier := s.classifier
	order := make([]string, len(channels))
	copy(order, channels)
	s.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	s.mu.Unlock()

	attempts := opt.MaxAttempts
	if attempts > len(order) {
		attempts = len(order)
	}

	for _, channel := range order[:attempts] {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// A failed fetch consumes the attempt; the exhausted outcome
		// already counts toward the session's error budget, so there is
		// nothing more to escalate here.
		posts, err := src.RecentPosts(ctx, channel)
		if err != nil {
			s.log.Warn("channel fetch failed",
				logx.String("channel", channel), logx.Err(err))
			continue
		}

		cand, err := s.pick(ctx, dedup, userID, channel, posts, classifier, opt, now)
		if err != nil {
			return nil, err
		}
		if cand != nil {
			return cand, nil
		}
	}
	return nil, nil
}

func (s *Selector) pick(ctx context.Context, dedup Dedup, userID, channel string, posts []platform.Post, classifier *classify.Classifier, opt Options, now time.Time) (*Candidate, error) {
	survivors := posts[:0:0]
	for _, p := range posts {
		if p.Score < opt.MinScore {
			continue
		}
		if p.CreatedAt.Before(now.Add(-opt.MaxAge)) {
			continue
		}
		if !classifier.IsCandidateQuestion(p.Title, p.Body, p.CommentCount) {
			continue
		}
		survivors = append(survivors, p)
	}
	if len(survivors) == 0 {
		return nil, nil
	}

	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].Score != survivors[j].Score {
			return survivors[i].Score > survivors[j].Score
		}
		return survivors[i].ID < survivors[j].ID
	})

	for _, p := range survivors {
		done, err := dedup.HasPostedAnswer(ctx, userID, p.ID)
		if err != nil {
			return nil, err
		}
		if done {
			continue
		}
		return &Candidate{Channel: channel, Post: p}, nil
	}
	return nil, nil
}
