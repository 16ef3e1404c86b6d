package selector

import (
	"context"
	"errors"
	"testing"
	"time"

	"answerbot/internal/classify"
	"answerbot/internal/platform"
	"answerbot/pkg/logx"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	posts map[string][]platform.Post
	errs  map[string]error
	calls []string
}

func (f *fakeSource) RecentPosts(_ context.Context, channel string) ([]platform.Post, error) {
	f.calls = append(f.calls, channel)
	if err := f.errs[channel]; err != nil {
		return nil, err
	}
	return f.posts[channel], nil
}

type fakeDedup struct {
	done map[string]bool
	err  error
}

func (f *fakeDedup) HasPostedAnswer(_ context.Context, _ string, postID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.done[postID], nil
}

func post(id, title string, score int, age time.Duration) platform.Post {
	return platform.Post{
		ID:        id,
		Title:     title,
		Score:     score,
		CreatedAt: now.Add(-age),
	}
}

func newSelector(opt Options) *Selector {
	return New(classify.New(classify.Rules{}), opt, logx.Nop())
}

func TestSelectPicksHighestScore(t *testing.T) {
	t.Parallel()
	src := &fakeSource{posts: map[string][]platform.Post{
		"golang": {
			post("p1", "How do I profile memory allocations?", 2, time.Hour),
			post("p2", "Why is my goroutine leaking memory?", 7, time.Hour),
			post("p3", "What is the idiomatic error wrapping style?", 4, time.Hour),
		},
	}}

	cand, err := newSelector(Options{}).Select(context.Background(), src, &fakeDedup{}, "u", []string{"golang"}, now)
	if err != nil {
		t.Fatalf("Select error: %v", err)
	}
	if cand == nil {
		t.Fatal("expected a candidate")
	}
	if cand.Post.ID != "p2" {
		t.Fatalf("picked %s, want highest-score p2", cand.Post.ID)
	}
	if cand.Channel != "golang" {
		t.Fatalf("Channel = %s", cand.Channel)
	}
}

func TestSelectTieBreaksOnID(t *testing.T) {
	t.Parallel()
	src := &fakeSource{posts: map[string][]platform.Post{
		"linux": {
			post("b", "Why does my kernel panic on resume?", 5, time.Hour),
			post("a", "How can I debug a panic on resume?", 5, time.Hour),
		},
	}}

	cand, err := newSelector(Options{}).Select(context.Background(), src, &fakeDedup{}, "u", []string{"linux"}, now)
	if err != nil {
		t.Fatalf("Select error: %v", err)
	}
	if cand == nil || cand.Post.ID != "a" {
		t.Fatalf("got %+v, want lowest id a on tied score", cand)
	}
}

func TestSelectFiltersScoreAgeAndDedup(t *testing.T) {
	t.Parallel()
	src := &fakeSource{posts: map[string][]platform.Post{
		"homelab": {
			post("low", "How do I rack a switch properly?", 0, time.Hour), // below MinScore
			post("old", "What UPS should I buy for a rack?", 9, 30*time.Hour), // too old
			post("done", "Why is my NAS fan so loud?", 8, time.Hour), // already answered
			post("keep", "How can I silence a loud NAS fan?", 3, 2*time.Hour), // survivor
			post("stmt", "Just finished wiring the whole rack", 6, time.Hour), // not a question
		},
	}}
	dedup := &fakeDedup{done: map[string]bool{"done": true}}

	cand, err := newSelector(Options{}).Select(context.Background(), src, dedup, "u", []string{"homelab"}, now)
	if err != nil {
		t.Fatalf("Select error: %v", err)
	}
	if cand == nil || cand.Post.ID != "keep" {
		t.Fatalf("got %+v, want keep", cand)
	}
}

func TestSelectExhaustedIsNilNil(t *testing.T) {
	t.Parallel()
	src := &fakeSource{posts: map[string][]platform.Post{}}

	cand, err := newSelector(Options{}).Select(context.Background(), src, &fakeDedup{}, "u", []string{"a", "b", "c"}, now)
	if err != nil {
		t.Fatalf("Select error: %v", err)
	}
	if cand != nil {
		t.Fatalf("expected exhausted (nil), got %+v", cand)
	}
	if len(src.calls) != 3 {
		t.Fatalf("attempts = %d, want 3", len(src.calls))
	}
}

func TestSelectBoundsAttempts(t *testing.T) {
	t.Parallel()
	src := &fakeSource{posts: map[string][]platform.Post{}}
	channels := []string{"a", "b", "c", "d", "e"}

	cand, err := newSelector(Options{MaxAttempts: 2}).Select(context.Background(), src, &fakeDedup{}, "u", channels, now)
	if err != nil {
		t.Fatalf("Select error: %v", err)
	}
	if cand != nil {
		t.Fatalf("expected nil candidate, got %+v", cand)
	}
	if len(src.calls) != 2 {
		t.Fatalf("attempts = %d, want MaxAttempts=2", len(src.calls))
	}
}

func TestFetchErrorBurnsAttempt(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		posts: map[string][]platform.Post{},
		errs:  map[string]error{"a": errors.New("502")},
	}

	cand, err := newSelector(Options{}).Select(context.Background(), src, &fakeDedup{}, "u", []string{"a"}, now)
	if err != nil {
		t.Fatalf("fetch errors must not surface, got %v", err)
	}
	if cand != nil {
		t.Fatalf("expected nil candidate, got %+v", cand)
	}
}

func TestDedupStoreErrorSurfaces(t *testing.T) {
	t.Parallel()
	src := &fakeSource{posts: map[string][]platform.Post{
		"golang": {post("p1", "How do I vendor a module?", 3, time.Hour)},
	}}
	boom := errors.New("db gone")

	_, err := newSelector(Options{}).Select(context.Background(), src, &fakeDedup{err: boom}, "u", []string{"golang"}, now)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want store error", err)
	}
}

func TestSelectNoChannels(t *testing.T) {
	t.Parallel()
	cand, err := newSelector(Options{}).Select(context.Background(), &fakeSource{}, &fakeDedup{}, "u", nil, now)
	if err != nil || cand != nil {
		t.Fatalf("got (%+v, %v), want (nil, nil)", cand, err)
	}
}
