package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"answerbot/internal/pipeline"
	"answerbot/internal/platform"
	"answerbot/internal/session"
	"answerbot/internal/storage"
	"answerbot/pkg/logx"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeStore is an in-memory stand-in for the sqlite store.
type fakeStore struct {
	sessions map[string]*session.Session
	answers  []storage.Answer
	channels map[string][]string
	creds    map[string]*storage.Credentials
	posted   map[string]int // userID -> posted count for quota windows

	saveErr error
	listErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: map[string]*session.Session{},
		channels: map[string][]string{},
		creds:    map[string]*storage.Credentials{},
		posted:   map[string]int{},
	}
}

func (f *fakeStore) CreateSession(_ context.Context, s *session.Session) error {
	f.sessions[s.UserID] = s
	return nil
}

func (f *fakeStore) SaveSession(_ context.Context, s *session.Session) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.sessions[s.UserID] = s
	return nil
}

func (f *fakeStore) CurrentSession(_ context.Context, userID string) (*session.Session, error) {
	s := f.sessions[userID]
	if s == nil || s.Terminal() {
		return nil, nil
	}
	return s, nil
}

func (f *fakeStore) RunnableSessions(context.Context) ([]*session.Session, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*session.Session
	for _, s := range f.sessions {
		if s.Status == session.StatusActive || s.Status == session.StatusPaused {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) AppendAnswer(_ context.Context, a *storage.Answer) error {
	f.answers = append(f.answers, *a)
	return nil
}

func (f *fakeStore) HasPostedAnswer(context.Context, string, string) (bool, error) {
	return false, nil
}

func (f *fakeStore) CountPostedSince(_ context.Context, userID string, _ time.Time) (int, error) {
	return f.posted[userID], nil
}

func (f *fakeStore) ActiveChannels(_ context.Context, userID string) ([]string, error) {
	return f.channels[userID], nil
}

func (f *fakeStore) Credentials(_ context.Context, userID string) (*storage.Credentials, error) {
	return f.creds[userID], nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

type fakePlatform struct {
	posts   map[string][]platform.Post
	postErr error
	fetches int
	posted  []string
}

func (f *fakePlatform) RecentPosts(_ context.Context, _, channel string, _ int) ([]platform.Post, error) {
	f.fetches++
	return f.posts[channel], nil
}

func (f *fakePlatform) PostComment(_ context.Context, _, postID, _ string) (string, error) {
	if f.postErr != nil {
		return "", f.postErr
	}
	f.posted = append(f.posted, postID)
	return "comment-1", nil
}

type fakeGenerator struct {
	text string
	err  error
}

func (f *fakeGenerator) Generate(context.Context, string, string) (string, error) {
	return f.text, f.err
}

type fakeAlerter struct {
	deactivated []string
	tickErrs    []error
}

func (f *fakeAlerter) SessionDeactivated(userID string, _ int) {
	f.deactivated = append(f.deactivated, userID)
}
func (f *fakeAlerter) TickFailed(err error) { f.tickErrs = append(f.tickErrs, err) }

func testConfig() Config {
	return Config{
		Location: time.UTC,
		// Keep tests fast; the production window is minutes.
		Pipeline: pipeline.Options{DelayMin: time.Nanosecond, DelayMax: time.Nanosecond},
	}
}

func newTestDriver(store *fakeStore, pf *fakePlatform, gen *fakeGenerator, cfg Config) (*Driver, *fakeAlerter) {
	alerts := &fakeAlerter{}
	d := New(store, pf, gen, alerts, cfg, logx.Nop())
	d.now = func() time.Time { return testNow }
	return d, alerts
}

func seedUser(store *fakeStore, userID string, channels ...string) *session.Session {
	sess := session.New(userID, channels, testNow.Add(-time.Hour))
	store.sessions[userID] = sess
	store.channels[userID] = channels
	store.creds[userID] = &storage.Credentials{
		UserID:        userID,
		PlatformToken: "tok-" + userID,
		GeneratorKey:  "key-" + userID,
	}
	return sess
}

func questionPost(id string) platform.Post {
	return platform.Post{
		ID:        id,
		Title:     "How do I set up wireguard on a vps?",
		Author:    "someone",
		Score:     5,
		CreatedAt: testNow.Add(-time.Hour),
	}
}

func TestTickPostsAnswer(t *testing.T) {
	store := newFakeStore()
	sess := seedUser(store, "alice", "selfhosted")
	pf := &fakePlatform{posts: map[string][]platform.Post{
		"selfhosted": {questionPost("p1")},
	}}
	d, _ := newTestDriver(store, pf, &fakeGenerator{text: "Install wireguard-tools."}, testConfig())

	sum, err := d.RunTick(context.Background())
	if err != nil {
		t.Fatalf("RunTick error: %v", err)
	}
	if sum.Posted != 1 || sum.Sessions != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if sess.AnswersPosted != 1 || sess.ErrorCount != 0 {
		t.Fatalf("session = %+v", sess)
	}
	if len(pf.posted) != 1 || pf.posted[0] != "p1" {
		t.Fatalf("posted = %v", pf.posted)
	}
	if len(store.answers) != 1 || store.answers[0].Status != storage.AnswerPosted {
		t.Fatalf("answers = %+v", store.answers)
	}
}

func TestTickPausesOnDailyLimit(t *testing.T) {
	store := newFakeStore()
	sess := seedUser(store, "alice", "selfhosted")
	store.posted["alice"] = 5 // at the default daily cap
	pf := &fakePlatform{}
	d, _ := newTestDriver(store, pf, &fakeGenerator{text: "x"}, testConfig())

	sum, err := d.RunTick(context.Background())
	if err != nil {
		t.Fatalf("RunTick error: %v", err)
	}
	if sum.Paused != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if sess.Status != session.StatusPaused || sess.PauseReason != session.PauseDailyLimit {
		t.Fatalf("session = %+v", sess)
	}
	if sess.ResumeAt == nil || !sess.ResumeAt.Equal(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("ResumeAt = %v, want next midnight", sess.ResumeAt)
	}
	if pf.fetches != 0 {
		t.Fatal("no fetch may happen once quota denies")
	}
}

func TestTickPausesOnMissingCredentials(t *testing.T) {
	store := newFakeStore()
	sess := seedUser(store, "alice", "selfhosted")
	store.creds["alice"] = &storage.Credentials{UserID: "alice", PlatformToken: "tok"} // no generator key
	d, _ := newTestDriver(store, &fakePlatform{}, &fakeGenerator{text: "x"}, testConfig())

	sum, err := d.RunTick(context.Background())
	if err != nil {
		t.Fatalf("RunTick error: %v", err)
	}
	if sum.Paused != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if sess.PauseReason != session.PauseMissingCredentials || sess.ResumeAt != nil {
		t.Fatalf("session = %+v", sess)
	}
	if sess.Status != session.StatusPaused {
		t.Fatal("incomplete credentials must pause, never deactivate")
	}
}

func TestFailedGenerationCountsButKeepsSessionActive(t *testing.T) {
	store := newFakeStore()
	sess := seedUser(store, "alice", "selfhosted")
	pf := &fakePlatform{posts: map[string][]platform.Post{
		"selfhosted": {questionPost("p1")},
	}}
	d, _ := newTestDriver(store, pf, &fakeGenerator{err: errors.New("llm down")}, testConfig())

	sum, err := d.RunTick(context.Background())
	if err != nil {
		t.Fatalf("RunTick error: %v", err)
	}
	if sum.Failed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if sess.Status != session.StatusActive || sess.ErrorCount != 1 {
		t.Fatalf("session = %+v", sess)
	}
	if len(store.answers) != 1 || store.answers[0].Status != storage.AnswerFailed {
		t.Fatalf("a failed attempt must leave an audit row: %+v", store.answers)
	}
}

func TestErrorCeilingDeactivatesAndAlerts(t *testing.T) {
	store := newFakeStore()
	sess := seedUser(store, "alice", "selfhosted")
	sess.ErrorCount = 2
	cfg := testConfig()
	cfg.ErrorCeiling = 3
	// No posts anywhere: the selector exhausts every attempt.
	d, alerts := newTestDriver(store, &fakePlatform{}, &fakeGenerator{text: "x"}, cfg)

	sum, err := d.RunTick(context.Background())
	if err != nil {
		t.Fatalf("RunTick error: %v", err)
	}
	if sum.NoCandidate != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if sess.Status != session.StatusError {
		t.Fatalf("session = %+v, want deactivated at ceiling 3", sess)
	}
	if len(alerts.deactivated) != 1 || alerts.deactivated[0] != "alice" {
		t.Fatalf("alerts = %+v", alerts.deactivated)
	}
}

func TestPausedSessionAutoResumes(t *testing.T) {
	store := newFakeStore()
	sess := seedUser(store, "alice", "selfhosted")
	resume := testNow.Add(-time.Minute)
	sess.Pause(session.PauseHourlyLimit, &resume, testNow.Add(-2*time.Hour))
	pf := &fakePlatform{posts: map[string][]platform.Post{
		"selfhosted": {questionPost("p1")},
	}}
	d, _ := newTestDriver(store, pf, &fakeGenerator{text: "answer"}, testConfig())

	sum, err := d.RunTick(context.Background())
	if err != nil {
		t.Fatalf("RunTick error: %v", err)
	}
	if sum.Posted != 1 {
		t.Fatalf("summary = %+v, expected resume then post", sum)
	}
	if sess.Status != session.StatusActive {
		t.Fatalf("session = %+v", sess)
	}
}

func TestPausedSessionStaysParkedBeforeResumeTime(t *testing.T) {
	store := newFakeStore()
	sess := seedUser(store, "alice", "selfhosted")
	resume := testNow.Add(time.Hour)
	sess.Pause(session.PauseHourlyLimit, &resume, testNow.Add(-time.Minute))
	pf := &fakePlatform{}
	d, _ := newTestDriver(store, pf, &fakeGenerator{text: "x"}, testConfig())

	sum, err := d.RunTick(context.Background())
	if err != nil {
		t.Fatalf("RunTick error: %v", err)
	}
	if sum.Skipped != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if pf.fetches != 0 {
		t.Fatal("parked session must not touch the platform")
	}
}

func TestCredentialsRestoredResumesPause(t *testing.T) {
	store := newFakeStore()
	sess := seedUser(store, "alice", "selfhosted")
	sess.Pause(session.PauseMissingCredentials, nil, testNow.Add(-time.Hour))
	pf := &fakePlatform{posts: map[string][]platform.Post{
		"selfhosted": {questionPost("p1")},
	}}
	d, _ := newTestDriver(store, pf, &fakeGenerator{text: "answer"}, testConfig())

	sum, err := d.RunTick(context.Background())
	if err != nil {
		t.Fatalf("RunTick error: %v", err)
	}
	if sum.Posted != 1 {
		t.Fatalf("summary = %+v, expected credentials-restored resume", sum)
	}
	if sess.Status != session.StatusActive {
		t.Fatalf("session = %+v", sess)
	}
}

func TestTickOverlapReturnsErrTickRunning(t *testing.T) {
	store := newFakeStore()
	d, _ := newTestDriver(store, &fakePlatform{}, &fakeGenerator{}, testConfig())

	d.tickMu.Lock()
	defer d.tickMu.Unlock()

	_, err := d.RunTick(context.Background())
	if !errors.Is(err, ErrTickRunning) {
		t.Fatalf("err = %v, want ErrTickRunning", err)
	}
}

func TestStoreFailureAbortsTickAndAlerts(t *testing.T) {
	store := newFakeStore()
	seedUser(store, "alice", "selfhosted")
	store.posted["alice"] = 5
	boom := errors.New("db gone")
	store.saveErr = boom
	d, alerts := newTestDriver(store, &fakePlatform{}, &fakeGenerator{}, testConfig())

	_, err := d.RunTick(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want store error", err)
	}
	if len(alerts.tickErrs) != 1 {
		t.Fatalf("alerts = %+v", alerts.tickErrs)
	}
}

func TestStartAndStopSession(t *testing.T) {
	store := newFakeStore()
	store.channels["bob"] = []string{"golang", "linux"}
	d, _ := newTestDriver(store, &fakePlatform{}, &fakeGenerator{}, testConfig())

	sess, err := d.StartSession(context.Background(), "bob")
	if err != nil {
		t.Fatalf("StartSession error: %v", err)
	}
	if sess.Status != session.StatusActive || len(sess.Channels) != 2 {
		t.Fatalf("session = %+v", sess)
	}

	stopped, err := d.StopSession(context.Background(), "bob")
	if err != nil {
		t.Fatalf("StopSession error: %v", err)
	}
	if stopped.Status != session.StatusStopped {
		t.Fatalf("session = %+v", stopped)
	}

	if _, err := d.StopSession(context.Background(), "bob"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestChannelsFallBackToSnapshot(t *testing.T) {
	store := newFakeStore()
	sess := seedUser(store, "alice", "selfhosted")
	store.channels["alice"] = nil // monitoring list emptied after start
	pf := &fakePlatform{posts: map[string][]platform.Post{
		"selfhosted": {questionPost("p1")},
	}}
	d, _ := newTestDriver(store, pf, &fakeGenerator{text: "answer"}, testConfig())

	sum, err := d.RunTick(context.Background())
	if err != nil {
		t.Fatalf("RunTick error: %v", err)
	}
	if sum.Posted != 1 {
		t.Fatalf("summary = %+v, snapshot channels should be used", sum)
	}
	_ = sess
}
