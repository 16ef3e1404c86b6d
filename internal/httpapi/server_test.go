package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"answerbot/internal/scheduler"
	"answerbot/internal/session"
	"answerbot/pkg/logx"
)

type fakeDriver struct {
	tickSum scheduler.TickSummary
	tickErr error

	current *session.Session
	started *session.Session
	stopErr error
}

func (f *fakeDriver) RunTick(context.Context) (scheduler.TickSummary, error) {
	return f.tickSum, f.tickErr
}

func (f *fakeDriver) StartSession(_ context.Context, userID string) (*session.Session, error) {
	f.started = session.New(userID, []string{"golang"}, time.Now())
	return f.started, nil
}

func (f *fakeDriver) StopSession(_ context.Context, userID string) (*session.Session, error) {
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	s := session.New(userID, nil, time.Now())
	s.Stop(time.Now())
	return s, nil
}

func (f *fakeDriver) CurrentSession(context.Context, string) (*session.Session, error) {
	return f.current, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func newTestServer(d Driver, p Pinger) *httptest.Server {
	srv := New(Config{}, d, p, logx.Nop())
	return httptest.NewServer(srv.Handler())
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	ts := newTestServer(&fakeDriver{}, fakePinger{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHealthzDegraded(t *testing.T) {
	t.Parallel()
	ts := newTestServer(&fakeDriver{}, fakePinger{err: errors.New("db gone")})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestManualTick(t *testing.T) {
	t.Parallel()
	d := &fakeDriver{tickSum: scheduler.TickSummary{Sessions: 2, Posted: 1}}
	ts := newTestServer(d, fakePinger{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/tick", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /tick: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var sum scheduler.TickSummary
	if err := json.NewDecoder(resp.Body).Decode(&sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.Sessions != 2 || sum.Posted != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestManualTickWhileRunning(t *testing.T) {
	t.Parallel()
	ts := newTestServer(&fakeDriver{tickErr: scheduler.ErrTickRunning}, fakePinger{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/tick", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /tick: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	ts := newTestServer(&fakeDriver{}, fakePinger{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/sessions/alice/start", "application/json", nil)
	if err != nil {
		t.Fatalf("POST start: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	resp2, err := http.Post(ts.URL+"/sessions/alice/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("POST stop: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp2.StatusCode)
	}
}

func TestStopWithoutSession(t *testing.T) {
	t.Parallel()
	ts := newTestServer(&fakeDriver{stopErr: scheduler.ErrNoSession}, fakePinger{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/sessions/alice/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("POST stop: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCurrentSessionNotFound(t *testing.T) {
	t.Parallel()
	ts := newTestServer(&fakeDriver{}, fakePinger{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/sessions/alice/")
	if err != nil {
		t.Fatalf("GET session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
