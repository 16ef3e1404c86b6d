package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"answerbot/internal/session"
)

// fakeHistory returns canned counts keyed by how far back the window starts.
type fakeHistory struct {
	daily  int
	hourly int
	err    error

	now time.Time
}

func (f *fakeHistory) CountPostedSince(_ context.Context, _ string, since time.Time) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	// The trailing-hour window starts within the last hour; the daily window
	// starts at local midnight.
	if f.now.Sub(since) <= time.Hour {
		return f.hourly, nil
	}
	return f.daily, nil
}

func TestCheckAllowed(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC)
	tr := NewTracker(&fakeHistory{daily: 4, hourly: 1, now: now}, Limits{Location: time.UTC})

	res, err := tr.Check(context.Background(), "u", now)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("expected allowed, got %+v", res)
	}
}

func TestDailyCapDeniesUntilMidnight(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC)
	tr := NewTracker(&fakeHistory{daily: 5, hourly: 0, now: now}, Limits{Location: time.UTC})

	res, err := tr.Check(context.Background(), "u", now)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected denial at the daily cap")
	}
	if res.Reason != session.PauseDailyLimit {
		t.Fatalf("Reason = %v, want daily_limit", res.Reason)
	}
	wantResume := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	if !res.ResumeAt.Equal(wantResume) {
		t.Fatalf("ResumeAt = %v, want next local midnight %v", res.ResumeAt, wantResume)
	}
}

func TestHourlyCapDeniesForAnHour(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC)
	tr := NewTracker(&fakeHistory{daily: 3, hourly: 2, now: now}, Limits{Location: time.UTC})

	res, err := tr.Check(context.Background(), "u", now)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected denial at the hourly cap")
	}
	if res.Reason != session.PauseHourlyLimit {
		t.Fatalf("Reason = %v, want hourly_limit", res.Reason)
	}
	if got := res.ResumeAt; !got.Equal(now.Add(time.Hour)) {
		t.Fatalf("ResumeAt = %v, want %v", got, now.Add(time.Hour))
	}
}

func TestDailyCapWinsOverHourly(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	tr := NewTracker(&fakeHistory{daily: 5, hourly: 2, now: now}, Limits{Location: time.UTC})

	res, err := tr.Check(context.Background(), "u", now)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if res.Reason != session.PauseDailyLimit {
		t.Fatalf("Reason = %v, want daily_limit to take precedence", res.Reason)
	}
}

func TestStoreErrorPropagates(t *testing.T) {
	t.Parallel()
	boom := errors.New("db gone")
	now := time.Now()
	tr := NewTracker(&fakeHistory{err: boom, now: now}, Limits{})

	_, err := tr.Check(context.Background(), "u", now)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped store error", err)
	}
}

func TestSetLimits(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	hist := &fakeHistory{daily: 5, hourly: 0, now: now}
	tr := NewTracker(hist, Limits{Location: time.UTC})

	if res, _ := tr.Check(context.Background(), "u", now); res.Allowed {
		t.Fatal("expected denial at default daily cap")
	}

	tr.SetLimits(Limits{DailyCap: 10, HourlyCap: 10, Location: time.UTC})
	if res, _ := tr.Check(context.Background(), "u", now); !res.Allowed {
		t.Fatal("expected allowance after raising caps")
	}
}
