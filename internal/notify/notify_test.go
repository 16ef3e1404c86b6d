package notify

import (
	"testing"

	"answerbot/pkg/logx"
)

func TestDisabledServiceIsNoOp(t *testing.T) {
	t.Parallel()
	s, err := New(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Enabled() {
		t.Fatal("unconfigured service must be disabled")
	}

	// None of these may panic or block.
	s.Start(t.Context())
	s.SessionDeactivated("alice", 5)
	s.TickFailed(nil)
	s.Stop()
}

func TestMissingTokenDisables(t *testing.T) {
	t.Parallel()
	s, err := New(Config{Enabled: true, ChatID: 42}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Enabled() {
		t.Fatal("enabled without token must stay disabled")
	}
}

func TestNilServiceSafe(t *testing.T) {
	t.Parallel()
	var s *Service
	if s.Enabled() {
		t.Fatal("nil service must report disabled")
	}
}
