// Package notify pushes operator alerts to a Telegram chat.
//
// Alerts are best-effort: the queue drops when full and the worker never
// blocks the scheduler. A disabled or unconfigured service is a safe no-op.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"answerbot/pkg/logx"
)

type Config struct {
	Enabled   bool
	Token     string
	ChatID    int64
	QueueSize int
}

type Service struct {
	cfg Config
	bot *tele.Bot
	log logx.Logger

	queue chan string

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds the alert service. When disabled (or missing token/chat) it
// returns a service whose methods do nothing.
func New(cfg Config, log logx.Logger) (*Service, error) {
	s := &Service{cfg: cfg, log: log}
	if !cfg.Enabled || strings.TrimSpace(cfg.Token) == "" || cfg.ChatID == 0 {
		return s, nil
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
		s.cfg.QueueSize = 64
	}

	// Send-only: the poller is never started.
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	s.bot = bot
	s.queue = make(chan string, cfg.QueueSize)
	return s, nil
}

func (s *Service) Enabled() bool { return s != nil && s.bot != nil }

func (s *Service) Start(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-s.queue:
				if _, err := s.bot.Send(tele.ChatID(s.cfg.ChatID), msg); err != nil {
					s.log.Warn("alert send failed", logx.Err(err))
				}
			}
		}
	}()
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.started = false
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
}

// SessionDeactivated alerts that a user's bot hit the error ceiling and
// needs a manual restart.
func (s *Service) SessionDeactivated(userID string, errorCount int) {
	s.enqueue(fmt.Sprintf("answerbot: session for user %s deactivated after %d consecutive errors; manual restart required", userID, errorCount))
}

// TickFailed alerts that a tick aborted on a store-level failure.
func (s *Service) TickFailed(err error) {
	s.enqueue(fmt.Sprintf("answerbot: tick aborted: %v", err))
}

func (s *Service) enqueue(msg string) {
	if !s.Enabled() {
		return
	}
	select {
	case s.queue <- msg:
	default:
		// Never block the scheduler on a full alert queue.
		s.log.Debug("alert dropped (queue full)")
	}
}
