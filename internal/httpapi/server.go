// Package httpapi is the operational HTTP surface: health, a manual tick
// trigger and session start/stop. It is an operator tool, not a public API;
// bind it to localhost.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"answerbot/internal/scheduler"
	"answerbot/internal/session"
	"answerbot/pkg/logx"
)

// Driver is the scheduler surface the API exposes.
type Driver interface {
	RunTick(ctx context.Context) (scheduler.TickSummary, error)
	StartSession(ctx context.Context, userID string) (*session.Session, error)
	StopSession(ctx context.Context, userID string) (*session.Session, error)
	CurrentSession(ctx context.Context, userID string) (*session.Session, error)
}

// Pinger is the store health probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = "127.0.0.1:8790"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		// A manual tick can legitimately take minutes (compliance delay).
		c.WriteTimeout = 10 * time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	return c
}

type Server struct {
	cfg    Config
	driver Driver
	store  Pinger
	log    logx.Logger

	srv *http.Server
}

func New(cfg Config, driver Driver, store Pinger, log logx.Logger) *Server {
	cfg = cfg.withDefaults()
	s := &Server{cfg: cfg, driver: driver, store: store, log: log}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/tick", s.handleTick)
	r.Route("/sessions/{userID}", func(r chi.Router) {
		r.Get("/", s.handleCurrent)
		r.Post("/start", s.handleStart)
		r.Post("/stop", s.handleStop)
	})

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Serve blocks until the listener fails or Shutdown is called.
func (s *Server) Serve() error {
	s.log.Info("http api listening", logx.String("addr", s.cfg.Addr))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	sum, err := s.driver.RunTick(r.Context())
	switch {
	case errors.Is(err, scheduler.ErrTickRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "tick already in progress"})
	case err != nil:
		s.log.Error("manual tick failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, sum)
	}
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sess, err := s.driver.CurrentSession(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if sess == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no runnable session"})
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sess, err := s.driver.StartSession(r.Context(), userID)
	if err != nil {
		s.log.Error("session start failed", logx.String("user", userID), logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sess, err := s.driver.StopSession(r.Context(), userID)
	switch {
	case errors.Is(err, scheduler.ErrNoSession):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no runnable session"})
	case err != nil:
		s.log.Error("session stop failed", logx.String("user", userID), logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, sess)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
