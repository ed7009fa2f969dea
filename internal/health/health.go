// Package health serves the liveness endpoint and the Prometheus exposition.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"eurobot/internal/runtime/supervisor"
	"eurobot/internal/task/poller"
	"eurobot/pkg/logx"
)

type Status interface {
	Snapshot() poller.Snapshot
}

type Deps struct {
	Status      Status       // optional
	Metrics     http.Handler // optional
	Supervisors func() map[string]supervisor.Counters
	Started     time.Time
	// Pprof mounts the runtime profiler under /debug. Only enable it on a
	// loopback or otherwise private address.
	Pprof bool
}

type tickJSON struct {
	Outcome  string    `json:"outcome"`
	DrawDate string    `json:"draw_date,omitempty"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

type schedulerJSON struct {
	State    string     `json:"state"`
	Schedule string     `json:"schedule"`
	Timezone string     `json:"timezone"`
	Next     *time.Time `json:"next,omitempty"`
	LastTick *tickJSON  `json:"last_tick,omitempty"`
}

type response struct {
	Status      string                         `json:"status"`
	Uptime      string                         `json:"uptime"`
	Scheduler   *schedulerJSON                 `json:"scheduler,omitempty"`
	Supervisors map[string]supervisor.Counters `json:"supervisors,omitempty"`
}

// NewRouter builds the HTTP routes.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, build(d, time.Now()))
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	if d.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

func build(d Deps, now time.Time) response {
	resp := response{Status: "ok"}
	if !d.Started.IsZero() {
		resp.Uptime = now.Sub(d.Started).Round(time.Second).String()
	}
	if d.Supervisors != nil {
		resp.Supervisors = d.Supervisors()
	}
	if d.Status == nil {
		return resp
	}
	snap := d.Status.Snapshot()
	sj := &schedulerJSON{State: snap.State.String(), Schedule: snap.Schedule, Timezone: snap.Timezone}
	if !snap.Next.IsZero() {
		next := snap.Next
		sj.Next = &next
	}
	if t := snap.LastTick; t != nil {
		tj := &tickJSON{Outcome: string(t.Outcome), DrawDate: t.DrawDate, At: t.StartedAt}
		if t.Err != nil {
			tj.Error = t.Err.Error()
		}
		sj.LastTick = tj
		switch t.Outcome {
		case poller.OutcomeSourceError, poller.OutcomeStoreError, poller.OutcomeFanoutError, poller.OutcomePanic, poller.OutcomeAborted:
			resp.Status = "degraded"
		}
	}
	resp.Scheduler = sj
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Server manages the listener lifecycle.
type Server struct {
	mu   sync.Mutex
	log  logx.Logger
	srv  *http.Server
	addr string
}

func NewServer(log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{log: log.With(logx.String("comp", "health"))}
}

// Start listens on addr and serves h in the background.
func (s *Server) Start(addr string, h http.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("health server already running")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	s.srv = srv
	s.addr = ln.Addr().String()

	go func(addr string) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("health server error", logx.String("addr", addr), logx.Err(err))
		}
	}(s.addr)
	s.log.Info("health endpoint listening", logx.String("addr", s.addr))
	return nil
}

// Addr reports the actual listen address if running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.addr = ""
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		_ = srv.Close()
		return err
	}
	return nil
}
