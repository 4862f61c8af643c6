// Package status serves a small read-only HTTP view of the poller and the
// broadcaster.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"patchbell/internal/eventbus"
	"patchbell/internal/notifier/broadcast"
	"patchbell/internal/poller"
	rtsup "patchbell/internal/runtime/supervisor"
	logx "patchbell/pkg/logx"
)

type PollerView interface {
	Snapshot() poller.Stats
}

type BroadcastView interface {
	Stats() broadcast.Stats
	Status(jobID string) (broadcast.JobStatus, bool)
}

type Config struct {
	Addr string
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	poll    PollerView
	bc      BroadcastView
	started time.Time

	counters func() rtsup.Counters
	bus      eventbus.Bus

	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

type Option func(*Service)

// WithRuntime reports the app supervisor's goroutine counters.
func WithRuntime(fn func() rtsup.Counters) Option {
	return func(s *Service) { s.counters = fn }
}

// WithEventBus reports events dropped by slow bus subscribers.
func WithEventBus(bus eventbus.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

func New(cfg Config, poll PollerView, bc BroadcastView, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{cfg: cfg, poll: poll, bc: bc, log: log, started: time.Now()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the router. It is used directly by tests.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/status", func(r chi.Router) {
		r.Get("/", s.handleStatus)
		r.Get("/jobs/{id}", s.handleJob)
	})
	return r
}

type sourceView struct {
	Key        string    `json:"key"`
	LastChange time.Time `json:"last_change"`
}

type statusView struct {
	Uptime    string          `json:"uptime"`
	Cycles    uint64          `json:"cycles"`
	Changes   uint64          `json:"changes"`
	Skips     uint64          `json:"skips"`
	LastCycle cycleView       `json:"last_cycle"`
	Sources   []sourceView    `json:"sources,omitempty"`
	Broadcast broadcast.Stats `json:"broadcast"`
	Runtime   *runtimeView    `json:"runtime,omitempty"`
}

type runtimeView struct {
	Goroutines    rtsup.Counters `json:"goroutines"`
	EventsDropped uint64         `json:"events_dropped"`
}

type cycleView struct {
	Started  time.Time `json:"started"`
	Took     string    `json:"took"`
	Visited  int       `json:"visited"`
	Changed  int       `json:"changed"`
	Skipped  int       `json:"skipped"`
	Canceled bool      `json:"canceled"`
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	out := statusView{Uptime: time.Since(s.started).Round(time.Second).String()}
	if s.poll != nil {
		st := s.poll.Snapshot()
		out.Cycles, out.Changes, out.Skips = st.Cycles, st.Changes, st.Skips
		lc := st.LastCycle
		out.LastCycle = cycleView{Started: lc.Started, Took: lc.Took.String(), Visited: lc.Visited, Changed: lc.Changed, Skipped: lc.Skipped, Canceled: lc.Canceled}
		for k, t := range st.LastChange {
			out.Sources = append(out.Sources, sourceView{Key: k, LastChange: t})
		}
		sort.Slice(out.Sources, func(i, j int) bool { return out.Sources[i].Key < out.Sources[j].Key })
	}
	if s.bc != nil {
		out.Broadcast = s.bc.Stats()
	}
	if s.counters != nil || s.bus != nil {
		rv := &runtimeView{}
		if s.counters != nil {
			rv.Goroutines = s.counters()
		}
		if s.bus != nil {
			rv.EventsDropped = s.bus.Dropped()
		}
		out.Runtime = rv
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.bc == nil {
		http.Error(w, "broadcast disabled", http.StatusNotFound)
		return
	}
	st, ok := s.bc.Status(id)
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// Start binds the listener and serves until Stop or ctx cancel.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		return errors.New("status addr is empty")
	}
	if !isLoopbackAddr(addr) {
		s.log.Warn("status server bound to non-loopback addr", logx.String("addr", addr))
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.ln, s.srv = ln, srv
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))

	s.sup.Go("http.serve", func(c context.Context) error {
		err := srv.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) || c.Err() != nil {
			return nil
		}
		s.log.Error("status server failed", logx.Err(err))
		return err
	})
	s.sup.Go0("http.shutdown_on_cancel", func(c context.Context) {
		<-c.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	})
	s.log.Info("status server started", logx.String("addr", ln.Addr().String()))
	return nil
}

// Addr is the bound listen address, empty before Start.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup, s.srv, s.ln = nil, nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	_ = srv.Shutdown(ctx)
	if err := sup.Stop(ctx); err != nil {
		s.log.Warn("status server stop", logx.Err(err))
	}
	s.log.Info("status server stopped")
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
