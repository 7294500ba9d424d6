package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"maintd/internal/eventbus"
	"maintd/internal/storage"
	"maintd/internal/task"
	"maintd/internal/task/scheduler"
	"maintd/internal/task/store"
	logx "maintd/pkg/logx"
)

// Scheduler is the subset of the scheduler loop the API drives.
type Scheduler interface {
	Status() scheduler.Status
	SetEnabled(enabled bool) (store.Settings, error)
	RunNow(ctx context.Context, id string) (task.Outcome, error)
}

// RunReader reads the run journal.
type RunReader interface {
	RecentRuns(ctx context.Context, q storage.Query) ([]storage.RunEntry, error)
}

type Config struct {
	Addr  string
	Token string
	// MutationRate is the sustained rate of mutating requests per second.
	// 0 disables limiting.
	MutationRate  float64
	MutationBurst int
	// Pprof mounts the runtime profiler under /debug.
	Pprof bool
}

type Deps struct {
	Store     *store.Store
	Scheduler Scheduler
	Runs      RunReader
	Bus       eventbus.Bus
	Log       logx.Logger
}

type Server struct {
	store *store.Store
	sched Scheduler
	runs  RunReader
	bus   eventbus.Bus
	log   logx.Logger

	mu      sync.RWMutex
	token   string
	limiter *rate.Limiter

	handler http.Handler
	srv     *http.Server
}

func New(cfg Config, deps Deps) *Server {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		store: deps.Store,
		sched: deps.Scheduler,
		runs:  deps.Runs,
		bus:   deps.Bus,
		log:   log.With(logx.String("comp", "api")),
	}
	s.Apply(cfg)
	s.handler = s.routes(cfg.Pprof)
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Apply swaps the token and the mutation limiter at runtime.
func (s *Server) Apply(cfg Config) {
	var lim *rate.Limiter
	if cfg.MutationRate > 0 {
		burst := cfg.MutationBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.MutationRate), burst)
	}
	s.mu.Lock()
	s.token = strings.TrimSpace(cfg.Token)
	s.limiter = lim
	s.mu.Unlock()
}

func (s *Server) Handler() http.Handler { return s.handler }

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("api listening", logx.String("addr", ln.Addr().String()))
	err := s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe binds the configured address and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) routes(pprof bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)

	r.Get("/healthz", s.handleHealth)
	if pprof {
		r.With(s.auth).Mount("/debug", middleware.Profiler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.auth)

		r.Get("/status", s.handleStatus)
		r.Get("/templates", s.handleTemplates)
		r.Get("/settings", s.handleGetSettings)
		r.Get("/runs", s.handleRuns)
		r.Get("/events", s.handleEvents)
		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{id}", s.handleGetTask)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)
			r.Put("/scheduler", s.handleSetScheduler)
			r.Put("/settings", s.handlePutSettings)
			r.Post("/tasks", s.handleCreateTask)
			r.Patch("/tasks/{id}", s.handleUpdateTask)
			r.Delete("/tasks/{id}", s.handleDeleteTask)
			r.Post("/tasks/{id}/enable", s.handleSetTaskEnabled(true))
			r.Post("/tasks/{id}/disable", s.handleSetTaskEnabled(false))
			r.Post("/tasks/{id}/run", s.handleRunTask)
		})
	})
	return r
}

func (s *Server) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}
