package admin

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"runq/internal/logging"
	"runq/internal/procmgr"
	"runq/internal/sched"
)

// Controller is the part of the process manager the API drives.
// *procmgr.Manager implements it.
type Controller interface {
	Enabled() bool
	Stats() (sched.Stats, error)
	TaskState() sched.TaskState
	Current() (sched.ProcessID, bool)
	SetPolicy(p sched.Policy) error
	SetQuantum(d time.Duration) error
	Pause() error
	Resume() error
	Trigger() error

	Create(name string, priority int) (procmgr.Process, error)
	Terminate(id sched.ProcessID) bool
	Process(id sched.ProcessID) (procmgr.Process, bool)
	Processes() []procmgr.Process
	ProcessStats(id sched.ProcessID) (sched.ProcessStats, bool)
	SetPriority(id sched.ProcessID, priority int) error
	Boost(id sched.ProcessID) (int, error)
	Lower(id sched.ProcessID) (int, error)
	Yield(id sched.ProcessID) error
}

var _ Controller = (*procmgr.Manager)(nil)

// Server is the runq admin API.
type Server struct {
	router    chi.Router
	ctl       Controller
	logger    *slog.Logger
	startTime time.Time
}

// New creates a server with all routes registered.
func New(ctl Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{
		router:    chi.NewRouter(),
		ctl:       ctl,
		logger:    logger.With("component", "admin"),
		startTime: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/scheduler", func(r chi.Router) {
			r.Get("/", s.handleGetScheduler)
			r.Put("/policy", s.handleSetPolicy)
			r.Put("/quantum", s.handleSetQuantum)
			r.Post("/pause", s.handleControl("pause", s.ctl.Pause))
			r.Post("/resume", s.handleControl("resume", s.ctl.Resume))
			r.Post("/trigger", s.handleControl("trigger", s.ctl.Trigger))
		})

		r.Route("/processes", func(r chi.Router) {
			r.Get("/", s.handleListProcesses)
			r.Post("/", s.handleCreateProcess)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetProcess)
				r.Delete("/", s.handleTerminateProcess)
				r.Put("/priority", s.handleSetPriority)
				r.Post("/yield", s.handleYield)
			})
		})
	})
}
