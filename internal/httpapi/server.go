// Package httpapi is the in-app surface: projection, acknowledgment,
// click-through, server-sent events, plus /healthz and /metrics.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nudge/internal/auth"
	"nudge/internal/eventbus"
	"nudge/internal/session"
	logx "nudge/pkg/logx"
)

const (
	DefaultAddr       = "127.0.0.1:8080"
	sseKeepAlive      = 25 * time.Second
	sseBuffer         = 32
	defaultReadHeader = 5 * time.Second
	defaultShutdown   = 5 * time.Second
)

// Directory resolves users to their open sessions.
type Directory interface {
	Get(userID string) (*session.Session, bool)
}

type Config struct {
	Addr       string
	AppBaseURL string
	// Tokens enables bearer auth on /api/users/{userID}; nil disables it.
	Tokens            *auth.Tokens
	Profiler          bool
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

type Server struct {
	cfg    Config
	dir    Directory
	bus    *eventbus.Bus
	gather prometheus.Gatherer
	health func() error
	log    logx.Logger
	router chi.Router
}

type Option func(*Server)

func WithBus(b *eventbus.Bus) Option { return func(s *Server) { s.bus = b } }

func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gather = g } }

// WithHealth installs the /healthz probe; a non-nil error answers 503.
func WithHealth(fn func() error) Option { return func(s *Server) { s.health = fn } }

func WithLogger(log logx.Logger) Option { return func(s *Server) { s.log = log } }

func New(cfg Config, dir Directory, opts ...Option) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = defaultReadHeader
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdown
	}
	s := &Server{cfg: cfg, dir: dir}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(recoverer(s.log))
	r.Use(requestLogger(s.log))

	r.Get("/healthz", s.handleHealth)
	if s.gather != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	}
	if s.cfg.Profiler {
		r.Mount("/debug", middleware.Profiler())
	}

	r.Route("/api/users/{userID}", func(r chi.Router) {
		r.Use(requireUser(s.cfg.Tokens, s.log))
		r.Use(s.withSession)
		r.Get("/status", s.handleStatus)
		r.Get("/notifications", s.handleList)
		r.Delete("/notifications", s.handleClear)
		r.Post("/notifications/read", s.handleReadAll)
		r.Post("/notifications/{id}/read", s.handleRead)
		r.Get("/notifications/{id}/open", s.handleOpen)
		r.Post("/poll/{group}", s.handlePoll)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		// SSE streams end with ctx so Shutdown does not wait on them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", logx.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		s.log.Warn("http api shutdown", logx.Err(err))
		_ = srv.Close()
	}
	<-errCh
	return nil
}
