package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"dlnamedia/internal/api"
	"dlnamedia/internal/config"
	"dlnamedia/internal/metrics"
	"dlnamedia/internal/upnp"
)

// Handlers are the endpoints the server routes to. Metrics may be nil.
type Handlers struct {
	UPnP    *upnp.Handler
	Stream  http.Handler
	Art     http.Handler
	API     *api.Handler
	Metrics *metrics.Metrics
	// Gauges refreshes gauge values before each /metrics scrape.
	Gauges func()
}

type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	httpServer *http.Server
	router     *chi.Mux
	handlers   Handlers
}

func New(cfg *config.Config, logger zerolog.Logger, handlers Handlers) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger.With().Str("component", "http").Logger(),
		handlers: handlers,
	}

	s.router = chi.NewRouter()
	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

func (s *Server) setupMiddleware() {
	var rec RequestRecorder
	if s.handlers.Metrics != nil {
		rec = s.handlers.Metrics
	}
	s.router.Use(LoggingMiddleware(s.logger, rec))
}

func (s *Server) setupRoutes() {
	s.handlers.UPnP.Mount(s.router)

	s.router.Method(http.MethodGet, "/stream/*", s.handlers.Stream)
	s.router.Method(http.MethodHead, "/stream/*", s.handlers.Stream)
	s.router.Method(http.MethodGet, "/art/*", s.handlers.Art)
	s.router.Method(http.MethodHead, "/art/*", s.handlers.Art)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(CORSMiddleware)
		s.handlers.API.Mount(r)
	})

	if s.handlers.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.handlers.Metrics.Handler(s.handlers.Gauges))
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Msg("starting server")

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}
