package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/metrics"
)

// ServerOptions wires the HTTP surface together.
type ServerOptions struct {
	Addr           string
	AuthToken      string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	Jobs           *JobsHandler
	Sessions       *SessionsHandler
	Events         *EventsHandler
	Health         *HealthHandler
	Log            zerolog.Logger
}

// Server is the HTTP front of the service.
type Server struct {
	srv *http.Server
	log zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	log := opts.Log.With().Str("component", "api").Logger()

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer)
	r.Use(CORSWithOrigins(opts.AllowedOrigins))
	r.Use(metrics.InstrumentHandler)

	r.Get("/health", opts.Health.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if opts.AuthToken != "" {
			r.Use(BearerAuth(opts.AuthToken))
		}
		opts.Jobs.Routes(r)
		opts.Sessions.Routes(r)
		r.Get("/events", opts.Events.Stream)
	})

	return &Server{
		srv: &http.Server{
			Addr:              opts.Addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       opts.ReadTimeout,
			// The SSE handler clears its own write deadline; every other
			// route is bounded by WriteTimeout.
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  opts.IdleTimeout,
		},
		log: log,
	}
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
