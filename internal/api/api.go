package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"therapy-chat-sync/internal/api/middleware"
	"therapy-chat-sync/internal/observability"
	"therapy-chat-sync/internal/queue"
	"therapy-chat-sync/internal/service/appointment"
	"therapy-chat-sync/internal/service/conversation"
	"therapy-chat-sync/internal/service/message"
	"therapy-chat-sync/internal/service/sweep"
	"therapy-chat-sync/internal/websocket"
)

type RouteRegistrar func(mux *http.ServeMux, s *APIServer)

// Services are the library components the HTTP surface is a transport for.
type Services struct {
	Conversations *conversation.Service
	Appointments  *appointment.Service
	Messages      *message.Service
	// Sweep is optional; health reports its last run when set.
	Sweep *sweep.Runner
}

type Options struct {
	ListenAddr     string
	AllowedOrigins []string
	Auth           middleware.TokenParser
	// Registerer defaults to the global Prometheus registry.
	Registerer prometheus.Registerer
}

type APIServer struct {
	listenAddr          string
	requestQueueManager *queue.RequestQueueManager
	services            Services
	routeRegistrars     []RouteRegistrar
	handler             *websocket.Handler
	auth                middleware.TokenParser
	cors                middleware.CORSConfig
	metrics             *metrics
}

func NewAPIServer(opts Options, rqm *queue.RequestQueueManager, services Services, handler *websocket.Handler, registrars ...RouteRegistrar) *APIServer {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &APIServer{
		listenAddr:          opts.ListenAddr,
		requestQueueManager: rqm,
		services:            services,
		handler:             handler,
		auth:                opts.Auth,
		cors:                middleware.DefaultCORSConfig(opts.AllowedOrigins),
		routeRegistrars:     registrars,
		metrics:             newMetrics(reg, opts.ListenAddr, rqm),
	}
}

// Routes builds the instrumented mux with every registrar applied.
func (s *APIServer) Routes() http.Handler {
	mux := http.NewServeMux()
	for _, reg := range s.routeRegistrars {
		reg(mux, s)
	}
	mux.Handle("/metrics", s.metrics.metricsHandler())
	return s.metrics.instrument(mux)
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *APIServer) Run(ctx context.Context) error {
	logger := observability.GetLogger()
	srv := &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", s.listenAddr).Msg("server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server shutdown incomplete")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func (s *APIServer) Services() Services {
	return s.services
}

func (s *APIServer) Handler() *websocket.Handler {
	return s.handler
}

// Authenticated is the middleware stack for routes that need a session.
func (s *APIServer) Authenticated() []middleware.Middleware {
	if s.auth == nil {
		return nil
	}
	return []middleware.Middleware{middleware.Authenticate(s.auth)}
}
