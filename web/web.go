// Package web exposes a read-only HTTP surface over a running hub: liveness,
// the plugin registry, the resolved endpoints, and Prometheus metrics. It is
// an operator window, not a message path; nothing here can inject traffic.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkdryden/zmq-plugin/proto"
)

// Status is the view of a running hub the HTTP surface reads from.
type Status interface {
	Name() string
	QueryURI() string
	CommandInfo() proto.EndpointInfo
	PublishInfo() proto.EndpointInfo
	Plugins() []string
	CommandPeers() []string
	Subscribers() int
	ExecutionCount() int
}

// Options configures the HTTP surface. Zero values are usable defaults.
type Options struct {
	Logger   *slog.Logger
	Gatherer prometheus.Gatherer
}

// Server serves hub status over HTTP.
type Server struct {
	status   Status
	log      *slog.Logger
	gatherer prometheus.Gatherer

	mu     sync.Mutex
	server *http.Server
}

// New wraps a hub for HTTP serving. Start it with Start or mount Routes
// into an existing server.
func New(status Status, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{status: status, log: log, gatherer: gatherer}
}

// Routes returns the HTTP routes for the status surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.HandleHealth)
	r.Get("/registry", s.HandleRegistry)
	r.Get("/endpoints", s.HandleEndpoints)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

// Start serves the routes on addr and blocks until Shutdown or failure.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}
	server := s.server
	s.mu.Unlock()

	s.log.Info("serving hub status", "addr", addr)
	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server, draining in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
