// Package gateway exposes the service registry, integration states and the
// event bus over HTTP for the workflow engine.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fanex-id/integrations/internal/audit"
	"github.com/fanex-id/integrations/internal/metrics"
	"github.com/fanex-id/integrations/pkg/events"
	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/services"
)

// Server is the gateway HTTP server.
type Server struct {
	options     Options
	host        *integration.Host
	registry    *services.Registry
	metrics     *metrics.Metrics
	audit       *audit.Logger
	broadcaster *EventBroadcaster
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
	startTime   time.Time

	server      *http.Server
	unsubscribe func()

	shutdownMu     sync.RWMutex
	isShuttingDown bool
	inFlight       sync.WaitGroup
}

// Config carries the gateway's collaborators.
type Config struct {
	Options  Options
	Host     *integration.Host
	Registry *services.Registry
	Bus      *events.Bus
	Metrics  *metrics.Metrics
	Audit    *audit.Logger // optional
	Logger   zerolog.Logger
}

// NewServer creates a gateway and subscribes it to the bus.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Host == nil {
		return nil, errors.New("integration host is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = cfg.Host.Registry()
	}
	opts := cfg.Options.withDefaults()

	s := &Server{
		options:     opts,
		host:        cfg.Host,
		registry:    cfg.Registry,
		metrics:     cfg.Metrics,
		audit:       cfg.Audit,
		broadcaster: NewEventBroadcaster(cfg.Logger),
		rateLimiter: NewRateLimiter(opts.RateLimitPerMinute, 5*time.Minute),
		logger:      cfg.Logger,
		startTime:   time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if cfg.Bus != nil {
		s.unsubscribe = cfg.Bus.Subscribe("*", s.broadcaster.Publish)
	}
	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	// The event stream is long-lived and must not hold up Shutdown.
	r.Handle("/api/events", s.rateLimit(http.HandlerFunc(s.handleEvents))).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.trackInFlight, s.rateLimit)
	api.HandleFunc("/services", s.handleListServices).Methods(http.MethodGet)
	api.HandleFunc("/services/{domain}", s.handleListServices).Methods(http.MethodGet)
	api.HandleFunc("/services/{domain}/{service}", s.handleInvoke).Methods(http.MethodPost)
	api.HandleFunc("/integrations", s.handleListIntegrations).Methods(http.MethodGet)
	api.HandleFunc("/integrations/{domain}", s.handleGetIntegration).Methods(http.MethodGet)
	api.HandleFunc("/events/clients", s.handleListClients).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, services.Failure(errors.New("not found")))
	})
	return r
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.options.Host, fmt.Sprint(s.options.Port))
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.server = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Bool("signed", s.options.Secret != "").
		Msg("Starting gateway server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	return nil
}

// Shutdown rejects new API requests, waits for in-flight calls up to the
// shutdown timeout, closes event subscribers and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownMu.Lock()
	if s.isShuttingDown {
		s.shutdownMu.Unlock()
		return nil
	}
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, s.options.ShutdownTimeout)
	defer cancel()
	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-waitCtx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.broadcaster.CloseAll()
	s.rateLimiter.Stop()

	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown gateway server: %w", err)
	}
	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// Broadcaster returns the event fan-out used by /api/events.
func (s *Server) Broadcaster() *EventBroadcaster {
	return s.broadcaster
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

func (s *Server) trackInFlight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			writeJSON(w, http.StatusServiceUnavailable, services.Failure(errors.New("server is shutting down")))
			return
		}
		// Add under the read lock so Shutdown cannot start waiting in between.
		s.inFlight.Add(1)
		s.shutdownMu.RUnlock()
		defer s.inFlight.Done()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.rateLimiter.Allow(ip) {
			retryAfter := s.rateLimiter.RetryAfter(ip)
			s.logger.Warn().
				Str("ip", ip).
				Str("path", r.URL.Path).
				Int("retryAfter", retryAfter).
				Msg("Rate limit exceeded")
			w.Header().Set("Retry-After", fmt.Sprint(retryAfter))
			writeJSON(w, http.StatusTooManyRequests, services.Failure(errors.New("too many requests")))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
