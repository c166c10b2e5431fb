package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/L1ghtError/LimbWorker/capability"
	"github.com/L1ghtError/LimbWorker/health"
	"github.com/L1ghtError/LimbWorker/metric"
	"github.com/L1ghtError/LimbWorker/processor"
)

// CapabilitySource provides the capability snapshot.
type CapabilitySource interface {
	Snapshot() capability.Snapshot
}

// ModuleLister lists loaded processor modules.
type ModuleLister interface {
	Modules() []processor.ModuleInfo
}

// HealthSource aggregates component health.
type HealthSource interface {
	AggregateHealth(systemName string) health.Status
}

// Server is the HTTP API server
type Server struct {
	addr         string
	health       HealthSource
	capabilities CapabilitySource
	modules      ModuleLister
	metrics      *metric.MetricsRegistry
	requests     *prometheus.CounterVec
	logger       *slog.Logger
	startedAt    time.Time

	server *http.Server
}

// New creates a server listening on addr. modules and metrics may be nil.
func New(addr string, healthSrc HealthSource, caps CapabilitySource, modules ModuleLister,
	metrics *metric.MetricsRegistry, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:         addr,
		health:       healthSrc,
		capabilities: caps,
		modules:      modules,
		metrics:      metrics,
		logger:       logger.With("component", "api"),
		startedAt:    time.Now(),
	}
	if metrics != nil {
		s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route pattern, method and status",
		}, []string{"path", "method", "status"})
		if err := metrics.RegisterCounterVec("api", "requests", s.requests); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/capabilities", s.handleCapabilities)
	if s.modules != nil {
		r.Get("/processors", s.handleProcessors)
	}
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.PrometheusRegistry(), promhttp.HandlerOpts{}))
	}
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info("API server starting", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if s.requests != nil {
			s.requests.WithLabelValues(routePattern(r), r.Method, strconv.Itoa(ww.Status())).Inc()
		}
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// routePattern avoids high-cardinality path labels.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type healthzResponse struct {
	health.Status
	UptimeSeconds int64 `json:"uptime_seconds"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	status := s.health.AggregateHealth("limbworker")
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthzResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	data, err := s.capabilities.Snapshot().JSON()
	if err != nil {
		s.logger.Error("Encode capabilities", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "encode capabilities"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleProcessors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.modules.Modules())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
