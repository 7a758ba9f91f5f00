package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sawpanic/wsclient/internal/metrics"
	"github.com/sawpanic/wsclient/internal/ws"
)

// StatusSource is satisfied by *ws.Client
type StatusSource interface {
	Status() ws.Status
}

// ReportSource is satisfied by *sink.ReportStore
type ReportSource interface {
	Recent(ctx context.Context, limit int) ([]ws.ErrorReport, error)
}

// MetricsSource is satisfied by *metrics.Collector
type MetricsSource interface {
	Handler() http.Handler
	Snapshot(host string) metrics.HostSnapshot
}

// statusResponse is the client status plus the collector's view of the same host
type statusResponse struct {
	ws.Status
	Metrics *metrics.HostSnapshot `json:"metrics,omitempty"`
}

// Config holds monitor server configuration
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig listens on loopback only
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:9090",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the read-only status and metrics endpoint of a running client
type Server struct {
	router  *mux.Router
	server  *http.Server
	config  Config
	logger  zerolog.Logger
	status  StatusSource
	reports ReportSource
	metrics MetricsSource
}

// NewServer wires the routes; reports and collector may be nil
func NewServer(config Config, status StatusSource, reports ReportSource, collector MetricsSource, logger zerolog.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		config:  config,
		logger:  logger.With().Str("component", "monitor").Logger(),
		status:  status,
		reports: reports,
		metrics: collector,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/reports", s.handleReports).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

type ctxKey struct{}

// RequestID returns the id assigned to the request, if any
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), ctxKey{}, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWrapper) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		s.logger.Debug().
			Str("request_id", RequestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("HTTP request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	code := http.StatusOK
	state := "ok"
	if !st.Connected {
		code = http.StatusServiceUnavailable
		state = "disconnected"
	}
	writeJSON(w, code, map[string]interface{}{
		"status":    state,
		"active":    st.Active,
		"connected": st.Connected,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: s.status.Status()}
	if s.metrics != nil {
		snap := s.metrics.Snapshot(resp.Host)
		resp.Metrics = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "report store not configured"})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	reports, err := s.reports.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", RequestID(r.Context())).Msg("Failed to load reports")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load reports"})
		return
	}
	if reports == nil {
		reports = []ws.ErrorReport{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Start checks the address is free, then serves until Shutdown
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("monitor address %s is busy or unavailable: %w", s.config.Addr, err)
	}
	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Monitor server listening")

	if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("monitor server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down monitor server")
	return s.server.Shutdown(ctx)
}
