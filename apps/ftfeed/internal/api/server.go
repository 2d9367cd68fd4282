package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"ftfeed/apps/ftfeed/internal/observability"
	"ftfeed/apps/ftfeed/internal/session"
)

// Server represents the API server
type Server struct {
	sessionHandler *SessionHandler
	streamHandler  *StreamHandler
	metrics        *observability.Metrics
	logger         *zap.Logger
	server         *http.Server
}

// NewServer creates a new API server
func NewServer(port int, sessions *session.Manager, metrics *observability.Metrics, logger *zap.Logger) *Server {
	return &Server{
		sessionHandler: NewSessionHandler(sessions, logger),
		streamHandler:  NewStreamHandler(sessions, logger),
		metrics:        metrics,
		logger:         logger,
		server: &http.Server{
			Addr:        fmt.Sprintf(":%d", port),
			ReadTimeout: 15 * time.Second,
			// No WriteTimeout: it would cut long-lived WebSocket streams.
			IdleTimeout: 60 * time.Second,
		},
	}
}

// Start starts the API server
func (s *Server) Start() error {
	s.server.Handler = s.Handler()

	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop stops the API server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	return s.server.Shutdown(ctx)
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	// Add middleware
	router.Use(s.loggingMiddleware)
	router.Use(s.corsMiddleware)

	router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	// API routes
	api := router.PathPrefix("/api").Subrouter()

	// Session endpoints
	api.HandleFunc("/sessions", s.sessionHandler.CreateSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", s.sessionHandler.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.sessionHandler.DeleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/wallet", s.sessionHandler.SetWallet).Methods("PUT")
	api.HandleFunc("/sessions/{id}/notifications", s.sessionHandler.SetNotifications).Methods("PUT")
	api.HandleFunc("/sessions/{id}/filters/trades", s.sessionHandler.SetTradeFilter).Methods("PUT")
	api.HandleFunc("/sessions/{id}/filters/deposits", s.sessionHandler.SetDepositFilter).Methods("PUT")

	// Feed endpoints
	api.HandleFunc("/sessions/{id}/trades", s.sessionHandler.GetTrades).Methods("GET")
	api.HandleFunc("/sessions/{id}/deposits", s.sessionHandler.GetDeposits).Methods("GET")
	api.HandleFunc("/sessions/{id}/profiles/{address}", s.sessionHandler.GetProfile).Methods("GET")
	api.HandleFunc("/sessions/{id}/stream", s.streamHandler.Stream).Methods("GET")

	// Health check endpoint
	api.HandleFunc("/health", s.healthCheck).Methods("GET")

	return router
}

// statusRecorder captures the response code for logging. It keeps Hijack
// available for WebSocket upgrades.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		// Call the next handler
		next.ServeHTTP(recorder, r)

		s.metrics.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(recorder.status)).Inc()

		// Log the request
		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", recorder.status),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// healthCheck handles the health check endpoint
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode health check response", zap.Error(err))
	}
}
