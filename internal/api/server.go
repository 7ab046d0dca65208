// Package api exposes the command channel of a runner over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/control"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/events"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/logging"
)

// maxCommandBody bounds POST /api/v1/commands bodies.
const maxCommandBody = 64 << 10

// Commander is the part of control.ControlPlane the server needs.
type Commander interface {
	InstanceID() string
	ExecuteCommand(ctx context.Context, cmd control.Command) (*control.Result, error)
	StatusReport(ctx context.Context) (*control.StatusReport, error)
	RecentLogs(n int) []logging.Entry
}

// Server provides the HTTP command channel.
type Server struct {
	router         chi.Router
	commander      Commander
	eventBus       *events.EventBus
	logger         *logging.Logger
	allowedOrigins []string
	heartbeat      time.Duration
	started        time.Time
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAllowedOrigins restricts CORS to origins. Without it only same-origin
// requests are allowed.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithHeartbeat sets the SSE keepalive interval.
func WithHeartbeat(d time.Duration) ServerOption {
	return func(s *Server) {
		s.heartbeat = d
	}
}

// NewServer creates a new API server.
func NewServer(commander Commander, eventBus *events.EventBus, opts ...ServerOption) *Server {
	s := &Server{
		commander: commander,
		eventBus:  eventBus,
		logger:    logging.NewNop(),
		heartbeat: 15 * time.Second,
		started:   time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "api")

	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	opts := cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	}
	if len(s.allowedOrigins) == 0 {
		// An empty list means "*" to cors.
		opts.AllowOriginFunc = func(string) bool { return false }
	}
	r.Use(cors.New(opts).Handler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Get("/health", s.handleHealth)
		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/logs", s.handleLogs)
			r.Post("/commands", s.handleCommand)
		})
	})

	// Streams outlive the request timeout.
	r.Get("/api/v1/events", s.handleSSE)

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// respondError sends a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":      "healthy",
		"instance_id": s.commander.InstanceID(),
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.commander.StatusReport(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	n := control.DefaultLogLines
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = parsed
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"instance_id": s.commander.InstanceID(),
		"entries":     s.commander.RecentLogs(n),
	})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd control.Command
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cmd); err != nil {
		respondError(w, http.StatusBadRequest, "invalid command body: "+err.Error())
		return
	}
	if cmd.Action == "" {
		respondError(w, http.StatusBadRequest, "action is required")
		return
	}

	res, err := s.commander.ExecuteCommand(r.Context(), cmd)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	status := http.StatusOK
	if res.Ignored {
		status = http.StatusAccepted
	}
	respondJSON(w, status, res)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
