// Package api serves Meetly over HTTP: a thread-oriented JSON API, an
// OpenAI-compatible completions endpoint and websocket streams.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/meetly/internal/agent"
	"github.com/nugget/meetly/internal/buildinfo"
	"github.com/nugget/meetly/internal/events"
	"github.com/nugget/meetly/internal/session"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	loop     *agent.Loop
	store    session.Store
	bus      *events.Bus
	system   func() string
	upgrader websocket.Upgrader
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates a new API server around loop. Thread history is
// read from the loop's session store.
func NewServer(address string, port int, loop *agent.Loop, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		loop:    loop,
		store:   loop.Store(),
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// SetEventBus enables the event websocket and thread_cleared events.
func (s *Server) SetEventBus(bus *events.Bus) {
	s.bus = bus
}

// SetSystemPrompt sets the function that renders the system prompt for
// each turn. It is called once per request so the prompt carries the
// current time.
func (s *Server) SetSystemPrompt(fn func() string) {
	s.system = fn
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	mux.HandleFunc("GET /v1/threads", s.handleThreadList)
	mux.HandleFunc("GET /v1/threads/{id}", s.handleThreadGet)
	mux.HandleFunc("DELETE /v1/threads/{id}", s.handleThreadDelete)
	mux.HandleFunc("POST /v1/threads/{id}/messages", s.handleThreadMessage)
	mux.HandleFunc("GET /v1/threads/{id}/ws", s.handleThreadSocket)

	mux.HandleFunc("GET /v1/events", s.handleEventSocket)

	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleModels)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Turns wait on the model and the calendar.
		WriteTimeout: 5 * time.Minute,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"name":              "Meetly",
		"version":           buildinfo.Version,
		"status":            "ok",
		"uptime":            buildinfo.Uptime().Round(time.Second).String(),
		"event_subscribers": s.bus.SubscriberCount(),
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, buildinfo.BuildInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

// errorResponse writes {"error": {"message", "type"}} in the shape
// OpenAI clients understand.
func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    http.StatusText(code),
		},
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

// turnStatus maps a failed turn to an HTTP status and a message safe
// to show the client.
func turnStatus(err error) (int, string) {
	var pe *agent.ProviderError
	var se *session.StoreError
	switch {
	case errors.Is(err, agent.ErrEmptyMessage), errors.Is(err, agent.ErrNoThread):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &pe):
		return http.StatusBadGateway, "language model request failed"
	case errors.As(err, &se):
		return http.StatusInternalServerError, "conversation store failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "agent error"
	}
}

func (s *Server) systemPrompt() string {
	if s.system == nil {
		return ""
	}
	return s.system()
}
