// Package server exposes the chat controller over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BenDundee/ravana/internal/agents"
	"github.com/BenDundee/ravana/internal/config"
	"github.com/BenDundee/ravana/internal/llm"
	"github.com/BenDundee/ravana/internal/logging"
	"github.com/BenDundee/ravana/internal/orchestrator"
	"github.com/BenDundee/ravana/internal/usage"
)

// RequestIDHeader carries the request correlation ID.
const RequestIDHeader = "X-Request-ID"

// Responder answers chat turns. *orchestrator.Controller satisfies it.
type Responder interface {
	GetResponse(ctx context.Context, history []llm.Message) (orchestrator.Reply, error)
	Documents() (int, error)
}

// UsageReporter is implemented by responders that meter token usage; the
// server then serves GET /usage.
type UsageReporter interface {
	UsageStats() usage.Stats
}

// Settings configures the listener.
type Settings struct {
	Addr         string
	Endpoint     string
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SettingsFrom derives settings from the deployment api block. Write timeout
// is generous because one turn runs several model calls.
func SettingsFrom(c config.ConnectionConfig) Settings {
	return Settings{
		Addr:         c.Addr(),
		Endpoint:     c.Endpoint,
		MaxBodyBytes: 1 << 20,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
}

// ChatRequest is the body of a chat call.
type ChatRequest struct {
	Messages []llm.Message `json:"messages"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Documents int    `json:"documents"`
}

// Server serves the chat endpoint and a health check.
type Server struct {
	settings  Settings
	responder Responder

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// New creates a server; nothing listens until Start.
func New(settings Settings, responder Responder) *Server {
	if settings.Endpoint == "" {
		settings.Endpoint = "chat"
	}
	if settings.MaxBodyBytes <= 0 {
		settings.MaxBodyBytes = 1 << 20
	}
	return &Server{settings: settings, responder: responder}
}

// Path returns the chat route, e.g. "/chat".
func (s *Server) Path() string {
	return "/" + strings.Trim(s.settings.Endpoint, "/")
}

// Handler returns the routed handler with request ID and logging middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc(s.Path(), s.handleChat)
	if ur, ok := s.responder.(UsageReporter); ok {
		mux.HandleFunc("/usage", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				w.Header().Set("Allow", http.MethodGet)
				writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
				return
			}
			writeJSON(w, http.StatusOK, ur.UsageStats())
		})
	}
	return withRequestID(mux)
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("server already started")
	}

	listener, err := net.Listen("tcp", s.settings.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.settings.Addr, err)
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.listener = listener
	s.server = srv
	s.done = make(chan struct{})

	done := s.done
	go func() {
		defer close(done)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ServerError("Serve error: %v", err)
		}
	}()
	logging.Server("Listening on %s (chat at %s)", listener.Addr(), s.Path())
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	<-s.done
	s.server = nil
	s.listener = nil
	logging.Server("Server stopped")
	return err
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	n, err := s.responder.Documents()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Documents: n})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context(), logging.CategoryServer)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload exceeds limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unable to read body"})
		return
	}

	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	log.Info("Chat request with %d messages", len(req.Messages))
	reply, err := s.responder.GetResponse(r.Context(), req.Messages)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrNoMessages) || errors.Is(err, agents.ErrInvalidRole) {
			status = http.StatusBadRequest
		}
		log.Error("Chat request failed: %v", err)
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	if reply.Sources == nil {
		reply.Sources = []string{}
	}
	writeJSON(w, http.StatusOK, reply)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withRequestID tags each request with an ID (taken from the request header
// when present), echoes it in the response, and logs the outcome.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))

		logging.WithRequestID(logging.CategoryServer, id).
			WithField("status", rec.status).
			Info("%s %s (%v)", r.Method, r.URL.Path, time.Since(start))
	})
}
