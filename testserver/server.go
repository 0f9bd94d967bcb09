// Package testserver is a small HTTP backing service for exercising
// HTTPRequest actors locally and in tests.
package testserver

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger logs every request at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Server is the test backing service. Counters live in memory and are
// shared by every client.
type Server struct {
	mux      *http.ServeMux
	logger   *zap.Logger
	requests atomic.Int64
	tokens   atomic.Int64

	mu       sync.Mutex
	counters map[string]int64
}

// NewServer creates a server with every endpoint registered.
func NewServer(opts ...Option) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		logger:   zap.NewNop(),
		counters: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /status/{code}", s.handleStatus)
	s.mux.HandleFunc("GET /delay/{ms}", s.handleDelay)
	s.mux.HandleFunc("POST /echo", s.handleEcho)
	s.mux.HandleFunc("GET /fail-rate", s.handleFailRate)
	s.mux.HandleFunc("GET /headers", s.handleHeaders)
	s.mux.HandleFunc("POST /auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /users/{id}", s.handleUser)
	s.mux.HandleFunc("GET /counters/{name}", s.handleCounter)
	s.mux.HandleFunc("POST /counters/{name}", s.handleIncrement)
	return s
}

// Endpoints lists the routes for the startup banner.
var Endpoints = []string{
	"GET  /health            health check",
	"GET  /status/{code}     respond with the given status code",
	"GET  /delay/{ms}        respond after ms milliseconds",
	"POST /echo              echo the request body",
	"GET  /fail-rate         fail ?rate=N percent of requests",
	"GET  /headers           echo request headers as JSON",
	"POST /auth/login        issue a bearer token",
	"GET  /users/{id}        user record, requires Authorization",
	"GET  /counters/{name}   read a shared counter",
	"POST /counters/{name}   increment a shared counter",
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		start := time.Now()
		s.mux.ServeHTTP(w, r)
		s.logger.Debug("request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

// Requests returns the number of requests served so far.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// Counter returns the current value of a named counter.
func (s *Server) Counter(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[name]
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(r.PathValue("code"))
	if err != nil || code < 200 || code > 599 {
		http.Error(w, "invalid status code", http.StatusBadRequest)
		return
	}
	w.WriteHeader(code)
	fmt.Fprintf(w, "%d %s", code, http.StatusText(code))
}

func (s *Server) handleDelay(w http.ResponseWriter, r *http.Request) {
	ms, err := strconv.Atoi(r.PathValue("ms"))
	if err != nil || ms < 0 {
		http.Error(w, "invalid delay", http.StatusBadRequest)
		return
	}

	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
	case <-r.Context().Done():
		return
	}
	fmt.Fprintf(w, "delayed %dms", ms)
}

func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(body)
}

// handleFailRate fails ?rate=N percent of requests with a 500.
func (s *Server) handleFailRate(w http.ResponseWriter, r *http.Request) {
	rate, err := strconv.Atoi(r.URL.Query().Get("rate"))
	if err != nil || rate < 0 || rate > 100 {
		rate = 0
	}
	if rand.Intn(100) < rate {
		http.Error(w, "simulated failure", http.StatusInternalServerError)
		return
	}
	fmt.Fprint(w, "success")
}

func (s *Server) handleHeaders(w http.ResponseWriter, r *http.Request) {
	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		headers[name] = strings.Join(values, ", ")
	}
	writeJSON(w, http.StatusOK, map[string]any{"headers": headers})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		User string `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.User == "" {
		http.Error(w, "expected {\"user\": ...}", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"auth": map[string]any{
			"token":      fmt.Sprintf("%s-%d", creds.User, s.tokens.Add(1)),
			"expires_in": 3600,
		},
	})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": r.PathValue("id"),
		"name":    "Test User",
	})
}

func (s *Server) handleCounter(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "value": s.Counter(name)})
}

func (s *Server) handleIncrement(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.mu.Lock()
	s.counters[name]++
	v := s.counters[name]
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "value": v})
}
