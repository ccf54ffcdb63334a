// Package server exposes the agent dispatcher and its event stream over HTTP.
package server

import (
	"encoding/json"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"

	"github.com/petal-labs/agentrelay/agent"
	"github.com/petal-labs/agentrelay/bus"
	"github.com/petal-labs/agentrelay/sse"
	"github.com/petal-labs/agentrelay/tool"
)

// DefaultMaxBody is the request body limit used when none is configured.
const DefaultMaxBody int64 = 1 << 20

// DefaultCORSOrigin is the Access-Control-Allow-Origin value used when none
// is configured.
const DefaultCORSOrigin = "*"

// ServerConfig configures a Server instance.
type ServerConfig struct {
	Dispatcher  *agent.Dispatcher
	Registry    *tool.Registry
	Broadcaster *bus.Broadcaster
	CORSOrigin  string
	MaxBody     int64
	Logger      *slog.Logger

	// UI, when set, is served at / as static assets.
	UI fs.FS
}

// Server is the agent HTTP API server.
type Server struct {
	dispatcher *agent.Dispatcher
	registry   *tool.Registry
	events     http.Handler
	ui         http.Handler
	corsOrigin string
	maxBody    int64
	logger     *slog.Logger
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsOrigin := strings.TrimSpace(cfg.CORSOrigin)
	if corsOrigin == "" {
		corsOrigin = DefaultCORSOrigin
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	s := &Server{
		dispatcher: cfg.Dispatcher,
		registry:   cfg.Registry,
		corsOrigin: corsOrigin,
		maxBody:    maxBody,
		logger:     logger,
	}
	if cfg.Broadcaster != nil {
		s.events = sse.NewHandler(cfg.Broadcaster, logger)
	}
	if cfg.UI != nil {
		s.ui = http.FileServerFS(cfg.UI)
	}
	return s
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts the API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /agent/act", s.handleAct)
	mux.HandleFunc("GET /api/tools", s.handleListTools)
	if s.events != nil {
		mux.Handle("GET /events", s.events)
	}
	if s.ui != nil {
		mux.Handle("GET /", s.ui)
	}
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// actResponse is the envelope of POST /agent/act.
type actResponse struct {
	OK        bool   `json:"ok"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeActError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, actResponse{OK: false, Error: message, Code: code})
}
