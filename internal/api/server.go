package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strings"
	"time"

	"companion/internal/mode"
	"companion/pkg/types"
)

// SessionDirectory is the narrow view of the session registry the API needs.
// ARCHITECTURAL DISCOVERY: Interface here avoids tight coupling to the
// registry implementation and keeps the API free of business logic
type SessionDirectory interface {
	Sessions() []types.Session
	Stats() map[string]int
}

// TransportStats is the narrow view of the WebSocket gateway.
type TransportStats interface {
	GetStats() map[string]int
}

// Server is the read-only REST surface: health, session inspection, and
// mode discovery. All conversational traffic goes over the WebSocket.
type Server struct {
	directory SessionDirectory
	transport TransportStats
	router    *http.ServeMux
	startTime time.Time
}

// NewServer creates the API server with dependency injection.
func NewServer(directory SessionDirectory, transport TransportStats) *Server {
	s := &Server{
		directory: directory,
		transport: transport,
		router:    http.NewServeMux(),
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: CORS and JSON middleware applied to all routes
// for web client compatibility
func (s *Server) setupRoutes() {
	s.router.Handle("/api/sessions", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.listSessions))))
	s.router.Handle("/api/sessions/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.getSession))))
	s.router.Handle("/api/modes", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.listModes))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type ListSessionsResponse struct {
	Sessions []types.Session `json:"sessions"`
}

type SessionResponse struct {
	Session *types.Session `json:"session"`
}

type ModeInfo struct {
	Mode     types.Mode `json:"mode"`
	Greeting string     `json:"greeting"`
	Default  bool       `json:"default"`
}

type ListModesResponse struct {
	Modes []ModeInfo `json:"modes"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Uptime      string         `json:"uptime"`
	Goroutines  int            `json:"goroutines"`
	Sessions    map[string]int `json:"sessions"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /api/sessions - live session snapshots with connection state
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := s.directory.Sessions()
	if sessions == nil {
		sessions = []types.Session{}
	}
	json.NewEncoder(w).Encode(ListSessionsResponse{Sessions: sessions})
}

// GET /api/sessions/{client_id} - one session by client identity
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientID := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if clientID == "" || strings.Contains(clientID, "/") {
		s.sendError(w, "Invalid client ID", http.StatusBadRequest)
		return
	}

	for _, sess := range s.directory.Sessions() {
		if sess.ClientID == clientID {
			json.NewEncoder(w).Encode(SessionResponse{Session: &sess})
			return
		}
	}
	s.sendError(w, "Session not found", http.StatusNotFound)
}

// GET /api/modes - available interaction modes and their greetings
func (s *Server) listModes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	modes := make([]ModeInfo, 0, 3)
	for _, m := range []types.Mode{types.ModeTutor, types.ModeFriend, types.ModeHybrid} {
		modeCtx, err := mode.Lookup(m)
		if err != nil {
			continue
		}
		modes = append(modes, ModeInfo{
			Mode:     m,
			Greeting: modeCtx.Greeting,
			Default:  m == types.DefaultMode,
		})
	}
	json.NewEncoder(w).Encode(ListModesResponse{Modes: modes})
}

// GET /health - process health and connection statistics
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now(),
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		Goroutines:  runtime.NumGoroutine(),
		Sessions:    s.directory.Stats(),
		Connections: s.transport.GetStats(),
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// sendError writes a consistent error response format.
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
// Allows all origins in development - would be restricted in production
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		next.ServeHTTP(w, r)
	})
}
