package api

import (
	"log/slog"
	"net/http"

	"github.com/conneradamsmaine/playgroundd/internal/config"
)

type Server struct {
	cfg      *config.Config
	sessions SessionService
	playsets PlaysetService
	reads    AdminReads
	limiter  RateLimiter
	cache    StatusCache
	wsURL    string
	logger   *slog.Logger
	mux      *http.ServeMux
}

func NewServer(cfg *config.Config, sessions SessionService, playsets PlaysetService, reads AdminReads, limiter RateLimiter, cache StatusCache, wsURL string, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		playsets: playsets,
		reads:    reads,
		limiter:  limiter,
		cache:    cache,
		wsURL:    wsURL,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.requestIDMiddleware(s.mux)
}

func (s *Server) routes() {
	// Public surface
	s.mux.HandleFunc("POST /api/playground/session", s.handleCreateSession)
	s.mux.HandleFunc("DELETE /api/playground/session", s.handleDeleteSession)
	s.mux.HandleFunc("GET /api/playground/playsets", s.handleListPlaysets)

	// Admin surface
	s.mux.HandleFunc("GET /api/playground/status", s.requireAdmin(s.handleStatus))
	s.mux.HandleFunc("GET /api/playground/sessions", s.requireAdmin(s.handleListSessions))
	s.mux.HandleFunc("GET /api/playground/logs", s.requireAdmin(s.handleListLogs))
	s.mux.HandleFunc("POST /api/playground/terminate", s.requireAdmin(s.handleTerminate))

	// Health check (no auth)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
