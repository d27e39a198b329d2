package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/conneradamsmaine/playgroundd/internal/session"
)

// statusCacheKey sits under the prefix the runtime invalidates on every
// mutation, so polls between mutations are served from cache.
const statusCacheKey = "playground:status:runtime"

const statusCacheTTL = 2 * time.Second

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var snap session.Snapshot
	err := s.cache.GetOrSet(r.Context(), statusCacheKey, statusCacheTTL, &snap, func() (any, error) {
		return s.sessions.RuntimeSnapshot(), nil
	})
	if err != nil {
		s.logger.Error("status snapshot", "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50)
	items, err := s.reads.ListRecentSessions(limit)
	if err != nil {
		s.logger.Error("list sessions", "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": items})
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100)

	if sessionID := r.URL.Query().Get("sessionId"); sessionID != "" {
		entries, err := s.reads.ListLogsForSession(sessionID, limit)
		if err != nil {
			s.logger.Error("list session logs", "session_id", sessionID, "error", err)
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
		return
	}

	entries, err := s.reads.ListRecentLogs(limit)
	if err != nil {
		s.logger.Error("list logs", "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

type terminateRequest struct {
	SessionID string `json:"sessionId"`
	WsID      string `json:"wsId"`
	PlaysetID int64  `json:"playsetId"`
	All       bool   `json:"all"`
	Reason    string `json:"reason"`
}

// handleTerminate is the admin kill switch. Exactly one selector per
// request.
func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	var req terminateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error())
		return
	}

	selectors := 0
	if req.SessionID != "" {
		selectors++
	}
	if req.WsID != "" {
		selectors++
	}
	if req.PlaysetID > 0 {
		selectors++
	}
	if req.All {
		selectors++
	}
	if selectors != 1 {
		writeValidationError(w, "provide exactly one of sessionId, wsId, playsetId, all")
		return
	}

	reason := req.Reason
	count := 0
	switch {
	case req.SessionID != "":
		if reason == "" {
			reason = "admin-shutdown"
		}
		if s.sessions.TerminateSession(r.Context(), req.SessionID, reason) {
			count = 1
		}
	case req.WsID != "":
		if s.sessions.TerminateBySocket(r.Context(), req.WsID, reason) {
			count = 1
		}
	case req.PlaysetID > 0:
		count = s.sessions.TerminateByPlayset(r.Context(), req.PlaysetID, reason)
	case req.All:
		count = s.sessions.TerminateAll(r.Context(), reason)
	}

	s.logger.Info("admin terminate", "count", count,
		"session_id", req.SessionID, "ws_id", req.WsID, "playset_id", req.PlaysetID, "all", req.All)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "terminated": count})
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 500 {
		return fallback
	}
	return n
}
