package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/conneradamsmaine/playgroundd/internal/session"
	"github.com/conneradamsmaine/playgroundd/internal/store"
)

type createSessionRequest struct {
	PlaysetID int64 `json:"playsetId"`
}

type sessionInfo struct {
	SessionID string `json:"sessionId"`
	JoinToken string `json:"joinToken"`
	Status    string `json:"status"`
}

type playsetInfo struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Slug           string `json:"slug"`
	Runtime        string `json:"runtime"`
	DefaultCommand string `json:"defaultCommand,omitempty"`
}

type createSessionResponse struct {
	OK      bool        `json:"ok"`
	Session sessionInfo `json:"session"`
	Playset playsetInfo `json:"playset"`
	WsURL   string      `json:"wsUrl"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Playground.Enabled {
		writeAPIError(w, session.ErrPlaygroundDisabled)
		return
	}
	if s.cfg.Playground.RequireAdmin && !s.isAdmin(r) {
		writeUnauthorized(w, "playground requires an admin token")
		return
	}
	if !s.sameOrigin(r) {
		writeJSON(w, http.StatusForbidden, APIError{
			Code:    ErrCodeForbiddenOrigin,
			Message: "cross-origin request rejected",
		})
		return
	}

	ip := clientIP(r)
	if !s.limiter.Allow(r.Context(), "playground:create:"+ip, time.Minute, s.cfg.Playground.CreateRatePerMinute) {
		writeRateLimited(w, "too many session requests, slow down")
		return
	}

	var req createSessionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error())
		return
	}
	if req.PlaysetID <= 0 {
		writeValidationError(w, "playsetId is required")
		return
	}

	s.logger.Debug("create session request", "playset_id", req.PlaysetID, "client_ip", ip)
	result, err := s.sessions.CreateSession(r.Context(), req.PlaysetID, ip, r.UserAgent())
	if err != nil {
		s.logger.Error("create session", "playset_id", req.PlaysetID, "error", err)
		writeAPIError(w, err)
		return
	}

	if result.Status != session.StatusActive {
		writeJSON(w, http.StatusServiceUnavailable, APIError{
			Code:    ErrCodeSessionFailed,
			Message: "session failed to start",
			Details: map[string]any{"reason": result.Reason},
		})
		return
	}

	s.logger.Info("session created", "session_id", result.SessionID, "playset_id", result.Playset.ID)
	writeJSON(w, http.StatusCreated, createSessionResponse{
		OK: true,
		Session: sessionInfo{
			SessionID: result.SessionID,
			JoinToken: result.JoinToken,
			Status:    result.Status,
		},
		Playset: playsetView(result.Playset),
		WsURL:   s.wsURL,
	})
}

type deleteSessionRequest struct {
	SessionID string `json:"sessionId"`
	JoinToken string `json:"joinToken"`
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Playground.Enabled {
		writeAPIError(w, session.ErrPlaygroundDisabled)
		return
	}

	ip := clientIP(r)
	if !s.limiter.Allow(r.Context(), "playground:delete:"+ip, time.Minute, s.cfg.Playground.TerminateRatePerMinute) {
		writeRateLimited(w, "too many termination requests, slow down")
		return
	}

	var req deleteSessionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error())
		return
	}
	if req.SessionID == "" || req.JoinToken == "" {
		writeValidationError(w, "sessionId and joinToken are required")
		return
	}

	if !s.sessions.TerminateSessionWithToken(r.Context(), req.SessionID, req.JoinToken, "client-shutdown") {
		// Bad token and missing session look identical.
		writeJSON(w, http.StatusNotFound, APIError{
			Code:    ErrCodeSessionNotFound,
			Message: "session not found or already stopped",
		})
		return
	}

	s.logger.Info("session terminated by client", "session_id", req.SessionID)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "stopped": true})
}

func (s *Server) handleListPlaysets(w http.ResponseWriter, r *http.Request) {
	playsets, err := s.playsets.ListEnabled()
	if err != nil {
		s.logger.Error("list playsets", "error", err)
		writeAPIError(w, err)
		return
	}
	views := make([]playsetInfo, 0, len(playsets))
	for _, ps := range playsets {
		views = append(views, playsetView(ps))
	}
	writeJSON(w, http.StatusOK, map[string]any{"playsets": views})
}

func playsetView(ps *store.Playset) playsetInfo {
	return playsetInfo{
		ID:             ps.ID,
		Name:           ps.Name,
		Slug:           ps.Slug,
		Runtime:        ps.Runtime,
		DefaultCommand: ps.DefaultCommand,
	}
}

const maxJSONBodyBytes int64 = 1 << 20

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}
