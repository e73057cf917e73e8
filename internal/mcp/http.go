package mcp

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionHeader carries the session id issued on initialize.
const SessionHeader = "Mcp-Session-Id"

const maxBodySize = 1 << 20

// HTTPHandler serves MCP over plain request/response HTTP. Each POST carries
// one JSON-RPC message. Notifications are acknowledged with 202 and no body.
// DELETE with a session header ends that session.
type HTTPHandler struct {
	server *Server

	mu       sync.RWMutex
	sessions map[string]struct{}
}

// HTTPHandler returns an http.Handler for this server.
func (s *Server) HTTPHandler() *HTTPHandler {
	return &HTTPHandler{server: s, sessions: make(map[string]struct{})}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.post(w, r)
	case http.MethodDelete:
		h.delete(w, r)
	default:
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPHandler) post(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(nil, ParseError, "Parse error", err.Error()))
		return
	}
	if len(body) > maxBodySize {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse(nil, InvalidRequest, "Request too large", nil))
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(nil, ParseError, "Parse error", err.Error()))
		return
	}

	if sessionID := r.Header.Get(SessionHeader); sessionID != "" && req.Method != "initialize" && !h.known(sessionID) {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	resp := h.server.Handle(r.Context(), &req)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if req.Method == "initialize" && resp.Error == nil {
		sessionID := uuid.NewString()
		h.mu.Lock()
		h.sessions[sessionID] = struct{}{}
		h.mu.Unlock()
		w.Header().Set(SessionHeader, sessionID)
		h.server.logger.Debug("Session started", zap.String("session_id", sessionID))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) delete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" || !h.known(sessionID) {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	h.mu.Lock()
	delete(h.sessions, sessionID)
	h.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) known(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[sessionID]
	return ok
}

func writeJSON(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(encode(resp))
}
