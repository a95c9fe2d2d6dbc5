// Package api provides HTTP API handlers for netcam session history.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ayusman/netcam/internal/store"
)

// DefaultListLimit is how many sessions GET /api/sessions returns by default.
const DefaultListLimit = 50

// SessionHandler handles HTTP requests for session resources.
type SessionHandler struct {
	store *store.Store
}

// NewSessionHandler creates a new SessionHandler with the given store.
func NewSessionHandler(s *store.Store) *SessionHandler {
	return &SessionHandler{store: s}
}

// ServeHTTP routes /api/sessions, /api/sessions/labels and /api/sessions/{id}.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions")
	path = strings.TrimPrefix(path, "/")

	switch path {
	case "":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	case "labels":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.labels(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, path)
	case http.MethodDelete:
		h.delete(w, r, path)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type sessionResponse struct {
	ID               string             `json:"id"`
	StartedAt        string             `json:"started_at"`
	StoppedAt        string             `json:"stopped_at,omitempty"`
	StopReason       string             `json:"stop_reason,omitempty"`
	Frames           int64              `json:"frames"`
	Dropped          int64              `json:"dropped"`
	DetectionEnabled bool               `json:"detection_enabled"`
	Labels           []store.LabelCount `json:"labels"`
}

type listSessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

type labelsResponse struct {
	Labels []store.LabelCount `json:"labels"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toSessionResponse(s *store.Session) sessionResponse {
	resp := sessionResponse{
		ID:               s.ID,
		StartedAt:        s.StartedAt.Format(time.RFC3339),
		StopReason:       s.StopReason,
		Frames:           s.Frames,
		Dropped:          s.Dropped,
		DetectionEnabled: s.DetectionEnabled,
		Labels:           s.SortedLabels(),
	}
	if s.StoppedAt != nil {
		resp.StoppedAt = s.StoppedAt.Format(time.RFC3339)
	}
	return resp
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// limitParam reads ?limit=, falling back to def on absence or garbage.
func limitParam(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// list handles GET /api/sessions.
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.Sessions().List(limitParam(r, DefaultListLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	response := listSessionsResponse{Sessions: make([]sessionResponse, 0, len(sessions))}
	for _, s := range sessions {
		response.Sessions = append(response.Sessions, toSessionResponse(s))
	}

	writeJSON(w, http.StatusOK, response)
}

// labels handles GET /api/sessions/labels.
func (h *SessionHandler) labels(w http.ResponseWriter, r *http.Request) {
	top, err := h.store.Sessions().TopLabels(limitParam(r, 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count labels")
		return
	}
	if top == nil {
		top = []store.LabelCount{}
	}
	writeJSON(w, http.StatusOK, labelsResponse{Labels: top})
}

// get handles GET /api/sessions/{id}.
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	s, err := h.store.Sessions().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

// delete handles DELETE /api/sessions/{id}.
func (h *SessionHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Sessions().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
