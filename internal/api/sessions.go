package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/agora-labs/internal/domain"
	"github.com/ashureev/agora-labs/internal/identity"
)

type createSessionRequest struct {
	ID       string   `json:"id"`
	AgentIDs []string `json:"agent_ids"`
}

type postMessageRequest struct {
	Message string `json:"message"`
}

type chatRequest struct {
	SessionID string   `json:"session_id"`
	Message   string   `json:"message"`
	AgentIDs  []string `json:"agent_ids"`
}

type chatResponse struct {
	SessionID string            `json:"session_id"`
	Responses []domain.Response `json:"responses"`
}

type sessionSummary struct {
	ID        string   `json:"id"`
	AgentIDs  []string `json:"agent_ids"`
	Entries   int      `json:"entries"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

// CreateSession handles POST /api/sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		req.ID = identity.SessionIDFromContext(r.Context())
	}
	if !identity.ValidSessionID(req.ID) {
		Error(w, http.StatusBadRequest, "a valid session id is required")
		return
	}
	if len(req.AgentIDs) == 0 {
		Error(w, http.StatusBadRequest, "at least one agent is required")
		return
	}

	agents, err := h.profiles.Resolve(req.AgentIDs)
	if err != nil {
		writeChatError(w, err)
		return
	}

	sess, err := h.chat.CreateSession(r.Context(), req.ID, agents)
	if err != nil {
		writeChatError(w, err)
		return
	}
	JSON(w, http.StatusCreated, sess)
}

// ListSessions handles GET /api/sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.chat.ListSessions()
	out := make([]sessionSummary, len(sessions))
	for i := range sessions {
		s := &sessions[i]
		out[i] = sessionSummary{
			ID:        s.ID,
			AgentIDs:  s.AgentIDs(),
			Entries:   len(s.History),
			CreatedAt: s.CreatedAt.UTC().Format(timeFormat),
			UpdatedAt: s.UpdatedAt.UTC().Format(timeFormat),
		}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

// GetSession handles GET /api/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.chat.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeChatError(w, err)
		return
	}
	JSON(w, http.StatusOK, sess)
}

// CloseSession handles DELETE /api/sessions/{id}.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.CloseSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeChatError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostMessage handles POST /api/sessions/{id}/messages.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req postMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	responses, err := h.chat.PostMessage(r.Context(), id, req.Message)
	if err != nil {
		writeChatError(w, err)
		return
	}
	JSON(w, http.StatusOK, chatResponse{SessionID: id, Responses: responses})
}

// HandleChat handles POST /api/chat, which creates the session on first
// use. agent_ids is ignored once the session exists.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionID == "" {
		req.SessionID = identity.SessionIDFromContext(r.Context())
	}
	if !identity.ValidSessionID(req.SessionID) {
		Error(w, http.StatusBadRequest, "a valid session_id is required")
		return
	}

	agents, err := h.profiles.Resolve(req.AgentIDs)
	if err != nil {
		// Unknown agents only matter when the session has to be created.
		if _, serr := h.chat.Session(r.Context(), req.SessionID); serr != nil {
			writeChatError(w, err)
			return
		}
		agents = nil
	}

	responses, err := h.chat.HandleMessage(r.Context(), req.SessionID, req.Message, agents)
	if err != nil {
		writeChatError(w, err)
		return
	}

	slog.Debug("Chat turn served", "session_id", req.SessionID, "client_id", identity.ClientIDFromContext(r.Context()), "responses", len(responses))
	JSON(w, http.StatusOK, chatResponse{SessionID: req.SessionID, Responses: responses})
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"
