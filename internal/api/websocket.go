package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/agora-labs/internal/domain"
	"github.com/ashureev/agora-labs/internal/identity"
)

const wsWriteTimeout = 10 * time.Second

// wsMessage is the envelope for every websocket frame in both directions.
type wsMessage struct {
	Type      string            `json:"type"`
	Content   string            `json:"content,omitempty"`
	Responses []domain.Response `json:"responses,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// ServeChatWebSocket handles GET /api/sessions/{id}/ws. Each
// {"type":"message"} frame runs one turn on the session.
func (h *Handler) ServeChatWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	clientID := identity.ClientIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "session_id", sessionID, "client_id", clientID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	if _, err := h.chat.Session(r.Context(), sessionID); err != nil {
		writeChatError(w, err)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	ws.SetReadLimit(maxRequestBodySize)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.chatLoop(r.Context(), ws, sessionID)
	slog.Info("Chat websocket ended", "session_id", sessionID)
}

func (h *Handler) chatLoop(ctx context.Context, ws *websocket.Conn, sessionID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := h.writeJSON(ctx, ws, wsMessage{Type: "error", Error: "invalid message"}); err != nil {
				return
			}
			continue
		}

		var reply wsMessage
		switch msg.Type {
		case "message":
			responses, err := h.chat.PostMessage(ctx, sessionID, msg.Content)
			if err != nil {
				_, text := chatErrorMessage(err)
				reply = wsMessage{Type: "error", Error: text}
			} else {
				reply = wsMessage{Type: "responses", Responses: responses}
			}
		case "ping":
			reply = wsMessage{Type: "pong"}
		default:
			reply = wsMessage{Type: "error", Error: "unknown message type " + msg.Type}
		}

		if err := h.writeJSON(ctx, ws, reply); err != nil {
			slog.Debug("Failed to write websocket reply", "error", err, "session_id", sessionID)
			return
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func (h *Handler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
