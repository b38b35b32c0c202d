//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/agora-labs/internal/chat"
	"github.com/ashureev/agora-labs/internal/domain"
	"github.com/ashureev/agora-labs/internal/generator"
)

func dialChat(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + sessionID + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func exchange(t *testing.T, conn *websocket.Conn, msg wsMessage) wsMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))

	_, reply, err := conn.Read(ctx)
	require.NoError(t, err)
	var out wsMessage
	require.NoError(t, json.Unmarshal(reply, &out))
	return out
}

func TestChatWebSocket_RunsTurns(t *testing.T) {
	env := newTestEnv(t, generator.Stub{})
	_, err := env.chat.CreateSession(context.Background(), "s1", mustResolve(t, env, "jesus", "peter"))
	require.NoError(t, err)

	srv := httptest.NewServer(env.router)
	defer srv.Close()
	conn := dialChat(t, srv, "s1")

	reply := exchange(t, conn, wsMessage{Type: "message", Content: "Hello"})
	assert.Equal(t, "responses", reply.Type)
	require.Len(t, reply.Responses, 2)
	assert.Equal(t, "jesus", reply.Responses[0].AgentID)
	assert.Equal(t, "peter", reply.Responses[1].AgentID)

	reply = exchange(t, conn, wsMessage{Type: "message", Content: ""})
	assert.Equal(t, "error", reply.Type)
	assert.Contains(t, reply.Error, "empty message")

	reply = exchange(t, conn, wsMessage{Type: "ping"})
	assert.Equal(t, "pong", reply.Type)

	reply = exchange(t, conn, wsMessage{Type: "dance"})
	assert.Equal(t, "error", reply.Type)

	sess, err := env.chat.Session(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, sess.History, 3)
}

type brokenChat struct {
	ChatService
	err error
}

func (b brokenChat) PostMessage(context.Context, string, string) ([]domain.Response, error) {
	return nil, b.err
}

func TestChatWebSocket_MasksInternalErrors(t *testing.T) {
	env := newTestEnv(t, generator.Stub{})
	_, err := env.chat.CreateSession(context.Background(), "s1", mustResolve(t, env, "jesus"))
	require.NoError(t, err)

	h := NewHandler(env.profiles, brokenChat{ChatService: env.chat, err: errors.New("disk I/O error: /var/lib/agora.db")}, nil, []string{"*"}, true)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()
	conn := dialChat(t, srv, "s1")

	reply := exchange(t, conn, wsMessage{Type: "message", Content: "Hello"})
	assert.Equal(t, "error", reply.Type)
	assert.Equal(t, "internal error", reply.Error)
}

func TestChatErrorMessage(t *testing.T) {
	status, text := chatErrorMessage(fmt.Errorf("load session s1: %w", errors.New("database is locked")))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal error", text)

	status, text = chatErrorMessage(fmt.Errorf("%w: s1", chat.ErrSessionNotFound))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "session not found: s1", text)
}

func TestChatWebSocket_UnknownSession(t *testing.T) {
	env := newTestEnv(t, generator.Stub{})
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/sessions/missing/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	h := NewHandler(nil, nil, nil, []string{"https://agora.example"}, false)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "https://agora.example")
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, h.checkOrigin(req))
}

func mustResolve(t *testing.T, env *testEnv, ids ...string) []domain.Profile {
	t.Helper()
	agents, err := env.profiles.Resolve(ids)
	require.NoError(t, err)
	return agents
}
