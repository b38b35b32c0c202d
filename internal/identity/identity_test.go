package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, req *http.Request) (clientID, sessionID string, rec *httptest.ResponseRecorder) {
	t.Helper()
	rec = httptest.NewRecorder()
	Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID = ClientIDFromContext(r.Context())
		sessionID = SessionIDFromContext(r.Context())
	})).ServeHTTP(rec, req)
	return clientID, sessionID, rec
}

func TestMiddleware_IssuesClientCookie(t *testing.T) {
	clientID, _, rec := serve(t, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Regexp(t, `^anon_[a-f0-9]{32}$`, clientID)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, ClientCookieName, cookies[0].Name)
	assert.Equal(t, clientID, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestMiddleware_ReusesValidCookie(t *testing.T) {
	existing := "anon_0123456789abcdef0123456789abcdef"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: ClientCookieName, Value: existing})

	clientID, _, _ := serve(t, req)
	assert.Equal(t, existing, clientID)
}

func TestMiddleware_ReplacesForgedCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: ClientCookieName, Value: "admin"})

	clientID, _, _ := serve(t, req)
	assert.NotEqual(t, "admin", clientID)
	assert.Regexp(t, `^anon_[a-f0-9]{32}$`, clientID)
}

func TestMiddleware_SessionHint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?session_id=from-query", nil)
	_, sid, _ := serve(t, req)
	assert.Equal(t, "from-query", sid)

	req = httptest.NewRequest(http.MethodGet, "/?session_id=from-query", nil)
	req.Header.Set(SessionHeaderName, "from-header")
	_, sid, _ = serve(t, req)
	assert.Equal(t, "from-header", sid)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SessionHeaderName, "bad id with spaces")
	_, sid, _ = serve(t, req)
	assert.Empty(t, sid)
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	assert.Equal(t, "203.0.113.7", IPFromRequest(req))

	req.RemoteAddr = "not-a-hostport"
	assert.Equal(t, "not-a-hostport", IPFromRequest(req))
}
