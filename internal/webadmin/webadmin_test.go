// ABOUTME: Tests for console login, the moderation page, and the relay handler
// ABOUTME: Uses httptest with a real JWT verifier and a fake session resolver

package webadmin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-console/internal/auth"
	"github.com/2389/coven-console/internal/moderation"
	"github.com/2389/coven-console/internal/relay"
)

const (
	testPassword = "hunter2-but-longer"
	testTimeout  = 2 * time.Second
)

type fakeResolver struct {
	session moderation.SessionConfig
	err     error
}

func (f *fakeResolver) Resolve(ctx context.Context) (moderation.SessionConfig, error) {
	return f.session, f.err
}

func testSession() moderation.SessionConfig {
	return moderation.SessionConfig{
		InstanceURL: "https://mod.example",
		Hostname:    "hs.example",
		UserID:      "@bot:hs.example",
		AccessToken: "tok",
		DeviceID:    "DEV1",
	}
}

type testConsole struct {
	admin    *Admin
	mux      *http.ServeMux
	sessions *auth.JWTVerifier
	resolver *fakeResolver
}

func newTestConsole(t *testing.T) *testConsole {
	t.Helper()

	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)

	sessions := auth.NewJWTVerifier([]byte("webadmin-test-secret-0123456789ab"))
	resolver := &fakeResolver{session: testSession()}

	admin, err := New(resolver, sessions, Config{
		InstanceURL:       "https://mod.example",
		PollInterval:      5 * time.Millisecond,
		BotUserID:         "@bot:hs.example",
		RecoveryKey:       "EsTc aaaa bbbb cccc",
		AdminPasswordHash: hash,
		SessionTTL:        time.Hour,
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	admin.RegisterRoutes(mux)

	return &testConsole{admin: admin, mux: mux, sessions: sessions, resolver: resolver}
}

func (c *testConsole) sessionCookie(t *testing.T) *http.Cookie {
	t.Helper()
	token, err := c.sessions.Generate(OperatorName, time.Hour)
	require.NoError(t, err)
	return &http.Cookie{Name: auth.SessionCookieName, Value: token}
}

func (c *testConsole) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	c.mux.ServeHTTP(rec, req)
	return rec
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func loginRequest(password, csrfForm, csrfCookie string) *http.Request {
	form := url.Values{"password": {password}}
	if csrfForm != "" {
		form.Set("csrf_token", csrfForm)
	}
	req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if csrfCookie != "" {
		req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: csrfCookie})
	}
	return req
}

func TestLoginPage_SetsCSRFCookie(t *testing.T) {
	c := newTestConsole(t)

	rec := c.serve(httptest.NewRequest(http.MethodGet, "/admin/login", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	csrf := findCookie(rec, CSRFCookieName)
	require.NotNil(t, csrf)
	assert.Len(t, csrf.Value, 64)
	assert.Contains(t, rec.Body.String(), csrf.Value)
	assert.Contains(t, rec.Body.String(), `name="password"`)
}

func TestLoginPage_RedirectsWhenSignedIn(t *testing.T) {
	c := newTestConsole(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/login", nil)
	req.AddCookie(c.sessionCookie(t))
	rec := c.serve(req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/moderation", rec.Header().Get("Location"))
}

func TestLogin_Success(t *testing.T) {
	c := newTestConsole(t)

	rec := c.serve(loginRequest(testPassword, "csrf123", "csrf123"))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/moderation", rec.Header().Get("Location"))

	session := findCookie(rec, auth.SessionCookieName)
	require.NotNil(t, session)
	operator, err := c.sessions.Verify(session.Value)
	require.NoError(t, err)
	assert.Equal(t, OperatorName, operator)
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name string
		req  *http.Request
		want string
	}{
		{"wrong password", loginRequest("wrong", "csrf123", "csrf123"), "Invalid password"},
		{"empty password", loginRequest("", "csrf123", "csrf123"), "Password required"},
		{"missing csrf cookie", loginRequest(testPassword, "csrf123", ""), "Invalid request"},
		{"mismatched csrf", loginRequest(testPassword, "csrf123", "other"), "Invalid request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConsole(t)
			rec := c.serve(tt.req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			assert.Nil(t, findCookie(rec, auth.SessionCookieName))
		})
	}
}

func TestLogout_ClearsCookies(t *testing.T) {
	c := newTestConsole(t)

	form := url.Values{"csrf_token": {"csrf123"}}
	req := httptest.NewRequest(http.MethodPost, "/admin/logout", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(c.sessionCookie(t))
	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "csrf123"})
	rec := c.serve(req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/login", rec.Header().Get("Location"))

	session := findCookie(rec, auth.SessionCookieName)
	require.NotNil(t, session)
	assert.Less(t, session.MaxAge, 0)
	csrf := findCookie(rec, CSRFCookieName)
	require.NotNil(t, csrf)
	assert.Less(t, csrf.MaxAge, 0)
}

func TestIndex_RedirectsToModeration(t *testing.T) {
	c := newTestConsole(t)

	for _, path := range []string{"/admin", "/admin/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.AddCookie(c.sessionCookie(t))
		rec := c.serve(req)

		assert.Equal(t, http.StatusSeeOther, rec.Code, path)
		assert.Equal(t, "/admin/moderation", rec.Header().Get("Location"), path)
	}
}

func TestModerationPage_RequiresSession(t *testing.T) {
	c := newTestConsole(t)

	rec := c.serve(httptest.NewRequest(http.MethodGet, "/admin/moderation", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/login", rec.Header().Get("Location"))
}

func TestModerationPage_Renders(t *testing.T) {
	c := newTestConsole(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/moderation", nil)
	req.AddCookie(c.sessionCookie(t))
	rec := c.serve(req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "https://mod.example")
	assert.Contains(t, body, "@bot:hs.example")
	assert.Contains(t, body, "EsTc aaaa bbbb cccc")
	assert.Contains(t, body, `id="recovery-copy"`)
	assert.Contains(t, body, `data-relay="/admin/moderation/relay"`)
	assert.Contains(t, body, `data-window-name="moderation"`)
	assert.Contains(t, body, "<h2>Signing in to moderation</h2>")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestModerationPage_NoRecoveryKey(t *testing.T) {
	c := newTestConsole(t)
	c.admin.config.RecoveryKey = ""

	req := httptest.NewRequest(http.MethodGet, "/admin/moderation", nil)
	req.AddCookie(c.sessionCookie(t))
	rec := c.serve(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `id="recovery-copy"`)
	assert.Contains(t, rec.Body.String(), "matrix.recovery_key")
}

// dialRelay connects to the relay as the console page would.
func dialRelay(t *testing.T, c *testConsole) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(c.mux)
	t.Cleanup(srv.Close)

	header := http.Header{}
	header.Set("Cookie", c.sessionCookie(t).String())
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/moderation/relay"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) relay.Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(testTimeout)))
	var frame relay.Frame
	require.NoError(t, ws.ReadJSON(&frame))
	return frame
}

func sendSignal(t *testing.T, ws *websocket.Conn, signal string) {
	t.Helper()
	data, err := json.Marshal(signal)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(relay.Frame{
		Type:      relay.FrameMessage,
		Origin:    "https://mod.example",
		FromPopup: true,
		Data:      data,
	}))
}

func openPopup(t *testing.T, ws *websocket.Conn) relay.Frame {
	t.Helper()
	open := readFrame(t, ws)
	require.Equal(t, relay.FrameOpen, open.Type)
	require.NoError(t, ws.WriteJSON(relay.Frame{Type: relay.FrameOpened, ID: open.ID}))
	return open
}

func TestRelay_SignInSucceeds(t *testing.T) {
	c := newTestConsole(t)
	ws := dialRelay(t, c)

	open := openPopup(t, ws)
	assert.Equal(t, "https://mod.example", open.URL)
	assert.Equal(t, "moderation", open.Name)

	sendSignal(t, ws, "loaded")

	post := readFrame(t, ws)
	require.Equal(t, relay.FramePost, post.Type)
	assert.Equal(t, open.ID, post.ID)
	assert.Equal(t, "https://mod.example", post.TargetOrigin)
	assert.JSONEq(t, `{"hostname":"hs.example","userId":"@bot:hs.example","accessToken":"tok","deviceId":"DEV1"}`, string(post.Data))

	sendSignal(t, ws, "authenticated")

	result := readFrame(t, ws)
	assert.Equal(t, relay.FrameResult, result.Type)
	assert.Equal(t, string(moderation.ResultOK), result.Result)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRelay_LogsEachAttemptOnce(t *testing.T) {
	c := newTestConsole(t)
	logs := &lockedBuffer{}
	c.admin.logger = slog.New(slog.NewTextHandler(logs, nil))
	ws := dialRelay(t, c)

	openPopup(t, ws)
	sendSignal(t, ws, "authenticated")

	result := readFrame(t, ws)
	require.Equal(t, string(moderation.ResultOK), result.Result)

	out := logs.String()
	assert.Equal(t, 1, strings.Count(out, "moderation sign-in started"))
	assert.Equal(t, 1, strings.Count(out, "moderation sign-in finished"))
	assert.Contains(t, out, "session.user_id=@bot:hs.example")
	assert.NotContains(t, out, "=tok")
}

func TestRelay_PopupBlocked(t *testing.T) {
	c := newTestConsole(t)
	ws := dialRelay(t, c)

	open := readFrame(t, ws)
	require.Equal(t, relay.FrameOpen, open.Type)
	require.NoError(t, ws.WriteJSON(relay.Frame{Type: relay.FrameOpenFailed, ID: open.ID}))

	result := readFrame(t, ws)
	assert.Equal(t, relay.FrameResult, result.Type)
	assert.Equal(t, string(moderation.ResultCantOpen), result.Result)
}

func TestRelay_PopupClosedByUser(t *testing.T) {
	c := newTestConsole(t)
	ws := dialRelay(t, c)

	open := openPopup(t, ws)
	require.NoError(t, ws.WriteJSON(relay.Frame{Type: relay.FrameClosed, ID: open.ID}))

	result := readFrame(t, ws)
	assert.Equal(t, relay.FrameResult, result.Type)
	assert.Equal(t, string(moderation.ResultClosed), result.Result)
}

func TestRelay_MissingConfig(t *testing.T) {
	c := newTestConsole(t)
	ws := dialRelay(t, c)

	open := openPopup(t, ws)
	sendSignal(t, ws, "missing-config")

	closeFrame := readFrame(t, ws)
	assert.Equal(t, relay.FrameClose, closeFrame.Type)
	assert.Equal(t, open.ID, closeFrame.ID)

	errFrame := readFrame(t, ws)
	assert.Equal(t, relay.FrameError, errFrame.Type)
	assert.Equal(t, moderation.ErrMissingConfig.Error(), errFrame.Error)
}

func TestRelay_InvalidMessage(t *testing.T) {
	c := newTestConsole(t)
	ws := dialRelay(t, c)

	openPopup(t, ws)
	sendSignal(t, ws, "logout")

	errFrame := readFrame(t, ws)
	assert.Equal(t, relay.FrameError, errFrame.Type)
	assert.Contains(t, errFrame.Error, "invalid message from moderation popup")
}

func TestRelay_ResolverError(t *testing.T) {
	c := newTestConsole(t)
	c.resolver.err = errors.New("homeserver rejected access token")
	ws := dialRelay(t, c)

	errFrame := readFrame(t, ws)
	assert.Equal(t, relay.FrameError, errFrame.Type)
	assert.Equal(t, "homeserver rejected access token", errFrame.Error)
}

func TestRelay_RequiresSession(t *testing.T) {
	c := newTestConsole(t)
	srv := httptest.NewServer(c.mux)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/moderation/relay"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
