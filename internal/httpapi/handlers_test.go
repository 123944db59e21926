package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"loginshield.io/internal/auth"
	"loginshield.io/internal/block"
	"loginshield.io/internal/enforce"
	"loginshield.io/internal/events"
	"loginshield.io/internal/session"
	"loginshield.io/internal/stream"
)

type nopEmitter struct{}

func (nopEmitter) Emit(events.LoginEvent) {}

type harness struct {
	srv       *httptest.Server
	api       *API
	blocks    *block.MemoryRegistry
	registry  *session.MemoryRegistry
	transport *session.MemoryTransport
	users     *auth.MemoryUserStore
	tokens    *auth.TokenIssuer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil)
}

// newHarnessWith lets a test swap dependencies before the server starts.
func newHarnessWith(t *testing.T, adjust func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		blocks:    block.NewMemoryRegistry(),
		registry:  session.NewMemoryRegistry(),
		transport: session.NewMemoryTransport(0, 0),
		users:     auth.NewMemoryUserStore(),
	}
	tokens, err := auth.NewTokenIssuer("test-secret")
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	h.tokens = tokens

	revoker := session.NewRevoker(h.registry, h.transport)
	coord := enforce.NewCoordinator(h.blocks, auth.NewAuthenticator(h.users), h.transport, revoker, nopEmitter{})
	deps := Deps{
		Login:     coord,
		Gate:      enforce.NewGate(h.blocks, revoker, ""),
		Sessions:  revoker,
		Transport: h.transport,
		Users:     h.users,
		Blocks:    h.blocks,
		Tokens:    tokens,
		Stream:    stream.New(4),
		Version:   "test",
		Settings: Settings{
			CookieMaxAge:   time.Hour,
			RateLimitRPS:   1000,
			RateLimitBurst: 1000,
		},
	}
	if adjust != nil {
		adjust(&deps)
	}
	h.api = New(deps)
	h.srv = httptest.NewServer(h.api.Handler())
	t.Cleanup(func() {
		h.srv.Close()
		h.api.Close()
	})
	return h
}

type call struct {
	method  string
	path    string
	body    any
	ip      string
	session string
	token   string
}

func (h *harness) do(t *testing.T, c call) *http.Response {
	t.Helper()
	var rdr io.Reader
	if c.body != nil {
		buf, err := json.Marshal(c.body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(c.method, h.srv.URL+c.path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.ip != "" {
		req.Header.Set("X-Forwarded-For", c.ip)
	}
	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: enforce.DefaultCookieName, Value: c.session})
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", c.method, c.path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func (h *harness) register(t *testing.T, username, password string) {
	t.Helper()
	resp := h.do(t, call{method: http.MethodPost, path: "/api/auth/register", body: credentials{username, password}, ip: "192.0.2.1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register status=%d", resp.StatusCode)
	}
}

func (h *harness) login(t *testing.T, username, password, ip string) loginResponse {
	t.Helper()
	resp := h.do(t, call{method: http.MethodPost, path: "/api/auth/login", body: credentials{username, password}, ip: ip})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status=%d", resp.StatusCode)
	}
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == enforce.DefaultCookieName {
			cookie = c
		}
	}
	out := decode[loginResponse](t, resp)
	if cookie == nil || cookie.Value != out.SessionID || !cookie.HttpOnly {
		t.Fatalf("session cookie not set correctly: %+v (body %+v)", cookie, out)
	}
	return out
}

func (h *harness) adminToken(t *testing.T) string {
	t.Helper()
	tok, err := h.tokens.Issue("ops", []string{auth.RoleAdmin}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

func TestLoginAndSessionInfo(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "correct-horse")

	out := h.login(t, "alice", "correct-horse", "203.0.113.7")
	if !out.Success || out.Message != enforce.MsgLoginSuccessful || out.IP != "203.0.113.7" || out.Timestamp == 0 {
		t.Fatalf("unexpected login body: %+v", out)
	}

	resp := h.do(t, call{method: http.MethodGet, path: "/api/auth/session-info", ip: "203.0.113.7", session: out.SessionID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session-info status=%d", resp.StatusCode)
	}
	info := decode[sessionInfo](t, resp)
	if !info.Authenticated || info.Username != "alice" || info.SessionID != out.SessionID || info.IP != "203.0.113.7" {
		t.Fatalf("unexpected session info: %+v", info)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "correct-horse")

	resp := h.do(t, call{method: http.MethodPost, path: "/api/auth/login", body: credentials{"alice", "wrong"}, ip: "203.0.113.7"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", resp.StatusCode)
	}
	out := decode[loginResponse](t, resp)
	if out.Success || out.Message != enforce.MsgInvalidCredentials || out.SessionID != "" {
		t.Fatalf("unexpected body: %+v", out)
	}
	if h.transport.Len() != 0 {
		t.Fatalf("no session should exist")
	}
}

func TestLoginRejectsMalformedBody(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, call{method: http.MethodPost, path: "/api/auth/login", body: map[string]any{"user": "x"}, ip: "203.0.113.7"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", resp.StatusCode)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "correct-horse")

	resp := h.do(t, call{method: http.MethodPost, path: "/api/auth/register", body: credentials{"alice", "another-pass"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", resp.StatusCode)
	}
	if body := decode[authResponse](t, resp); body.Success || body.Message != "Username already exists" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestSessionRequiredEndpoints(t *testing.T) {
	h := newHarness(t)
	for _, c := range []call{
		{method: http.MethodGet, path: "/api/auth/session-info"},
		{method: http.MethodPost, path: "/api/auth/logout"},
		{method: http.MethodGet, path: "/api/auth/session-info", session: "not-a-session"},
	} {
		if resp := h.do(t, c); resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s status=%d, want 401", c.method, c.path, resp.StatusCode)
		}
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "correct-horse")
	out := h.login(t, "alice", "correct-horse", "203.0.113.7")

	resp := h.do(t, call{method: http.MethodPost, path: "/api/auth/logout", ip: "203.0.113.7", session: out.SessionID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status=%d", resp.StatusCode)
	}
	if h.transport.Len() != 0 || h.registry.Len() != 0 {
		t.Fatalf("session state left after logout: transport=%d registry=%d", h.transport.Len(), h.registry.Len())
	}
	resp = h.do(t, call{method: http.MethodGet, path: "/api/auth/session-info", ip: "203.0.113.7", session: out.SessionID})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("session-info after logout status=%d, want 401", resp.StatusCode)
	}
}

func TestBlockMidSessionTearsDownSession(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "correct-horse")
	h.register(t, "bob", "battery-staple")
	alice := h.login(t, "alice", "correct-horse", "203.0.113.7")
	bob := h.login(t, "bob", "battery-staple", "198.51.100.2")

	resp := h.do(t, call{
		method: http.MethodPost,
		path:   "/api/admin/blocks",
		body:   blockRequest{IP: "203.0.113.7", Reason: "brute force"},
		ip:     "192.0.2.10",
		token:  h.adminToken(t),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("block status=%d", resp.StatusCode)
	}
	created := decode[blockResponse](t, resp)
	if created.IP != "203.0.113.7" || created.SessionsRevoked != 1 {
		t.Fatalf("unexpected block response: %+v", created)
	}
	if d := time.Until(created.BlockedUntil); d < 14*time.Minute || d > block.DefaultDuration {
		t.Fatalf("default block duration not applied: %v", d)
	}

	resp = h.do(t, call{method: http.MethodGet, path: "/api/auth/session-info", ip: "203.0.113.7", session: alice.SessionID})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("blocked request status=%d, want 403", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	want := `{"success":false,"message":"Access Denied: Your IP has been blocked due to suspicious activity","statusCode":403}`
	if strings.TrimSpace(string(raw)) != want {
		t.Fatalf("denial body=%s", raw)
	}

	// The same session id from an unblocked address is dead too.
	resp = h.do(t, call{method: http.MethodGet, path: "/api/auth/session-info", ip: "192.0.2.99", session: alice.SessionID})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked session status=%d, want 401", resp.StatusCode)
	}

	resp = h.do(t, call{method: http.MethodGet, path: "/api/auth/session-info", ip: "198.51.100.2", session: bob.SessionID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unrelated session status=%d, want 200", resp.StatusCode)
	}
}

func TestGateInvalidatesSessionOfBlockedIP(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "correct-horse")
	out := h.login(t, "alice", "correct-horse", "203.0.113.7")

	// Block written straight to the registry, bypassing revocation.
	if err := h.blocks.Block(context.Background(), block.NewEntry("203.0.113.7", 0, "", time.Now())); err != nil {
		t.Fatalf("block: %v", err)
	}
	resp := h.do(t, call{method: http.MethodGet, path: "/api/auth/session-info", ip: "203.0.113.7", session: out.SessionID})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status=%d, want 403", resp.StatusCode)
	}
	if h.transport.Len() != 0 || h.registry.Len() != 0 {
		t.Fatalf("gate left session state: transport=%d registry=%d", h.transport.Len(), h.registry.Len())
	}
}

func TestLoginFromBlockedIP(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "correct-horse")
	if err := h.blocks.Block(context.Background(), block.NewEntry("203.0.113.7", 0, "", time.Now())); err != nil {
		t.Fatalf("block: %v", err)
	}
	resp := h.do(t, call{method: http.MethodPost, path: "/api/auth/login", body: credentials{"alice", "correct-horse"}, ip: "203.0.113.7"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status=%d, want 403", resp.StatusCode)
	}
	if h.transport.Len() != 0 {
		t.Fatalf("blocked login created a session")
	}
}

func TestAdminRequiresAdminToken(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, call{method: http.MethodGet, path: "/api/admin/blocks"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token status=%d, want 401", resp.StatusCode)
	}
	resp = h.do(t, call{method: http.MethodGet, path: "/api/admin/blocks", token: "garbage"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status=%d, want 401", resp.StatusCode)
	}
	viewer, err := h.tokens.Issue("viewer", []string{"viewer"}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	resp = h.do(t, call{method: http.MethodGet, path: "/api/admin/blocks", token: viewer})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer status=%d, want 403", resp.StatusCode)
	}
}

func TestAdminBlockLifecycle(t *testing.T) {
	h := newHarness(t)
	tok := h.adminToken(t)

	resp := h.do(t, call{method: http.MethodPost, path: "/api/admin/blocks", body: blockRequest{IP: "not-an-ip"}, token: tok})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid ip status=%d, want 400", resp.StatusCode)
	}
	resp = h.do(t, call{method: http.MethodPost, path: "/api/admin/blocks", body: blockRequest{IP: "203.0.113.7", DurationMinutes: 5}, token: tok})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("block status=%d", resp.StatusCode)
	}

	resp = h.do(t, call{method: http.MethodGet, path: "/api/admin/blocks", token: tok})
	list := decode[struct {
		Blocks []block.Entry `json:"blocks"`
	}](t, resp)
	if len(list.Blocks) != 1 || list.Blocks[0].IP != "203.0.113.7" {
		t.Fatalf("unexpected list: %+v", list)
	}

	resp = h.do(t, call{method: http.MethodDelete, path: "/api/admin/blocks/203.0.113.7", token: tok})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unblock status=%d", resp.StatusCode)
	}
	resp = h.do(t, call{method: http.MethodDelete, path: "/api/admin/blocks/203.0.113.7", token: tok})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second unblock status=%d, want 404", resp.StatusCode)
	}
}

type revocationDown struct {
	SessionService
}

func (revocationDown) RevokeSessionsByIP(context.Context, string) (int, error) {
	return 0, errors.New("registry unreachable")
}

func TestAdminBlockReportsFailedRevocation(t *testing.T) {
	h := newHarnessWith(t, func(d *Deps) {
		d.Sessions = revocationDown{d.Sessions}
	})

	resp := h.do(t, call{method: http.MethodPost, path: "/api/admin/blocks", body: blockRequest{IP: "203.0.113.7"}, token: h.adminToken(t)})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("block status=%d, want 201", resp.StatusCode)
	}
	created := decode[blockResponse](t, resp)
	if created.IP != "203.0.113.7" || created.SessionsRevoked != 0 {
		t.Fatalf("unexpected block response: %+v", created)
	}
	if created.Error == "" {
		t.Fatalf("expected revocation error in response")
	}
	if blocked, _ := h.blocks.IsBlocked(context.Background(), "203.0.113.7", time.Now()); !blocked {
		t.Fatalf("block must be active after a revocation failure")
	}
}

func TestCloseEndsEventStreams(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, call{method: http.MethodGet, path: "/api/admin/events/stream", token: h.adminToken(t)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status=%d", resp.StatusCode)
	}

	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(resp.Body)
		done <- err
	}()

	h.api.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream still open after Close")
	}
}

func TestAdminRevokeByUsername(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "correct-horse")
	h.login(t, "alice", "correct-horse", "203.0.113.7")
	h.login(t, "alice", "correct-horse", "198.51.100.2")
	tok := h.adminToken(t)

	resp := h.do(t, call{method: http.MethodPost, path: "/api/admin/sessions/revoke", body: revokeRequest{IP: "1.2.3.4", Username: "alice"}, token: tok})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("both scopes status=%d, want 400", resp.StatusCode)
	}

	resp = h.do(t, call{method: http.MethodPost, path: "/api/admin/sessions/revoke", body: revokeRequest{Username: "alice"}, token: tok})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke status=%d", resp.StatusCode)
	}
	if got := decode[map[string]int](t, resp)["sessionsIdentified"]; got != 2 {
		t.Fatalf("sessionsIdentified=%d, want 2", got)
	}
	if h.transport.Len() != 0 || h.registry.Len() != 0 {
		t.Fatalf("sessions survived revocation")
	}
}

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, call{method: http.MethodGet, path: "/healthz"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status=%d", resp.StatusCode)
	}
	resp = h.do(t, call{method: http.MethodGet, path: "/readyz"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status=%d", resp.StatusCode)
	}
	resp = h.do(t, call{method: http.MethodGet, path: "/api/auth/health"})
	if body := decode[map[string]string](t, resp); body["status"] != "UP" {
		t.Fatalf("unexpected auth health: %v", body)
	}
	resp = h.do(t, call{method: http.MethodGet, path: "/metrics"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status=%d", resp.StatusCode)
	}
}

func TestReadyReportsRedisDown(t *testing.T) {
	probe := ReadyProbe{Redis: pingFunc(func(context.Context) error { return io.ErrUnexpectedEOF })}
	if err := probe.Check(context.Background()); err == nil || err.Error() != "redis unreachable" {
		t.Fatalf("expected redis failure, got %v", err)
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }
