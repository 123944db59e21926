package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"loginshield.io/internal/audit"
	"loginshield.io/internal/auth"
	"loginshield.io/internal/block"
	"loginshield.io/internal/enforce"
	"loginshield.io/internal/obs"
	"loginshield.io/internal/session"
	"loginshield.io/internal/stream"
)

// Pinger is anything the readiness probe can ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the external stores the service depends on. Nil members
// (in-memory mode) are skipped.
type ReadyProbe struct {
	DB    *sql.DB
	Redis Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return errors.New("database unreachable")
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx); err != nil {
			return errors.New("redis unreachable")
		}
	}
	return nil
}

// LoginService makes login decisions.
type LoginService interface {
	Login(ctx context.Context, attempt enforce.LoginAttempt) enforce.LoginOutcome
}

// SessionService tears sessions down.
type SessionService interface {
	Invalidate(ctx context.Context, id string) error
	RevokeSessionsByIP(ctx context.Context, ip string) (int, error)
	RevokeSessionsByUsername(ctx context.Context, username string) (int, error)
}

// Settings are the HTTP-facing knobs from config.
type Settings struct {
	CookieName     string
	CookieMaxAge   time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
	AllowedOrigins []string
}

// Deps are the collaborators the API is composed from.
type Deps struct {
	Login     LoginService
	Gate      *enforce.Gate
	Sessions  SessionService
	Transport session.Transport
	Users     auth.UserStore
	Blocks    block.Registry
	Tokens    *auth.TokenIssuer
	Stream    *stream.Hub
	Ready     ReadyProbe
	Version   string
	Settings  Settings
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	deps     Deps
	settings Settings
	limiter  *RateLimiter
	now      func() time.Time

	closing   chan struct{}
	closeOnce sync.Once
}

func New(deps Deps) *API {
	s := deps.Settings
	if s.CookieName == "" {
		s.CookieName = enforce.DefaultCookieName
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = 1 << 20
	}
	if s.RateLimitRPS <= 0 {
		s.RateLimitRPS = 5
	}
	if s.RateLimitBurst <= 0 {
		s.RateLimitBurst = 10
	}
	a := &API{
		mux:      http.NewServeMux(),
		deps:     deps,
		settings: s,
		limiter:  NewRateLimiter(s.RateLimitRPS, s.RateLimitBurst),
		now:      time.Now,
		closing:  make(chan struct{}),
	}
	a.routes()
	return a
}

func (a *API) routes() {
	limited := func(h http.HandlerFunc) http.Handler { return a.limiter.Wrap(h) }

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.Handle("POST /api/auth/login", limited(a.handleLogin))
	a.mux.Handle("POST /api/auth/register", limited(a.handleRegister))
	a.mux.HandleFunc("POST /api/auth/logout", a.requireSession(a.handleLogout))
	a.mux.HandleFunc("GET /api/auth/session-info", a.requireSession(a.handleSessionInfo))
	a.mux.HandleFunc("GET /api/auth/health", a.handleAuthHealth)

	a.mux.HandleFunc("POST /api/admin/blocks", a.requireAdmin(a.handleCreateBlock))
	a.mux.HandleFunc("GET /api/admin/blocks", a.requireAdmin(a.handleListBlocks))
	a.mux.HandleFunc("DELETE /api/admin/blocks/{ip}", a.requireAdmin(a.handleDeleteBlock))
	a.mux.HandleFunc("POST /api/admin/sessions/revoke", a.requireAdmin(a.handleRevokeSessions))
	a.mux.HandleFunc("GET /api/admin/events/stream", a.requireAdmin(a.Stream))
}

// Handler returns the full middleware chain. The request gate runs before
// session authentication so a blocked IP never gets an identity attached.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withSession(h)
	h = MaxBodyBytes(h, a.settings.MaxBodyBytes)
	if a.deps.Gate != nil {
		h = a.deps.Gate.Wrap(h)
	}
	h = CORS(h, a.settings.AllowedOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	h = obs.Instrument(h)
	return obs.Trace(h)
}

// Close stops background work owned by the API and ends open event
// streams. Safe to call more than once.
func (a *API) Close() {
	a.closeOnce.Do(func() {
		close(a.closing)
		a.limiter.Stop()
	})
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": obs.ServiceName,
		"version": a.deps.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"success": false,
		"error":   msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func millis(t time.Time) int64 { return t.UnixMilli() }
