package httpapi

import (
	"errors"
	"net/http"

	"loginshield.io/internal/audit"
	"loginshield.io/internal/auth"
	"loginshield.io/internal/enforce"
	"loginshield.io/internal/obs"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	IP        string `json:"ip"`
	Timestamp int64  `json:"timestamp"`
	SessionID string `json:"sessionId,omitempty"`
}

type authResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type sessionInfo struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username"`
	SessionID     string `json:"sessionId"`
	IP            string `json:"ip"`
	Timestamp     int64  `json:"timestamp"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := enforce.ClientIP(r)

	var req credentials
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, loginResponse{
			Message:   "Invalid request body",
			IP:        ip,
			Timestamp: millis(a.now()),
		})
		return
	}

	out := a.deps.Login.Login(r.Context(), enforce.LoginAttempt{
		Username: req.Username,
		Password: req.Password,
		IP:       ip,
	})
	if out.Success {
		enforce.SetSessionCookie(w, r, a.settings.CookieName, out.SessionID, int(a.settings.CookieMaxAge.Seconds()))
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, out.StatusCode, loginResponse{
		Success:   out.Success,
		Message:   out.Message,
		IP:        ip,
		Timestamp: millis(a.now()),
		SessionID: out.SessionID,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	if err := a.deps.Sessions.Invalidate(r.Context(), id.SessionID); err != nil {
		obs.Logger().Error().Err(err).Str("user", id.Username).Msg("logout incomplete")
		writeJSON(w, http.StatusServiceUnavailable, authResponse{
			Message:   enforce.MsgUnavailable,
			Timestamp: millis(a.now()),
		})
		return
	}
	enforce.ClearSessionCookie(w, a.settings.CookieName)
	writeJSON(w, http.StatusOK, authResponse{
		Success:   true,
		Message:   "Logged out successfully",
		Timestamp: millis(a.now()),
	})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, authResponse{Message: "Invalid request body", Timestamp: millis(a.now())})
		return
	}

	u, err := auth.Register(r.Context(), a.deps.Users, req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrAlreadyExists):
		writeJSON(w, http.StatusBadRequest, authResponse{Message: "Username already exists", Timestamp: millis(a.now())})
		return
	case errors.Is(err, auth.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, authResponse{
			Message:   "Username is required and password must be at least 8 characters",
			Timestamp: millis(a.now()),
		})
		return
	case err != nil:
		obs.Logger().Error().Err(err).Msg("register user")
		writeJSON(w, http.StatusServiceUnavailable, authResponse{Message: enforce.MsgUnavailable, Timestamp: millis(a.now())})
		return
	}

	_ = audit.LogEvent(r.Context(), "user.registered", map[string]any{
		"username": u.Username,
		"ip":       enforce.ClientIP(r),
	})
	writeJSON(w, http.StatusOK, authResponse{
		Success:   true,
		Message:   "User registered successfully",
		Timestamp: millis(a.now()),
	})
}

func (a *API) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, sessionInfo{
		Authenticated: true,
		Username:      id.Username,
		SessionID:     id.SessionID,
		IP:            enforce.ClientIP(r),
		Timestamp:     millis(a.now()),
	})
}

func (a *API) handleAuthHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":         "UP",
		"service":        "Login Enforcement API",
		"authentication": "Session-based with IP blocking",
	})
}
