package enforce

import (
	"net/http"
	"strings"
)

const (
	// DefaultCookieName carries the session id.
	DefaultCookieName = "SESSION"
	// TokenHeader is accepted when no cookie is present (non-browser clients).
	TokenHeader = "X-Auth-Token"
)

// SessionID returns the session id attached to r, if any.
func SessionID(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v
		}
	}
	return strings.TrimSpace(r.Header.Get(TokenHeader))
}

// SetSessionCookie attaches id to the response.
func SetSessionCookie(w http.ResponseWriter, r *http.Request, cookieName, id string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie on the client.
func ClearSessionCookie(w http.ResponseWriter, cookieName string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
