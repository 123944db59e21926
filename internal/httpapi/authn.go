package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"loginshield.io/internal/auth"
	"loginshield.io/internal/enforce"
	"loginshield.io/internal/obs"
	"loginshield.io/internal/session"
)

// withSession attaches the identity of a live session to the request context.
// Requests without one pass through unauthenticated.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := enforce.SessionID(r, a.settings.CookieName)
		if id == "" || a.deps.Transport == nil {
			next.ServeHTTP(w, r)
			return
		}
		rec, err := a.deps.Transport.Get(r.Context(), id)
		if err != nil {
			if !errors.Is(err, session.ErrNotFound) {
				obs.Logger().Warn().Err(err).Msg("session lookup failed")
			}
			next.ServeHTTP(w, r)
			return
		}
		ctx := auth.ContextWithIdentity(r.Context(), auth.Identity{
			Username:  rec.Username,
			SessionID: rec.ID,
			IP:        rec.IP,
			IssuedAt:  rec.CreatedAt,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.IdentityFromContext(r.Context()); !ok {
			writeJSON(w, http.StatusUnauthorized, authResponse{
				Success:   false,
				Message:   "Not authenticated",
				Timestamp: millis(a.now()),
			})
			return
		}
		next(w, r)
	}
}

// requireAdmin accepts only bearer tokens carrying the admin role.
func (a *API) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.deps.Tokens == nil {
			writeError(w, r, http.StatusServiceUnavailable, "admin api disabled")
			return
		}
		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="loginshield"`)
			writeError(w, r, http.StatusUnauthorized, "authorization required")
			return
		}
		claims, err := a.deps.Tokens.Verify(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		if !claims.HasRole(auth.RoleAdmin) {
			writeError(w, r, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r.WithContext(auth.ContextWithClaims(r.Context(), claims)))
	}
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
