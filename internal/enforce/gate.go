package enforce

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"loginshield.io/internal/obs"
)

// BlockChecker answers whether an IP is blocked at a point in time.
type BlockChecker interface {
	IsBlocked(ctx context.Context, ip string, now time.Time) (bool, error)
}

// SessionInvalidator destroys one session everywhere it is recorded.
type SessionInvalidator interface {
	Invalidate(ctx context.Context, id string) error
}

// Gate rejects every request from a blocked IP before it reaches
// authentication, tearing down any session the request carries.
type Gate struct {
	blocks     BlockChecker
	sessions   SessionInvalidator
	cookieName string
	now        func() time.Time
}

func NewGate(blocks BlockChecker, sessions SessionInvalidator, cookieName string) *Gate {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Gate{blocks: blocks, sessions: sessions, cookieName: cookieName, now: time.Now}
}

// Wrap returns next guarded by the gate.
func (g *Gate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		blocked, err := g.blocks.IsBlocked(r.Context(), ip, g.now())
		if err != nil {
			obs.GateDenials.WithLabelValues("unavailable").Inc()
			obs.Logger().Error().Err(fmt.Errorf("%w: %v", ErrUnavailable, err)).Str("ip", ip).Msg("block check failed, denying request")
			writeDenial(w, http.StatusServiceUnavailable, MsgUnavailable)
			return
		}
		if !blocked {
			next.ServeHTTP(w, r)
			return
		}

		obs.GateDenials.WithLabelValues("blocked").Inc()
		if id := SessionID(r, g.cookieName); id != "" {
			if err := g.sessions.Invalidate(r.Context(), id); err != nil {
				obs.Logger().Warn().Err(err).Str("ip", ip).Msg("session teardown for blocked ip incomplete")
			} else {
				obs.Logger().Info().Str("ip", ip).Msg("session of blocked ip invalidated")
			}
			ClearSessionCookie(w, g.cookieName)
		}
		writeDenial(w, http.StatusForbidden, MsgBlocked)
	})
}
