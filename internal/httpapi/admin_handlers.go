package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"loginshield.io/internal/audit"
	"loginshield.io/internal/block"
	"loginshield.io/internal/enforce"
	"loginshield.io/internal/obs"
)

type blockRequest struct {
	IP              string `json:"ip"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

type blockResponse struct {
	IP              string    `json:"ip"`
	BlockedUntil    time.Time `json:"blockedUntil"`
	SessionsRevoked int       `json:"sessionsRevoked"`
	Error           string    `json:"error,omitempty"`
}

type revokeRequest struct {
	IP       string `json:"ip,omitempty"`
	Username string `json:"username,omitempty"`
}

func (a *API) handleCreateBlock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.DurationMinutes < 0 {
		writeError(w, r, http.StatusBadRequest, "durationMinutes must not be negative")
		return
	}

	entry := block.NewEntry(req.IP, time.Duration(req.DurationMinutes)*time.Minute, strings.TrimSpace(req.Reason), a.now())
	n, err := enforce.BlockIP(r.Context(), a.deps.Blocks, a.deps.Sessions, entry)
	if err != nil {
		switch {
		case errors.Is(err, enforce.ErrRevocationIncomplete):
			// The block is active; report it and surface the revocation failure.
			obs.Logger().Error().Err(err).Str("ip", entry.IP).Msg("revoke sessions of blocked ip")
			_ = audit.LogEvent(r.Context(), "admin.block.created", map[string]any{
				"ip":               entry.IP,
				"blocked_until":    entry.BlockedUntil.Format(time.RFC3339),
				"reason":           entry.Reason,
				"sessions_revoked": n,
				"revocation_error": "session store unavailable",
			})
			writeJSON(w, http.StatusCreated, blockResponse{
				IP:              entry.IP,
				BlockedUntil:    entry.BlockedUntil,
				SessionsRevoked: n,
				Error:           "session revocation failed; existing sessions may remain until the gate sees them",
			})
		case errors.Is(err, block.ErrInvalidIP):
			writeError(w, r, http.StatusBadRequest, "invalid ip")
		default:
			obs.Logger().Error().Err(err).Str("ip", entry.IP).Msg("block ip")
			writeError(w, r, http.StatusServiceUnavailable, "block store unavailable")
		}
		return
	}

	_ = audit.LogEvent(r.Context(), "admin.block.created", map[string]any{
		"ip":               entry.IP,
		"blocked_until":    entry.BlockedUntil.Format(time.RFC3339),
		"reason":           entry.Reason,
		"sessions_revoked": n,
	})
	writeJSON(w, http.StatusCreated, blockResponse{
		IP:              entry.IP,
		BlockedUntil:    entry.BlockedUntil,
		SessionsRevoked: n,
	})
}

func (a *API) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	entries, err := a.deps.Blocks.ListActive(r.Context(), a.now())
	if err != nil {
		obs.Logger().Error().Err(err).Msg("list blocks")
		writeError(w, r, http.StatusServiceUnavailable, "block store unavailable")
		return
	}
	if entries == nil {
		entries = []block.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": entries})
}

func (a *API) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	ip := strings.TrimSpace(r.PathValue("ip"))
	err := a.deps.Blocks.Unblock(r.Context(), ip)
	switch {
	case errors.Is(err, block.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "ip is not blocked")
		return
	case errors.Is(err, block.ErrInvalidIP):
		writeError(w, r, http.StatusBadRequest, "invalid ip")
		return
	case err != nil:
		obs.Logger().Error().Err(err).Str("ip", ip).Msg("unblock ip")
		writeError(w, r, http.StatusServiceUnavailable, "block store unavailable")
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.block.deleted", map[string]any{"ip": ip})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRevokeSessions(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ip := strings.TrimSpace(req.IP)
	username := strings.TrimSpace(req.Username)
	if (ip == "") == (username == "") {
		writeError(w, r, http.StatusBadRequest, "exactly one of ip or username is required")
		return
	}

	var (
		n     int
		err   error
		scope = "ip"
	)
	if ip != "" {
		n, err = a.deps.Sessions.RevokeSessionsByIP(r.Context(), ip)
	} else {
		scope = "username"
		n, err = a.deps.Sessions.RevokeSessionsByUsername(r.Context(), username)
	}
	if err != nil {
		obs.Logger().Error().Err(err).Str("scope", scope).Msg("revoke sessions")
		writeError(w, r, http.StatusServiceUnavailable, "session registry unavailable")
		return
	}

	_ = audit.LogEvent(r.Context(), "admin.sessions.revoked", map[string]any{
		"scope":               scope,
		"ip":                  ip,
		"username":            username,
		"sessions_identified": n,
	})
	writeJSON(w, http.StatusOK, map[string]int{"sessionsIdentified": n})
}
