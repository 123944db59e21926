package session

import (
	"context"
	"fmt"
	"time"

	"loginshield.io/internal/obs"
)

// Revoker keeps the registry and the transport store consistent: it records
// sessions as they are granted and tears them down by IP or username.
type Revoker struct {
	registry  Registry
	transport Transport
	now       func() time.Time
}

// NewRevoker wires the registry to the transport store whose records it destroys.
func NewRevoker(registry Registry, transport Transport) *Revoker {
	return &Revoker{registry: registry, transport: transport, now: time.Now}
}

// RegisterSession records a freshly granted session.
func (r *Revoker) RegisterSession(ctx context.Context, id, username, ip string) error {
	if err := r.registry.Create(ctx, Session{ID: id, Username: username, IP: ip, CreatedAt: r.now().UTC()}); err != nil {
		return fmt.Errorf("register session: %w", err)
	}
	return nil
}

// RemoveSession drops the registry row for id. Removing an unknown id is not an error.
func (r *Revoker) RemoveSession(ctx context.Context, id string) error {
	if err := r.registry.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

// Invalidate destroys the transport record and the registry row for one
// session. Both steps run even if the first fails; the first error is returned.
func (r *Revoker) Invalidate(ctx context.Context, id string) error {
	var firstErr error
	if err := r.transport.Delete(ctx, id); err != nil {
		firstErr = err
	}
	if err := r.RemoveSession(ctx, id); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// RevokeSessionsByIP destroys every session created from ip and returns how
// many were identified.
func (r *Revoker) RevokeSessionsByIP(ctx context.Context, ip string) (int, error) {
	return r.revoke(ctx, "ip", ip,
		func(ctx context.Context, tx Registry) ([]Session, error) { return tx.FindByIP(ctx, ip) },
		func(ctx context.Context, tx Registry) error { return tx.DeleteByIP(ctx, ip) },
	)
}

// RevokeSessionsByUsername destroys every session held by username and
// returns how many were identified.
func (r *Revoker) RevokeSessionsByUsername(ctx context.Context, username string) (int, error) {
	return r.revoke(ctx, "username", username,
		func(ctx context.Context, tx Registry) ([]Session, error) { return tx.FindByUsername(ctx, username) },
		func(ctx context.Context, tx Registry) error { return tx.DeleteByUsername(ctx, username) },
	)
}

func (r *Revoker) revoke(
	ctx context.Context,
	scope, key string,
	find func(context.Context, Registry) ([]Session, error),
	del func(context.Context, Registry) error,
) (int, error) {
	var identified, failed int
	err := r.registry.InTx(ctx, func(ctx context.Context, tx Registry) error {
		sessions, err := find(ctx, tx)
		if err != nil {
			return err
		}
		identified = len(sessions)
		for _, s := range sessions {
			if err := r.transport.Delete(ctx, s.ID); err != nil {
				failed++
				obs.RevocationPartial.Inc()
				obs.Logger().Warn().Err(err).
					Str("scope", scope).
					Str("session_id", s.ID).
					Msg("transport session delete failed during revocation")
			}
		}
		return del(ctx, tx)
	})
	if err != nil {
		return 0, fmt.Errorf("revoke sessions by %s: %w", scope, err)
	}

	obs.SessionsRevoked.WithLabelValues(scope).Add(float64(identified))
	obs.Logger().Info().
		Str("scope", scope).
		Str("key", key).
		Int("identified", identified).
		Int("transport_failures", failed).
		Msg("sessions revoked")
	return identified, nil
}

// SweepExpired removes registry rows older than maxAge. Their transport
// records have already expired, so only the registry needs cleaning.
func (r *Revoker) SweepExpired(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := r.registry.DeleteCreatedBefore(ctx, r.now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return n, nil
}
