package enforce

import (
	"context"
	"errors"
	"fmt"

	"loginshield.io/internal/block"
)

// ErrRevocationIncomplete means the block entry was stored but the sessions
// already open from its IP could not all be revoked.
var ErrRevocationIncomplete = errors.New("block stored, session revocation incomplete")

// Blocker persists block entries.
type Blocker interface {
	Block(ctx context.Context, e block.Entry) error
}

// IPRevoker tears down every session created from an IP.
type IPRevoker interface {
	RevokeSessionsByIP(ctx context.Context, ip string) (int, error)
}

// BlockIP records e and then revokes the sessions already open from e.IP, so
// a block takes effect for sessions that predate it. It returns the number of
// sessions identified for revocation. A failure after the entry is stored
// wraps ErrRevocationIncomplete.
func BlockIP(ctx context.Context, blocks Blocker, sessions IPRevoker, e block.Entry) (int, error) {
	if err := blocks.Block(ctx, e); err != nil {
		return 0, err
	}
	n, err := sessions.RevokeSessionsByIP(ctx, e.IP)
	if err != nil {
		return n, fmt.Errorf("%w: revoke sessions of %s: %w", ErrRevocationIncomplete, e.IP, err)
	}
	return n, nil
}
