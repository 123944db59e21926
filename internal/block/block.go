// Package block records which client IPs are currently barred from the
// service. Entries are written by the admin surface and the CLI and read by
// the request gate and the login coordinator.
package block

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// DefaultDuration is applied when a block request names no duration.
const DefaultDuration = 15 * time.Minute

var (
	ErrNotFound   = errors.New("block: not found")
	ErrInvalidIP  = errors.New("block: invalid ip")
	ErrInvalidTTL = errors.New("block: blocked_until must be after blocked_at")
)

// Entry is one blocked IP. It blocks while now < BlockedUntil; expired
// entries are inert until purged.
type Entry struct {
	IP           string    `json:"ip"`
	BlockedAt    time.Time `json:"blockedAt"`
	BlockedUntil time.Time `json:"blockedUntil"`
	Reason       string    `json:"reason,omitempty"`
}

// Active reports whether the entry blocks at now.
func (e Entry) Active(now time.Time) bool {
	return now.Before(e.BlockedUntil)
}

// Registry is the store of blocked IPs. IsBlocked errors must be treated as
// "blocked" by callers.
type Registry interface {
	IsBlocked(ctx context.Context, ip string, now time.Time) (bool, error)
	Block(ctx context.Context, e Entry) error
	Unblock(ctx context.Context, ip string) error
	Get(ctx context.Context, ip string) (Entry, error)
	ListActive(ctx context.Context, now time.Time) ([]Entry, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// NewEntry builds an entry blocking ip for d from now. A non-positive d
// selects DefaultDuration.
func NewEntry(ip string, d time.Duration, reason string, now time.Time) Entry {
	if d <= 0 {
		d = DefaultDuration
	}
	now = now.UTC()
	return Entry{IP: strings.TrimSpace(ip), BlockedAt: now, BlockedUntil: now.Add(d), Reason: reason}
}

func validate(e Entry) error {
	if net.ParseIP(e.IP) == nil {
		return ErrInvalidIP
	}
	if !e.BlockedUntil.After(e.BlockedAt) {
		return ErrInvalidTTL
	}
	return nil
}
