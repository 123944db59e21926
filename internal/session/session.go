package session

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("session: not found")
	ErrInvalidInput = errors.New("session: invalid input")
)

// Session ties a live session identifier to the user and the IP it was
// created from. The IP never changes after creation.
type Session struct {
	ID        string
	Username  string
	IP        string
	CreatedAt time.Time
}

// Registry is the persistent session-id → (username, ip) mapping used for
// IP- and account-wide revocation. Deletes are idempotent.
type Registry interface {
	Create(ctx context.Context, s Session) error
	DeleteByID(ctx context.Context, id string) error
	FindByIP(ctx context.Context, ip string) ([]Session, error)
	FindByUsername(ctx context.Context, username string) ([]Session, error)
	DeleteByIP(ctx context.Context, ip string) error
	DeleteByUsername(ctx context.Context, username string) error
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// InTx runs fn against a transactional view of the registry. Finds made
	// through the view lock the rows they return until fn completes.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Registry) error) error
}

// Record is the server-side state behind a client's session cookie.
type Record struct {
	ID        string
	Username  string
	IP        string
	CreatedAt time.Time
}

// Transport holds the session records clients authenticate with. Deleting a
// record makes the session unusable even if the client still holds its id.
type Transport interface {
	Create(ctx context.Context, username, ip string) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	Delete(ctx context.Context, id string) error
}
