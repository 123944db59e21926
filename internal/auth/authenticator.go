package auth

import (
	"context"
	"errors"
	"fmt"
)

// Authenticator verifies username/password pairs against a UserStore.
type Authenticator struct {
	users UserStore
	// dummyHash is compared against when the user does not exist so unknown
	// and known usernames cost the same.
	dummyHash string
}

func NewAuthenticator(users UserStore) *Authenticator {
	h, _ := HashPassword("loginshield-placeholder")
	return &Authenticator{users: users, dummyHash: h}
}

// Authenticate returns the account on success, ErrInvalidCredentials for an
// unknown user, wrong password or disabled account, and an error wrapping
// ErrUnavailable when the store cannot be consulted.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*User, error) {
	username = NormalizeUsername(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	u, err := a.users.FindByUsername(ctx, username)
	switch {
	case errors.Is(err, ErrNotFound):
		_ = VerifyPassword(a.dummyHash, password)
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.Enabled {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// Register creates an enabled account with a bcrypt hash of password.
func Register(ctx context.Context, users UserStore, username, password string) (*User, error) {
	username = NormalizeUsername(username)
	if username == "" || len(password) < MinPasswordLength {
		return nil, ErrInvalidInput
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &User{Username: username, PasswordHash: hash, Enabled: true}
	if err := users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
