package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// UserStore persists login accounts keyed by username.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	FindByUsername(ctx context.Context, username string) (*User, error)
	SetEnabled(ctx context.Context, username string, enabled bool) error
}

// NormalizeUsername trims surrounding space. Usernames are case-sensitive.
func NormalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

// MemoryUserStore is the dev-mode UserStore.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]User
}

var _ UserStore = (*MemoryUserStore)(nil)

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]User)}
}

func (s *MemoryUserStore) Create(_ context.Context, u *User) error {
	u.Username = NormalizeUsername(u.Username)
	if u.Username == "" || u.PasswordHash == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Username]; ok {
		return ErrAlreadyExists
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.Username] = *u
	return nil
}

func (s *MemoryUserStore) FindByUsername(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[NormalizeUsername(username)]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *MemoryUserStore) SetEnabled(_ context.Context, username string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[NormalizeUsername(username)]
	if !ok {
		return ErrNotFound
	}
	u.Enabled = enabled
	s.users[u.Username] = u
	return nil
}
