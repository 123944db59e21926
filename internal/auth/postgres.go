package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"loginshield.io/internal/store/pg"
)

var _ UserStore = (*PGUserStore)(nil)

// PGUserStore implements UserStore on the users table.
type PGUserStore struct {
	q pg.Querier
}

func NewPGUserStore(q pg.Querier) *PGUserStore {
	return &PGUserStore{q: q}
}

func (s *PGUserStore) Create(ctx context.Context, u *User) error {
	u.Username = NormalizeUsername(u.Username)
	if u.Username == "" || u.PasswordHash == "" {
		return ErrInvalidInput
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	ctx, cancel := pg.WithTimeout(ctx)
	defer cancel()
	_, err := s.q.ExecContext(ctx,
		`insert into users(username, password_hash, enabled, created_at) values($1,$2,$3,$4)`,
		u.Username, u.PasswordHash, u.Enabled, u.CreatedAt,
	)
	if pg.IsUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PGUserStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	ctx, cancel := pg.WithTimeout(ctx)
	defer cancel()
	row := s.q.QueryRowContext(ctx,
		`select username, password_hash, enabled, created_at from users where username=$1`,
		NormalizeUsername(username),
	)
	var u User
	if err := row.Scan(&u.Username, &u.PasswordHash, &u.Enabled, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

func (s *PGUserStore) SetEnabled(ctx context.Context, username string, enabled bool) error {
	ctx, cancel := pg.WithTimeout(ctx)
	defer cancel()
	res, err := s.q.ExecContext(ctx,
		`update users set enabled=$2 where username=$1`, NormalizeUsername(username), enabled)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
