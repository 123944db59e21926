package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"loginshield.io/internal/store/pg"
)

// PGRegistry stores sessions in the user_sessions table.
type PGRegistry struct {
	db *sql.DB
	q  pg.Querier
	// lock appends FOR UPDATE to finds; set on transactional views.
	lock bool
}

var _ Registry = (*PGRegistry)(nil)

// NewPGRegistry wraps an open database handle.
func NewPGRegistry(db *sql.DB) *PGRegistry {
	return &PGRegistry{db: db, q: db}
}

func (r *PGRegistry) Create(ctx context.Context, s Session) error {
	if s.ID == "" || s.Username == "" || s.IP == "" {
		return ErrInvalidInput
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	ctx, cancel := pg.WithTimeout(ctx)
	defer cancel()
	_, err := r.q.ExecContext(ctx, `
		insert into user_sessions(session_id, username, ip, created_at)
		values ($1, $2, $3, $4)
		on conflict (session_id) do nothing`,
		s.ID, s.Username, s.IP, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *PGRegistry) DeleteByID(ctx context.Context, id string) error {
	return r.exec(ctx, `delete from user_sessions where session_id = $1`, id)
}

func (r *PGRegistry) FindByIP(ctx context.Context, ip string) ([]Session, error) {
	return r.find(ctx, `where ip = $1`, ip)
}

func (r *PGRegistry) FindByUsername(ctx context.Context, username string) ([]Session, error) {
	return r.find(ctx, `where username = $1`, username)
}

func (r *PGRegistry) DeleteByIP(ctx context.Context, ip string) error {
	return r.exec(ctx, `delete from user_sessions where ip = $1`, ip)
}

func (r *PGRegistry) DeleteByUsername(ctx context.Context, username string) error {
	return r.exec(ctx, `delete from user_sessions where username = $1`, username)
}

func (r *PGRegistry) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := pg.WithTimeout(ctx)
	defer cancel()
	res, err := r.q.ExecContext(ctx, `delete from user_sessions where created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}

// InTx opens a transaction and hands fn a view whose finds lock the selected rows.
func (r *PGRegistry) InTx(ctx context.Context, fn func(ctx context.Context, tx Registry) error) error {
	if r.lock {
		return fn(ctx, r)
	}
	return pg.InTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(ctx, &PGRegistry{db: r.db, q: tx, lock: true})
	})
}

func (r *PGRegistry) exec(ctx context.Context, query string, arg string) error {
	ctx, cancel := pg.WithTimeout(ctx)
	defer cancel()
	if _, err := r.q.ExecContext(ctx, query, arg); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return nil
}

func (r *PGRegistry) find(ctx context.Context, where string, arg string) ([]Session, error) {
	query := `select session_id, username, ip, created_at from user_sessions ` + where + ` order by created_at`
	if r.lock {
		query += ` for update`
	}
	ctx, cancel := pg.WithTimeout(ctx)
	defer cancel()
	rows, err := r.q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("find sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Username, &s.IP, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
