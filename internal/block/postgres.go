package block

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"loginshield.io/internal/store/pg"
)

// PGRegistry stores entries in blocked_ips, one row per IP.
type PGRegistry struct {
	q pg.Querier
}

var _ Registry = (*PGRegistry)(nil)

func NewPGRegistry(q pg.Querier) *PGRegistry {
	return &PGRegistry{q: q}
}

func (r *PGRegistry) IsBlocked(ctx context.Context, ip string, now time.Time) (bool, error) {
	ctx, cancel := pg.WithTimeout(ctx)
	defer cancel()
	var blocked bool
	err := r.q.QueryRowContext(ctx,
		`select exists(select 1 from blocked_ips where ip = $1 and blocked_until > $2)`,
		ip, now.UTC()).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("check blocked ip: %w", err)
	}
	return blocked, nil
}

// Block upserts the entry for e.IP.
func (r *PGRegistry) Block(ctx context.Context, e Entry) error {
	if err := validate(e); err != nil {
		return err
	}
	ctx, cancel := pg.WithTimeout(ctx)
	defer cancel()
	_, err := r.q.ExecContext(ctx, `
		insert into blocked_ips(ip, blocked_at, blocked_until, reason)
		values ($1, $2, $3, $4)
		on conflict (ip) do update
		   set blocked_at = excluded.blocked_at,
		       blocked_until = excluded.blocked_until,
		       reason = excluded.reason`,
		e.IP, e.BlockedAt.UTC(), e.BlockedUntil.UTC(), e.Reason)
	if err != nil {
		return fmt.Errorf("block ip: %w", err)
	}
	return nil
}

func (r *PGRegistry) Unblock(ctx context.Context, ip string) error {
	ctx, cancel := pg.WithTimeout(ctx)
	defer cancel()
	res, err := r.q.ExecContext(ctx, `delete from blocked_ips where ip = $1`, ip)
	if err != nil {
		return fmt.Errorf("unblock ip: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRegistry) Get(ctx context.Context, ip string) (Entry, error) {
	ctx, cancel := pg.WithTimeout(ctx)
	defer cancel()
	var e Entry
	err := r.q.QueryRowContext(ctx,
		`select ip, blocked_at, blocked_until, reason from blocked_ips where ip = $1`, ip).
		Scan(&e.IP, &e.BlockedAt, &e.BlockedUntil, &e.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get blocked ip: %w", err)
	}
	return e, nil
}

func (r *PGRegistry) ListActive(ctx context.Context, now time.Time) ([]Entry, error) {
	ctx, cancel := pg.WithTimeout(ctx)
	defer cancel()
	rows, err := r.q.QueryContext(ctx, `
		select ip, blocked_at, blocked_until, reason
		  from blocked_ips
		 where blocked_until > $1
		 order by blocked_until`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list blocked ips: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.IP, &e.BlockedAt, &e.BlockedUntil, &e.Reason); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PGRegistry) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := pg.WithTimeout(ctx)
	defer cancel()
	res, err := r.q.ExecContext(ctx, `delete from blocked_ips where blocked_until <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge blocked ips: %w", err)
	}
	return res.RowsAffected()
}
