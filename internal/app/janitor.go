package app

import (
	"context"
	"time"

	"loginshield.io/internal/block"
	"loginshield.io/internal/obs"
)

// SessionSweeper drops registry rows for sessions past their lifetime.
type SessionSweeper interface {
	SweepExpired(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Janitor purges expired blocks and sweeps stale session rows on a schedule.
type Janitor struct {
	Blocks        block.Registry
	Sessions      SessionSweeper
	PurgeInterval time.Duration
	SweepInterval time.Duration
	SessionMaxAge time.Duration

	now func() time.Time
}

// Run blocks until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	purge := time.NewTicker(j.PurgeInterval)
	defer purge.Stop()
	sweep := time.NewTicker(j.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-purge.C:
			j.PurgeBlocks(ctx)
		case <-sweep.C:
			j.SweepSessions(ctx)
		}
	}
}

// PurgeBlocks removes block entries that have run out.
func (j *Janitor) PurgeBlocks(ctx context.Context) int64 {
	n, err := j.Blocks.PurgeExpired(ctx, j.clock())
	if err != nil {
		obs.Logger().Warn().Err(err).Msg("purge expired blocks")
		return 0
	}
	if n > 0 {
		obs.Logger().Info().Int64("purged", n).Msg("expired blocks purged")
	}
	return n
}

// SweepSessions removes registry rows older than the session max age.
func (j *Janitor) SweepSessions(ctx context.Context) int64 {
	n, err := j.Sessions.SweepExpired(ctx, j.SessionMaxAge)
	if err != nil {
		obs.Logger().Warn().Err(err).Msg("sweep expired sessions")
		return 0
	}
	if n > 0 {
		obs.Logger().Info().Int64("swept", n).Msg("stale sessions swept")
	}
	return n
}

func (j *Janitor) clock() time.Time {
	if j.now != nil {
		return j.now()
	}
	return time.Now()
}
