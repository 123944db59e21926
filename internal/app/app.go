// Package app assembles the service's stores and event sink from config.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"loginshield.io/internal/auth"
	"loginshield.io/internal/block"
	"loginshield.io/internal/config"
	"loginshield.io/internal/events"
	"loginshield.io/internal/httpapi"
	"loginshield.io/internal/migrate"
	"loginshield.io/internal/obs"
	"loginshield.io/internal/session"
	"loginshield.io/internal/store/pg"
)

// Stores holds the persistent state of the service. DB and Redis are nil in
// memory mode.
type Stores struct {
	DB        *sql.DB
	Redis     *session.RedisTransport
	Users     auth.UserStore
	Blocks    block.Registry
	Sessions  session.Registry
	Transport session.Transport
}

// OpenStores connects Postgres when a database URL is configured and Redis
// when a Redis URL is configured, falling back to in-memory stores for each.
func OpenStores(ctx context.Context, cfg config.Config) (*Stores, error) {
	s := &Stores{}

	if cfg.DatabaseURL != "" {
		db, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		pingCtx, cancel := pg.WithTimeout(ctx)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		if cfg.AutoMigrate {
			if err := migrate.New(db, migrate.Schema()).Up(ctx); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		s.DB = db
		s.Users = auth.NewPGUserStore(db)
		s.Blocks = block.NewPGRegistry(db)
		s.Sessions = session.NewPGRegistry(db)
	} else {
		obs.Logger().Warn().Msg("no database configured, using in-memory registries")
		s.Users = auth.NewMemoryUserStore()
		s.Blocks = block.NewMemoryRegistry()
		s.Sessions = session.NewMemoryRegistry()
	}

	if cfg.RedisURL != "" {
		client, err := session.ConnectRedis(cfg.RedisURL)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		s.Redis = session.NewRedisTransport(client, cfg.Session.IdleTTL, cfg.Session.MaxAge)
		if err := s.Redis.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		s.Transport = s.Redis
	} else {
		obs.Logger().Warn().Msg("no redis configured, using in-memory session transport")
		s.Transport = session.NewMemoryTransport(cfg.Session.IdleTTL, cfg.Session.MaxAge)
	}
	return s, nil
}

// Probe returns the readiness probe for the connected stores.
func (s *Stores) Probe() httpapi.ReadyProbe {
	p := httpapi.ReadyProbe{DB: s.DB}
	if s.Redis != nil {
		p.Redis = s.Redis
	}
	return p
}

// Close releases external connections.
func (s *Stores) Close() error {
	var errs []error
	if s.DB != nil {
		errs = append(errs, s.DB.Close())
	}
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	return errors.Join(errs...)
}

// NewSink picks the broker: Kafka when brokers are configured, else NATS,
// else the log sink.
func NewSink(cfg config.Events) (events.Sink, error) {
	topic := cfg.Topic
	if topic == "" {
		topic = events.Topic
	}
	switch {
	case len(cfg.KafkaBrokers) > 0:
		sink, err := events.NewKafkaSink(cfg.KafkaBrokers, topic)
		if err != nil {
			return nil, err
		}
		obs.Logger().Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", topic).Msg("events: kafka sink")
		return sink, nil
	case cfg.NATSURL != "":
		sink, err := events.NewNATSSink(cfg.NATSURL, topic)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		obs.Logger().Info().Str("url", cfg.NATSURL).Str("subject", topic).Msg("events: nats sink")
		return sink, nil
	default:
		obs.Logger().Warn().Msg("events: no broker configured, logging events")
		return events.LogSink{}, nil
	}
}
