package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"loginshield.io/internal/ids"
)

const sessionKeyPrefix = "auth:session:"

// ConnectRedis builds a client from a redis:// URL or a bare host:port.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisTransport keeps session records as hashes under auth:session:<id>.
// The key TTL is the idle timeout and is pushed forward on every Get; records
// older than maxAge are treated as gone regardless of activity.
type RedisTransport struct {
	client  *redis.Client
	idleTTL time.Duration
	maxAge  time.Duration
	now     func() time.Time
}

var _ Transport = (*RedisTransport)(nil)

// NewRedisTransport creates a transport store. A zero maxAge disables the
// absolute lifetime check.
func NewRedisTransport(client *redis.Client, idleTTL, maxAge time.Duration) *RedisTransport {
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	return &RedisTransport{client: client, idleTTL: idleTTL, maxAge: maxAge, now: time.Now}
}

func (t *RedisTransport) Create(ctx context.Context, username, ip string) (Record, error) {
	if username == "" || ip == "" {
		return Record{}, ErrInvalidInput
	}
	rec := Record{ID: ids.NewSessionID(), Username: username, IP: ip, CreatedAt: t.now().UTC()}
	key := sessionKeyPrefix + rec.ID

	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"username":   rec.Username,
		"ip":         rec.IP,
		"created_at": rec.CreatedAt.UnixMilli(),
	})
	pipe.Expire(ctx, key, t.idleTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return Record{}, fmt.Errorf("store session: %w", err)
	}
	return rec, nil
}

func (t *RedisTransport) Get(ctx context.Context, id string) (Record, error) {
	if id == "" {
		return Record{}, ErrNotFound
	}
	key := sessionKeyPrefix + id
	fields, err := t.client.HGetAll(ctx, key).Result()
	if err != nil {
		return Record{}, fmt.Errorf("load session: %w", err)
	}
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}
	ms, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	rec := Record{
		ID:        id,
		Username:  fields["username"],
		IP:        fields["ip"],
		CreatedAt: time.UnixMilli(ms).UTC(),
	}
	if t.maxAge > 0 && t.now().Sub(rec.CreatedAt) >= t.maxAge {
		_ = t.client.Del(ctx, key).Err()
		return Record{}, ErrNotFound
	}
	if err := t.client.Expire(ctx, key, t.idleTTL).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return Record{}, fmt.Errorf("touch session: %w", err)
	}
	return rec, nil
}

func (t *RedisTransport) Delete(ctx context.Context, id string) error {
	if err := t.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable; used by the readiness probe.
func (t *RedisTransport) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (t *RedisTransport) Close() error {
	return t.client.Close()
}
