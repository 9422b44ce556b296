package cache

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hookline/intake/internal/observability"
)

// compile-time interface check
var _ TokenCache = (*Redis)(nil)

// Redis is the identifier cache backed by a Redis instance.
type Redis struct {
	client *goredis.Client
	ttl    time.Duration
}

// Options configures the Redis-backed identifier cache.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedis connects the identifier cache to Redis.
func NewRedis(opts Options) *Redis {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &Redis{client: client, ttl: ttl}
}

// Ping checks Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// GetWebhookID returns the cached webhook id for a token, ErrMiss when absent.
func (r *Redis) GetWebhookID(ctx context.Context, token string) (string, error) {
	ctx, span := observability.StartCacheSpan(ctx, "get")
	defer span.End()

	value, err := r.client.Get(ctx, Key(token)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", ErrMiss
		}
		span.RecordError(err)
		return "", err
	}
	return value, nil
}

// SetWebhookID stores a token resolution with the configured TTL.
func (r *Redis) SetWebhookID(ctx context.Context, token, webhookID string) error {
	ctx, span := observability.StartCacheSpan(ctx, "set")
	defer span.End()

	err := r.client.Set(ctx, Key(token), webhookID, r.ttl).Err()
	span.RecordError(err)
	return err
}
