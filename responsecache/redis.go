package responsecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tmc/langchaingo/llms"
)

const redisKeyPrefix = "llm:"

// ParseRedisOptions accepts a redis:// or rediss:// URL, or the https:// endpoint of a
// hosted Redis such as Upstash, in which case token is the password for TLS on port 6379.
func ParseRedisOptions(rawURL, token string) (*redis.Options, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("responsecache: invalid redis URL: %w", err)
	}
	if u.Scheme == "https" {
		u.Scheme = "rediss"
		u.Host = fmt.Sprintf("%s:6379", u.Hostname())
		u.Path = ""
		if token != "" {
			u.User = url.UserPassword("default", token)
		}
	}
	opts, err := redis.ParseURL(u.String())
	if err != nil {
		return nil, fmt.Errorf("responsecache: invalid redis URL: %w", err)
	}
	if token != "" {
		opts.Password = token
	}
	return opts, nil
}

func NewRedis(log *slog.Logger, client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{
		log:    log,
		client: client,
		ttl:    ttl,
	}
}

// Redis stores responses as JSON. Failures are logged and treated as misses.
type Redis struct {
	log    *slog.Logger
	client *redis.Client
	ttl    time.Duration
}

func (r *Redis) Get(ctx context.Context, key string) *llms.ContentResponse {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		r.log.Warn("failed to read response cache", slog.String("backend", "redis"), slog.Any("error", err))
		return nil
	}
	resp, err := unmarshal(data)
	if err != nil {
		r.log.Warn("failed to decode cached response", slog.String("backend", "redis"), slog.Any("error", err))
		return nil
	}
	return resp
}

func (r *Redis) Put(ctx context.Context, key string, response *llms.ContentResponse) {
	data, err := marshal(response)
	if err != nil {
		r.log.Warn("failed to encode response", slog.String("backend", "redis"), slog.Any("error", err))
		return
	}
	if err = r.client.SetNX(ctx, redisKeyPrefix+key, data, r.ttl).Err(); err != nil {
		r.log.Warn("failed to write response cache", slog.String("backend", "redis"), slog.Any("error", err))
	}
}
