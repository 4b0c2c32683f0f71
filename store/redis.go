package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var _ BatchSubstrate = (*Redis)(nil)

// DefaultRedisPrefix namespaces token keys in a shared Redis database.
const DefaultRedisPrefix = "authsession:"

// Redis stores values in Redis so several processes can share one session,
// the way browser tabs share local storage.
type Redis struct {
	client redis.UniversalClient
	prefix string
	owned  bool
}

// NewRedis wraps an existing client. The caller keeps ownership of the client.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

// RedisConfig holds connection settings for OpenRedis.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"AUTHCTL_REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"AUTHCTL_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"AUTHCTL_REDIS_DB" env-default:"0"`
	Prefix   string `yaml:"prefix" env:"AUTHCTL_REDIS_PREFIX" env-default:"authsession:"`
}

// OpenRedis connects to Redis and verifies the connection with PING.
// The returned substrate owns the client and closes it on Close.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("authsession/store: connect redis %s: %w", cfg.Addr, err)
	}

	r := NewRedis(client, cfg.Prefix)
	r.owned = true
	return r, nil
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("authsession/store: redis get: %w", err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("authsession/store: redis set: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("authsession/store: redis del: %w", err)
	}
	return nil
}

func (r *Redis) SetMany(ctx context.Context, kv map[string]string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range kv {
			if v == "" {
				pipe.Del(ctx, r.key(k))
				continue
			}
			pipe.Set(ctx, r.key(k), v, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("authsession/store: redis multi: %w", err)
	}
	return nil
}

// Close closes the client when it was opened by OpenRedis.
func (r *Redis) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}
