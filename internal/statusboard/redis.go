// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package statusboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisKey is the hash holding one field per topic.
const DefaultRedisKey = "avbridge:status"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // host:port
	Password string
	DB       int
	// Key is the hash name; defaults to DefaultRedisKey.
	Key string
}

// RedisBackend stores entries as JSON fields of a single Redis hash so that
// several processes can read the same board.
type RedisBackend struct {
	client *redis.Client
	key    string
	logger zerolog.Logger
}

// NewRedisBackend connects and pings the server.
func NewRedisBackend(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to Redis status board")
	return newRedisBackend(client, cfg.Key, logger), nil
}

func newRedisBackend(client *redis.Client, key string, logger zerolog.Logger) *RedisBackend {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisBackend{client: client, key: key, logger: logger}
}

func (r *RedisBackend) Put(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Topic, err)
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.client.HSet(ctx, r.key, e.Topic, data).Err()
}

func (r *RedisBackend) Get(ctx context.Context, topic string) (Entry, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	val, err := r.client.HGet(ctx, r.key, topic).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(val, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode %s: %w", topic, err)
	}
	return e, true, nil
}

func (r *RedisBackend) List(ctx context.Context, prefix string) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	all, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(all))
	for topic, raw := range all {
		if !strings.HasPrefix(topic, prefix) {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			r.logger.Warn().Err(err).Str("topic", topic).Msg("skipping undecodable status entry")
			continue
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

// HealthCheck pings the server.
func (r *RedisBackend) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBackend) Close() error { return r.client.Close() }
