package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gha "gharchive/internal/adapters/ingest/gharchive"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces ledger keys
const DefaultRedisPrefix = "gharchive:ledger:"

// RedisConfig configures the Redis ledger
type RedisConfig struct {
	// Prefix is prepended to every key
	Prefix string

	// TTL expires entries; 0 keeps them forever
	TTL time.Duration

	// Timeout bounds each ledger call
	Timeout time.Duration
}

// kv is the slice of the go-redis API the ledger uses
type kv interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// Redis keeps one JSON value per archive plus an index set of archive ids
type Redis struct {
	cfg RedisConfig
	c   kv
}

// NewRedis binds a ledger to c
func NewRedis(c redis.UniversalClient, cfg RedisConfig) *Redis {
	return newRedis(c, cfg)
}

func newRedis(c kv, cfg RedisConfig) *Redis {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultRedisPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Redis{cfg: cfg, c: c}
}

func (l *Redis) key(id string) string { return l.cfg.Prefix + "archive:" + id }

func (l *Redis) indexKey() string { return l.cfg.Prefix + "index" }

// Done reports whether the archive key exists
func (l *Redis) Done(ctx context.Context, id gha.ArchiveID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	n, err := l.c.Exists(ctx, l.key(id.String())).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// MarkDone stores the stats and indexes the id
func (l *Redis) MarkDone(ctx context.Context, st gha.ArchiveStats) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	r := toRecord(st)
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal ledger record: %w", err)
	}
	if err := l.c.Set(ctx, l.key(r.ID), data, l.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	if err := l.c.SAdd(ctx, l.indexKey(), r.ID).Err(); err != nil {
		return fmt.Errorf("redis sadd: %w", err)
	}
	return nil
}

// List loads every indexed archive, dropping index entries whose value expired
func (l *Redis) List(ctx context.Context) ([]gha.ArchiveStats, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	ids, err := l.c.SMembers(ctx, l.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}

	out := make([]gha.ArchiveStats, 0, len(ids))
	for _, id := range ids {
		data, err := l.c.Get(ctx, l.key(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			_ = l.c.SRem(ctx, l.indexKey(), id).Err()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis get %s: %w", id, err)
		}
		var r record
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode ledger record %s: %w", id, err)
		}
		out = append(out, r.stats())
	}
	sortStats(out)
	return out, nil
}
