package audit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const haltKeyPrefix = "fleet:audit:halt:"

// RedisHalts shares halt markers between API processes. Markers have no TTL.
type RedisHalts struct {
	rdb *redis.Client
}

func NewRedisHalts(rdb *redis.Client) (*RedisHalts, error) {
	if rdb == nil {
		return nil, errors.New("redis client is nil")
	}
	return &RedisHalts{rdb: rdb}, nil
}

func (r *RedisHalts) Halt(ctx context.Context, h Halt) error {
	key := haltKeyPrefix + h.ScopeKey
	// HSETNX on "at" keeps the earliest break when verifiers race.
	pipe := r.rdb.TxPipeline()
	pipe.HSetNX(ctx, key, "at", h.At)
	pipe.HSetNX(ctx, key, "reason", h.Reason)
	pipe.HSetNX(ctx, key, "halted_at", h.HaltedAt.UTC().Format(time.RFC3339Nano))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis halt %s: %w", h.ScopeKey, err)
	}
	return nil
}

func (r *RedisHalts) Halted(ctx context.Context, scopeKey string) (Halt, bool, error) {
	vals, err := r.rdb.HGetAll(ctx, haltKeyPrefix+scopeKey).Result()
	if err != nil {
		return Halt{}, false, fmt.Errorf("redis halted %s: %w", scopeKey, err)
	}
	if len(vals) == 0 {
		return Halt{}, false, nil
	}
	h := Halt{ScopeKey: scopeKey, Reason: vals["reason"]}
	if at, err := strconv.ParseInt(vals["at"], 10, 64); err == nil {
		h.At = at
	}
	if ts, err := time.Parse(time.RFC3339Nano, vals["halted_at"]); err == nil {
		h.HaltedAt = ts
	}
	return h, true, nil
}

func (r *RedisHalts) Release(ctx context.Context, scopeKey string) error {
	return r.rdb.Del(ctx, haltKeyPrefix+scopeKey).Err()
}
