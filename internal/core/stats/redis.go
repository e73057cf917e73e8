package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tickerlens/tickerlens/internal/core/governor"
)

// RedisStore keeps counters in Redis hashes:
//
//	{prefix}:total            outcome -> count (never expires)
//	{prefix}:op:{operation}   outcome -> count (never expires)
//	{prefix}:minute:{stamp}   outcome -> count (expires after ttl)
//	{prefix}:key:{key}        outcome -> count (expires after ttl, optional)
type RedisStore struct {
	rdb redis.UniversalClient

	prefix    string
	ttl       time.Duration
	bucket    string
	trackKeys bool
}

// RedisOption customizes a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithTTL sets the expiry of time-bucketed and per-key hashes.
func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

// WithBucket selects time bucketing: "minute" (default) or "none".
func WithBucket(bucket string) RedisOption {
	return func(s *RedisStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

// WithRedisTrackKeys enables per-key hashes.
func WithRedisTrackKeys(track bool) RedisOption {
	return func(s *RedisStore) { s.trackKeys = track }
}

// NewRedisStore returns a store backed by rdb.
func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "tickerlens:governor",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record implements governor.Recorder.
func (s *RedisStore) Record(ctx context.Context, ev governor.Event) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := string(ev.Outcome)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	if ev.Operation != "" {
		pipe.HIncrBy(ctx, s.prefix+":op:"+ev.Operation, field, 1)
		pipe.SAdd(ctx, s.prefix+":ops", ev.Operation)
	}

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if s.trackKeys {
		if k := strings.TrimSpace(ev.Key); k != "" {
			keyKey := s.prefix + ":key:" + k
			pipe.HIncrBy(ctx, keyKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, keyKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Summary implements Reader. Per-key counters are not read back.
func (s *RedisStore) Summary(ctx context.Context) (Summary, error) {
	out := Summary{Total: Counters{}, ByOperation: map[string]Counters{}}
	if s == nil || s.rdb == nil {
		return out, nil
	}

	total, err := s.readHash(ctx, s.prefix+":total")
	if err != nil {
		return out, err
	}
	out.Total = total

	ops, err := s.rdb.SMembers(ctx, s.prefix+":ops").Result()
	if err != nil {
		return out, fmt.Errorf("list operations: %w", err)
	}
	for _, op := range ops {
		counters, err := s.readHash(ctx, s.prefix+":op:"+op)
		if err != nil {
			return out, err
		}
		out.ByOperation[op] = counters
	}
	return out, nil
}

func (s *RedisStore) readHash(ctx context.Context, key string) (Counters, error) {
	raw, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	counters := make(Counters, len(raw))
	for field, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s.%s: %w", key, field, err)
		}
		counters[field] = n
	}
	return counters, nil
}

// Ping verifies the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if s == nil || s.rdb == nil {
		return fmt.Errorf("redis client not configured")
	}
	return s.rdb.Ping(ctx).Err()
}
