package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix   = "relay:history:"
	defaultDialTimeout = 10 * time.Second
)

// RedisOptions configures the Redis connection of a RedisLog.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// DialRedis builds a redis client and verifies connectivity via PING.
func DialRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	addr := opts.Addr
	if addr == "" {
		addr = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", addr, err)
	}

	return rdb, nil
}

// RedisLog stores each session's records as a capped Redis list of JSON
// documents. The list expires after ttl of inactivity.
type RedisLog struct {
	client     redis.Cmdable
	prefix     string
	maxRecords int
	ttl        time.Duration
}

// NewRedisLog creates a log on top of an existing client. A ttl of zero
// keeps lists forever.
func NewRedisLog(client redis.Cmdable, maxRecords int, ttl time.Duration) *RedisLog {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &RedisLog{
		client:     client,
		prefix:     defaultKeyPrefix,
		maxRecords: maxRecords,
		ttl:        ttl,
	}
}

func (l *RedisLog) key(sessionID string) string {
	return l.prefix + sessionID
}

func (l *RedisLog) Append(ctx context.Context, sessionID string, rec Record) error {
	if sessionID == "" {
		return ErrNoSession
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode history record: %w", err)
	}

	key := l.key(sessionID)
	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, int64(-l.maxRecords), -1)
		if l.ttl > 0 {
			pipe.Expire(ctx, key, l.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append history record: %w", err)
	}
	return nil
}

func (l *RedisLog) List(ctx context.Context, sessionID string) ([]Record, error) {
	if sessionID == "" {
		return nil, nil
	}

	raw, err := l.client.LRange(ctx, l.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	records := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode history record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}
