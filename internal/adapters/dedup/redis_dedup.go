package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps checksums in a single Redis set
type RedisStore struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

// NewRedisStore connects to Redis. addr may be host:port or a redis:// URL.
func NewRedisStore(addr, key string, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var opt *redis.Options
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid Redis URL: %w", err)
		}
		opt = parsed
	} else {
		opt = &redis.Options{Addr: addr}
	}
	opt.DialTimeout = 5 * time.Second

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreFromClient(client, key, logger), nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client, key string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, key: key, logger: logger}
}

// Has reports whether the checksum was recorded
func (s *RedisStore) Has(ctx context.Context, checksum string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.key, checksum).Result()
	if err != nil {
		return false, fmt.Errorf("failed to query checksum: %w", err)
	}
	return ok, nil
}

// Add records a checksum
func (s *RedisStore) Add(ctx context.Context, checksum string) error {
	if err := s.client.SAdd(ctx, s.key, checksum).Err(); err != nil {
		return fmt.Errorf("failed to insert checksum: %w", err)
	}
	return nil
}

// Clear removes every checksum
func (s *RedisStore) Clear(ctx context.Context) error {
	n, err := s.client.SCard(ctx, s.key).Result()
	if err != nil {
		return fmt.Errorf("failed to count checksums: %w", err)
	}
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear checksums: %w", err)
	}
	s.logger.Info("Cleared dedup checksums", zap.Int64("count", n))
	return nil
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
