package scheduling

import (
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"go.uber.org/zap"
)

// RedisCache backs the event cache with a shared redis instance. Every
// failure is logged and swallowed so the cache can never fail a call.
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisCache connects to redis at addr and verifies the connection.
func NewRedisCache(addr string, logger *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "",
		DB:       0,
	})

	if _, err := client.Ping().Result(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %v", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{client: client, logger: logger}, nil
}

// Get returns the cached value when present.
func (c *RedisCache) Get(key string) (string, bool) {
	value, err := c.client.Get(key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return value, true
}

// Put stores the value under key for ttl.
func (c *RedisCache) Put(key string, value string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := c.client.Set(key, value, ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// InvalidateUser scans and deletes every key in the user's namespace.
func (c *RedisCache) InvalidateUser(userID uint) {
	for _, pattern := range userNamespacePatterns(userID) {
		var cursor uint64
		for {
			keys, nextCursor, err := c.client.Scan(cursor, pattern, 100).Result()
			if err != nil {
				c.logger.Warn("cache scan failed", zap.String("pattern", pattern), zap.Error(err))
				break
			}
			if len(keys) > 0 {
				if err := c.client.Del(keys...).Err(); err != nil {
					c.logger.Warn("cache delete failed", zap.Error(err))
				}
			}
			cursor = nextCursor
			if cursor == 0 {
				break
			}
		}
	}
}
