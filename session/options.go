package session

import (
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultTTL is how long an idle history survives.
const DefaultTTL = 24 * time.Hour

// StoreOption is a functional option for configuring a history store.
type StoreOption func(*storeConfig)

// storeConfig holds configuration for history stores.
type storeConfig struct {
	redisClient *redis.Client
	ttl         time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// WithRedisClient sets the Redis client for the Redis store.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithTTL sets how long records live after their last read or write.
func WithTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.ttl = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(c *storeConfig) {
		c.logger = logger
	}
}

// withClock overrides time.Now for expiry tests.
func withClock(now func() time.Time) StoreOption {
	return func(c *storeConfig) {
		c.now = now
	}
}
