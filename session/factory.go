// Package session persists conversation history across connections,
// keyed by tenant, agent and session.
package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/creastat/voiceflow"
)

// StoreType represents the type of history store.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// NewStore creates a new Store based on the given type.
// Supports "memory" and "redis" driver types.
// For Redis, requires WithRedisClient option.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	config := &storeConfig{}

	for _, opt := range opts {
		opt(config)
	}

	if config.ttl <= 0 {
		config.ttl = DefaultTTL
	}
	if config.now == nil {
		config.now = time.Now
	}
	if config.logger == nil {
		config.logger = zap.NewNop()
	}
	logger := config.logger.With(zap.String("component", "history_store"), zap.String("driver", string(storeType)))

	switch storeType {
	case StoreTypeMemory:
		return newMemoryStore(config.ttl, config.now), nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, voiceflow.ErrInvalidConfig
		}
		return newRedisStore(config.redisClient, config.ttl, logger), nil

	default:
		return nil, voiceflow.ErrInvalidStoreType
	}
}
