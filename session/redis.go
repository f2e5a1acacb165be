package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/creastat/voiceflow"
)

// redisStore implements Store using Redis with optimistic locking.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func newRedisStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *redisStore {
	return &redisStore{client: client, ttl: ttl, logger: logger}
}

// Create implements Store.
func (s *redisStore) Create(ctx context.Context, rec *Record) error {
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Version = 1

	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	ok, err := s.client.SetNX(ctx, rec.Key.String(), val, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return voiceflow.ErrVersionConflict
	}
	return nil
}

// Get implements Store.
func (s *redisStore) Get(ctx context.Context, key Key) (*Record, error) {
	k := key.String()
	val, err := s.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}

	// Refresh TTL on read
	if err := s.client.Expire(ctx, k, s.ttl).Err(); err != nil {
		s.logger.Debug("refresh history ttl failed", zap.String("key", k), zap.Error(err))
	}

	return &rec, nil
}

// Update implements Store.
func (s *redisStore) Update(ctx context.Context, rec *Record) error {
	k := rec.Key.String()

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return voiceflow.ErrNotFound
		}
		if err != nil {
			return err
		}

		var stored Record
		if err := json.Unmarshal(val, &stored); err != nil {
			return fmt.Errorf("unmarshal history: %w", err)
		}

		if stored.Version != rec.Version {
			return voiceflow.ErrVersionConflict
		}

		next := rec.clone()
		next.Version++
		next.UpdatedAt = time.Now()
		next.CreatedAt = stored.CreatedAt

		newVal, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal history: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, newVal, s.ttl)
			return nil
		})
		if errors.Is(err, redis.TxFailedErr) {
			return voiceflow.ErrVersionConflict
		}
		if err != nil {
			return err
		}

		*rec = *next
		return nil
	}, k)
}

// Delete implements Store.
func (s *redisStore) Delete(ctx context.Context, key Key) error {
	return s.client.Del(ctx, key.String()).Err()
}

// Close implements Store.
func (s *redisStore) Close() error {
	return s.client.Close()
}
