package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fluid-project/personal-data-server/internal/domain/sso"
	"github.com/fluid-project/personal-data-server/internal/repository"
)

const statePrefix = "pds:sso:state:"

// RedisStateStore implements StateTracker backed by Redis.
type RedisStateStore struct {
	client redis.UniversalClient
}

var _ repository.StateTracker = (*RedisStateStore)(nil)

// NewRedisStateStore constructs a Redis-backed state tracker.
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client}
}

// Track stores the encoded record with TTL.
func (s *RedisStateStore) Track(ctx context.Context, record sso.StateRecord, ttl time.Duration) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, stateKey(record.State), payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// Consume loads and deletes the record with GETDEL.
func (s *RedisStateStore) Consume(ctx context.Context, state string) (*sso.StateRecord, error) {
	bytes, err := s.client.GetDel(ctx, stateKey(state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("consume state: %w", err)
	}
	var record sso.StateRecord
	if err := json.Unmarshal(bytes, &record); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &record, nil
}

func stateKey(state string) string {
	return statePrefix + strings.TrimSpace(state)
}
