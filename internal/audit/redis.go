package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	redisEventsKey   = "medkeeper:audit:events"
	redisCriticalKey = "medkeeper:audit:critical"
)

// RedisStore keeps each log as a JSON list. RPUSH and LTRIM run inside one
// MULTI/EXEC so concurrent writers can neither lose entries nor overshoot
// the cap.
type RedisStore struct {
	client      redis.UniversalClient
	eventCap    int
	criticalCap int
}

func NewRedisStore(client redis.UniversalClient, eventCap, criticalCap int) *RedisStore {
	return &RedisStore{client: client, eventCap: eventCap, criticalCap: criticalCap}
}

func (s *RedisStore) push(ctx context.Context, key string, capacity int, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("audit: marshal: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, payload)
		p.LTrim(ctx, key, int64(-capacity), -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("audit: append %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Append(ctx context.Context, e Event) error {
	return s.push(ctx, redisEventsKey, s.eventCap, e)
}

func (s *RedisStore) AppendCritical(ctx context.Context, a CriticalAlert) error {
	return s.push(ctx, redisCriticalKey, s.criticalCap, a)
}

func readList[T any](ctx context.Context, client redis.UniversalClient, key string) ([]T, error) {
	raw, err := client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("audit: read %s: %w", key, err)
	}
	out := make([]T, 0, len(raw))
	for _, item := range raw {
		var v T
		if err := json.Unmarshal([]byte(item), &v); err != nil {
			return nil, fmt.Errorf("audit: decode %s: %w", key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *RedisStore) Events(ctx context.Context) ([]Event, error) {
	return readList[Event](ctx, s.client, redisEventsKey)
}

func (s *RedisStore) CriticalAlerts(ctx context.Context) ([]CriticalAlert, error) {
	return readList[CriticalAlert](ctx, s.client, redisCriticalKey)
}
