package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/redis/go-redis/v9"
	"time"
	"webchat/internal/presence"
)

type RedisPresenceCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPresenceCache(client *redis.Client, ttl time.Duration) *RedisPresenceCache {
	return &RedisPresenceCache{client: client, ttl: ttl}
}

func (r RedisPresenceCache) SetSession(ctx context.Context, record *presence.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshalling session: %w", err)
	}
	return r.client.Set(ctx, formatKey(record.ID), data, r.ttl).Err()
}

func (r RedisPresenceCache) GetSession(ctx context.Context, sessionID string) (*presence.Record, error) {
	val, err := r.client.Get(ctx, formatKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	var record presence.Record
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		return nil, fmt.Errorf("unmarshalling session: %w", err)
	}
	return &record, nil
}

func (r RedisPresenceCache) DeleteSession(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, formatKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func formatKey(sessionID string) string {
	return fmt.Sprintf("chat:session:%s", sessionID)
}
