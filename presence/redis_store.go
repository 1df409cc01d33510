package presence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash that holds presence entries when no key is
// configured.
const DefaultRedisKey = "chatrelay:presence"

// RedisStore keeps presence entries in a single Redis hash: one field per
// alias, holding the JSON encoded Entry.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := NewRedisStore(client, DefaultRedisKey)
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore returns a store writing to the hash at key. An empty key
// selects DefaultRedisKey.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}

	return &RedisStore{
		client: client,
		key:    key,
	}
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	return nil
}

// Online implements Store.
func (s *RedisStore) Online(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal presence entry: %w", err)
	}

	if err := s.client.HSet(ctx, s.key, entry.Alias, data).Err(); err != nil {
		return fmt.Errorf("redis hset error: %w", err)
	}

	return nil
}

// Offline implements Store.
func (s *RedisStore) Offline(ctx context.Context, alias string) error {
	if err := s.client.HDel(ctx, s.key, alias).Err(); err != nil {
		return fmt.Errorf("redis hdel error: %w", err)
	}

	return nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context) ([]Entry, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall error: %w", err)
	}

	entries := make([]Entry, 0, len(fields))
	for alias, raw := range fields {
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal presence entry %s: %w", alias, err)
		}

		entries = append(entries, entry)
	}

	return sortEntries(entries), nil
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del error: %w", err)
	}

	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
