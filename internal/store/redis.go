package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rcliao/chronolock/internal/model"
)

// Redis key layout: one list per owner plus one global simulated list.
const (
	ownerKeyPrefix = "chronolock_memories_"
	simulatedKey   = "chronolock_demo_memories"
	ownersKey      = "chronolock_owners"
)

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379/0")
	URL string

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration
}

// RedisStore implements Store on Redis lists of JSON records.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.DialTimeout = opts.ConnectTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func ownerKey(owner string) string {
	return ownerKeyPrefix + owner
}

func (s *RedisStore) list(ctx context.Context, key string) ([]model.Memory, error) {
	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	out := make([]model.Memory, 0, len(raw))
	for _, r := range raw {
		var m model.Memory
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			// Skip malformed entries rather than hiding the rest of the list.
			continue
		}
		if m.ID == "" || m.Title == "" || m.UnlockAt.IsZero() {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *RedisStore) Records(ctx context.Context, owner string) ([]model.Memory, error) {
	return s.list(ctx, ownerKey(owner))
}

func (s *RedisStore) Append(ctx context.Context, owner string, m model.Memory) error {
	m.Owner = owner
	m.Mode = model.ModeReal
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal memory: %w", err)
	}

	key := ownerKey(owner)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, -RingSize, -1)
		pipe.SAdd(ctx, ownersKey, owner)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) ClearOwner(ctx context.Context, owner string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, ownerKey(owner))
		pipe.SRem(ctx, ownersKey, owner)
		return nil
	})
	return err
}

func (s *RedisStore) Simulated(ctx context.Context) ([]model.Memory, error) {
	return s.list(ctx, simulatedKey)
}

func (s *RedisStore) AppendSimulated(ctx context.Context, m model.Memory) error {
	if m.Owner == "" {
		return fmt.Errorf("simulated record %s has no owner", m.ID)
	}
	m.Mode = model.ModeSimulated
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal memory: %w", err)
	}
	if err := s.client.RPush(ctx, simulatedKey, data).Err(); err != nil {
		return fmt.Errorf("failed to append to %s: %w", simulatedKey, err)
	}
	return nil
}

func (s *RedisStore) ClearSimulated(ctx context.Context) error {
	return s.client.Del(ctx, simulatedKey).Err()
}

func (s *RedisStore) Owners(ctx context.Context) ([]string, error) {
	owners, err := s.client.SMembers(ctx, ownersKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(owners)
	return owners, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

