package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisMappingKey = "wappgate:sessions"

// RedisStore keeps the mapping in a Redis hash, for deployments that
// already run Redis and want the mapping off the local disk.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Load(ctx context.Context) (map[string]string, error) {
	mapping, err := s.client.HGetAll(ctx, redisMappingKey).Result()
	if err != nil {
		return nil, err
	}
	return mapping, nil
}

func (s *RedisStore) Set(ctx context.Context, instanceID, jid string) error {
	return s.client.HSet(ctx, redisMappingKey, instanceID, jid).Err()
}

func (s *RedisStore) Delete(ctx context.Context, instanceID string) error {
	return s.client.HDel(ctx, redisMappingKey, instanceID).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
