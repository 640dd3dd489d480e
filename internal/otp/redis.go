package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/trendly/apiserver/config"
)

const redisKeyPrefix = "trendly:"

// compareAndDeleteScript deletes KEYS[1] only when its value equals ARGV[1].
var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// compareAndSwapScript sets KEYS[1] to ARGV[2] only when its value equals ARGV[1].
// ARGV[3] is the retention in milliseconds; 0 keeps the key without expiry.
var compareAndSwapScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
else
	redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

// RedisStore keeps challenges in Redis so several API replicas share them.
type RedisStore struct {
	client *redis.Client
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (Challenge, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Challenge{}, ErrNotFound
		}
		return Challenge{}, err
	}

	var challenge Challenge
	if err := json.Unmarshal(data, &challenge); err != nil {
		return Challenge{}, fmt.Errorf("decode challenge: %w", err)
	}
	return challenge, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, challenge Challenge, ttl time.Duration) error {
	data, err := json.Marshal(challenge)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err()
}

func (s *RedisStore) CompareAndDelete(ctx context.Context, key string, challenge Challenge) (bool, error) {
	data, err := json.Marshal(challenge)
	if err != nil {
		return false, err
	}
	removed, err := compareAndDeleteScript.Run(ctx, s.client, []string{redisKeyPrefix + key}, string(data)).Int64()
	if err != nil {
		return false, err
	}
	return removed == 1, nil
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, key string, old, next Challenge, ttl time.Duration) (bool, error) {
	oldData, err := json.Marshal(old)
	if err != nil {
		return false, err
	}
	nextData, err := json.Marshal(next)
	if err != nil {
		return false, err
	}
	swapped, err := compareAndSwapScript.Run(ctx, s.client,
		[]string{redisKeyPrefix + key},
		string(oldData), string(nextData), ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, err
	}
	return swapped == 1, nil
}
