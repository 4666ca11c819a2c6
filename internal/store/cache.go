package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const answerKeyPrefix = "ragchat:answer:"

// AnswerCache stores finished answers keyed by question and source limit.
type AnswerCache interface {
	Get(ctx context.Context, question string, maxSources int) (*AskResponse, error)
	Set(ctx context.Context, question string, maxSources int, resp *AskResponse) error
	Flush(ctx context.Context) error
}

// RedisCache is an AnswerCache backed by Redis string keys with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisCacheFromClient(client, ttl), nil
}

func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// answerKey hashes the normalised question so that casing and spacing do not matter.
func answerKey(question string, maxSources int) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(question)), " ")
	sum := sha256.Sum256([]byte(normalized + "|" + strconv.Itoa(maxSources)))
	return answerKeyPrefix + hex.EncodeToString(sum[:])
}

// Get returns nil, nil on a miss.
func (c *RedisCache) Get(ctx context.Context, question string, maxSources int) (*AskResponse, error) {
	data, err := c.client.Get(ctx, answerKey(question, maxSources)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cached answer: %w", err)
	}

	var resp AskResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode cached answer: %w", err)
	}
	return &resp, nil
}

func (c *RedisCache) Set(ctx context.Context, question string, maxSources int, resp *AskResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode answer: %w", err)
	}
	if err := c.client.Set(ctx, answerKey(question, maxSources), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache answer: %w", err)
	}
	return nil
}

// Flush deletes every cached answer. Called whenever the collection changes.
func (c *RedisCache) Flush(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, answerKeyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan cached answers: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete cached answers: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// NopCache is used when Redis is not configured.
type NopCache struct{}

func (NopCache) Get(context.Context, string, int) (*AskResponse, error) { return nil, nil }
func (NopCache) Set(context.Context, string, int, *AskResponse) error { return nil }
func (NopCache) Flush(context.Context) error { return nil }
