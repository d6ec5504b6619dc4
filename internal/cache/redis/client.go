package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cjLee-cmd/test-PatAI/pkg/logger"
)

// Client backs both content-addressed caches: embedding entries are
// permanent ((text, model) pairs are immutable), query/answer entries
// carry a short TTL because document content can change underneath them.
type Client struct {
	client   *redis.Client
	queryTTL time.Duration
}

func NewClient(host string, port int, password string, db int, queryTTL time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if queryTTL == 0 {
		queryTTL = 5 * time.Minute
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, queryTTL: queryTTL}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SetEmbedding(ctx context.Context, key string, vector []float32) error {
	data, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}

	// TTL 0: embedding entries never expire.
	if err := c.client.Set(ctx, "embedding:"+key, data, 0).Err(); err != nil {
		return fmt.Errorf("set embedding cache: %w", err)
	}
	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, "embedding:"+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get embedding cache: %w", err)
	}

	var vector []float32
	if err := json.Unmarshal(data, &vector); err != nil {
		return nil, false, fmt.Errorf("unmarshal embedding: %w", err)
	}
	return vector, true, nil
}

func (c *Client) SetAnswer(ctx context.Context, key string, answer interface{}) error {
	data, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}

	if err := c.client.Set(ctx, "query:"+key, data, c.queryTTL).Err(); err != nil {
		return fmt.Errorf("set query cache: %w", err)
	}

	logger.Debug("Answer cached", zap.String("key", key), zap.Duration("ttl", c.queryTTL))
	return nil
}

func (c *Client) GetAnswer(ctx context.Context, key string, answer interface{}) (bool, error) {
	data, err := c.client.Get(ctx, "query:"+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get query cache: %w", err)
	}

	if err := json.Unmarshal(data, answer); err != nil {
		return false, fmt.Errorf("unmarshal answer: %w", err)
	}
	return true, nil
}

// InvalidateAnswers drops every query/answer entry. Called on any
// document mutation so stale answers never outlive their sources.
func (c *Client) InvalidateAnswers(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "query:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("iterate cache keys: %w", err)
	}

	logger.Info("Query cache invalidated")
	return nil
}
