package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/trendscout/backend/internal/metrics"
	"github.com/trendscout/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(client *redis.Client) *Client {
	return &Client{client: client}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func embeddingKey(hash string) string {
	return "embedding:" + hash
}

// SetEmbeddings writes all vectors in one pipeline round trip.
func (c *Client) SetEmbeddings(ctx context.Context, vectors map[string][]float32, ttl time.Duration) error {
	if len(vectors) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for hash, vec := range vectors {
		data, err := json.Marshal(vec)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		pipe.Set(ctx, embeddingKey(hash), data, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	logger.Debug("Embeddings cached", zap.Int("count", len(vectors)), zap.Duration("ttl", ttl))
	return nil
}

// GetEmbeddings returns the cached vectors for hashes, keyed by hash. Missing
// or undecodable entries are left out.
func (c *Client) GetEmbeddings(ctx context.Context, hashes []string) (map[string][]float32, error) {
	found := make(map[string][]float32, len(hashes))
	if len(hashes) == 0 {
		return found, nil
	}

	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = embeddingKey(h)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			logger.Warn("Dropping corrupt cached embedding", zap.String("text_hash", hashes[i]), zap.Error(err))
			continue
		}
		found[hashes[i]] = vec
	}

	metrics.CacheHits.WithLabelValues("embedding").Add(float64(len(found)))
	metrics.CacheMisses.WithLabelValues("embedding").Add(float64(len(hashes) - len(found)))
	return found, nil
}
