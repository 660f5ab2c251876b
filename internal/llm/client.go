package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/trendscout/backend/internal/metrics"
	"github.com/trendscout/backend/pkg/circuitbreaker"
	"github.com/trendscout/backend/pkg/logger"
	"github.com/trendscout/backend/pkg/retry"
)

type Config struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	Timeout        time.Duration
	BatchSize      int
	HTTPClient     *http.Client
}

// Client produces text embeddings through an OpenAI-compatible API.
type Client struct {
	client         *openai.Client
	embeddingModel string
	timeout        time.Duration
	batchSize      int
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

func NewClient(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	cb := circuitbreaker.NewCircuitBreaker("embeddings", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Classify:       classify,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Embedding client initialized", zap.String("embedding_model", cfg.EmbeddingModel))

	return &Client{
		client:         openai.NewClientWithConfig(oc),
		embeddingModel: cfg.EmbeddingModel,
		timeout:        cfg.Timeout,
		batchSize:      cfg.BatchSize,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

func (c *Client) Model() string {
	return c.embeddingModel
}

// EmbedBatch returns one embedding per text, in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, len(texts))

	for i := 0; i < len(texts); i += c.batchSize {
		end := i + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch := texts[i:end]
		offset := i

		err := c.cb.Execute(ctx, func(ctx context.Context) error {
			res := retry.Do(ctx, c.retryConfig, func(ctx context.Context) error {
				callCtx, cancel := context.WithTimeout(ctx, c.timeout)
				defer cancel()

				resp, err := c.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
					Input: batch,
					Model: openai.EmbeddingModel(c.embeddingModel),
				})
				if err != nil {
					return fmt.Errorf("failed to generate batch embeddings: %w", err)
				}
				if len(resp.Data) != len(batch) {
					return fmt.Errorf("embedding count mismatch: got %d for %d inputs", len(resp.Data), len(batch))
				}

				for _, data := range resp.Data {
					if data.Index < 0 || data.Index >= len(batch) {
						return fmt.Errorf("embedding index %d out of range", data.Index)
					}
					embedding := make([]float32, len(data.Embedding))
					copy(embedding, data.Embedding)
					embeddings[offset+data.Index] = embedding
				}
				return nil
			})
			return res.Err
		})
		if err != nil {
			return nil, err
		}

		metrics.EmbeddingTexts.Add(float64(len(batch)))
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}

// classify treats client errors other than rate limiting as permanent.
func classify(err error) retry.Outcome {
	if errors.Is(err, context.Canceled) {
		return retry.Fatal
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	if status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout {
		return retry.Fatal
	}
	return retry.Retryable
}
