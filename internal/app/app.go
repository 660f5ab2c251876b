// Package app wires configuration into the running components shared by the
// API server and the one-shot pipeline command.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trendscout/backend/internal/api/handlers"
	"github.com/trendscout/backend/internal/cache/redis"
	"github.com/trendscout/backend/internal/candidate"
	"github.com/trendscout/backend/internal/embedding"
	"github.com/trendscout/backend/internal/llm"
	"github.com/trendscout/backend/internal/pipeline"
	"github.com/trendscout/backend/internal/profile"
	"github.com/trendscout/backend/internal/quota"
	"github.com/trendscout/backend/internal/scoring"
	"github.com/trendscout/backend/internal/selection"
	"github.com/trendscout/backend/internal/storage/models"
	"github.com/trendscout/backend/internal/storage/sqlite"
	"github.com/trendscout/backend/internal/watermark"
	"github.com/trendscout/backend/internal/youtube"
	"github.com/trendscout/backend/pkg/config"
	"github.com/trendscout/backend/pkg/logger"
	"github.com/trendscout/backend/pkg/retry"
)

type App struct {
	Config   *config.Config
	DB       *sqlite.Client
	Redis    *redis.Client
	Ledger   *quota.Ledger
	Events   *pipeline.Broadcaster
	Pipeline *pipeline.Pipeline

	quotaStore interface {
		quota.Store
		handlers.QuotaDayReader
	}
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	db, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	a.DB = db
	if err := db.InitSchema(); err != nil {
		a.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.Redis = rc
	}

	a.quotaStore = db
	if cfg.Quota.Backend == "redis" {
		if a.Redis == nil {
			a.Close()
			return nil, fmt.Errorf("quota backend redis requires redis.enabled")
		}
		a.quotaStore = a.Redis
	}
	a.Ledger = quota.NewLedger(a.quotaStore, cfg.Quota.DailyLimit, cfg.Quota.HaltFraction,
		quota.WithLogger(logger.Named("quota")),
	)

	embedder, model := a.embedder()

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.YouTube.MaxAttempts
	retryCfg.InitialDelay = time.Duration(cfg.YouTube.InitialDelayMs) * time.Millisecond

	source, err := youtube.NewClient(ctx, youtube.Config{
		APIKey:         cfg.YouTube.APIKey,
		PagesPerRegion: cfg.YouTube.PagesPerRegion,
		Timeout:        time.Duration(cfg.YouTube.TimeoutSec) * time.Second,
		RequestsPerSec: cfg.YouTube.RequestsPerSec,
		Burst:          cfg.YouTube.Burst,
		Retry:          retryCfg,
	}, a.Ledger, logger.Named("youtube"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create youtube client: %w", err)
	}

	builder := profile.NewBuilder(db, db, embedder, profile.Config{
		ChannelID:     cfg.YouTube.ChannelID,
		TopN:          cfg.Profile.TopNVideos,
		MinVideos:     cfg.Profile.MinVideos,
		TopTerms:      cfg.Profile.TopTerms,
		RecencyNewest: cfg.Profile.RecencyNewest,
		RecencyOldest: cfg.Profile.RecencyOldest,
		Weights: models.ProfileWeights{
			Similarity: cfg.Profile.WeightSimilarity,
			Velocity:   cfg.Profile.WeightVelocity,
			Engagement: cfg.Profile.WeightEngagement,
		},
		Language: cfg.Profile.Language,
		Model:    model,
	}, logger.Named("profile"))

	wm, err := watermark.NewController(db, cfg.Tasks.Frequencies,
		watermark.WithLogger(logger.Named("watermark")),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Events = pipeline.NewBroadcaster(64)
	a.Pipeline = pipeline.New(pipeline.Deps{
		Source:     source,
		Store:      db,
		Builder:    builder,
		Scorer:     scoring.NewScorer(embedder, cfg.Scoring, logger.Named("scoring")),
		Ledger:     a.Ledger,
		Watermarks: wm,
		Events:     a.Events,
	}, pipeline.Config{
		ChannelID:     cfg.YouTube.ChannelID,
		ChannelVideos: cfg.Profile.TopNVideos,
		Regions:       cfg.YouTube.RegionCodes,
		Normalizer: candidate.Config{
			AllowedLanguages: cfg.Pipeline.AllowedLanguages,
			ShortMaxSeconds:  cfg.Pipeline.ShortMaxSeconds,
			LongMinSeconds:   cfg.Pipeline.LongMinSeconds,
			MinTermOverlap:   cfg.Pipeline.MinTermOverlap,
		},
		Selection: selection.Config{
			MaxShorts: cfg.Selection.MaxShortsPerDay,
			MaxLongs:  cfg.Selection.MaxLongsPerDay,
			TopicCap:  cfg.Selection.TopicCap,
		},
		RetentionDays: cfg.Retention.Days,
	}, logger.Named("pipeline"))

	return a, nil
}

// embedder returns the remote embedder, cached in redis when enabled. Without
// an API key it falls back to the local hashing embedder.
func (a *App) embedder() (embedding.Embedder, string) {
	cfg := a.Config
	if cfg.LLM.APIKey == "" {
		logger.Warn("No embedding API key configured, using hashing embedder",
			zap.Int("dimension", cfg.LLM.EmbeddingDim),
		)
		return embedding.NewHashingEmbedder(cfg.LLM.EmbeddingDim), "hashing"
	}

	var e embedding.Embedder = llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Timeout:        time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		BatchSize:      cfg.LLM.BatchSize,
	})
	if a.Redis != nil {
		ttl := time.Duration(cfg.Redis.EmbeddingTTLHours) * time.Hour
		e = embedding.NewCachedEmbedder(e, a.Redis, cfg.LLM.EmbeddingModel, ttl)
	}
	return e, cfg.LLM.EmbeddingModel
}

// QuotaDays reads the per-day ledger from whichever backend holds it.
func (a *App) QuotaDays() handlers.QuotaDayReader {
	return a.quotaStore
}

// Pingers lists the dependencies the readiness probe checks.
func (a *App) Pingers() map[string]handlers.Pinger {
	deps := map[string]handlers.Pinger{"sqlite": a.DB}
	if a.Redis != nil {
		deps["redis"] = a.Redis
	}
	return deps
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Warn("Failed to close redis", zap.Error(err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			logger.Warn("Failed to close sqlite", zap.Error(err))
		}
	}
}
