package profile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trendscout/backend/internal/embedding"
	"github.com/trendscout/backend/internal/metrics"
	"github.com/trendscout/backend/internal/storage/models"
	"github.com/trendscout/backend/internal/textproc"
)

var (
	ErrNoVideos       = errors.New("no channel videos to build a profile from")
	ErrInvalidWeights = errors.New("profile weights must sum to 1.0")
)

const weightTolerance = 1e-6

type VideoStore interface {
	RecentChannelVideos(ctx context.Context, channelID string, limit int) ([]models.ChannelVideo, error)
}

type Store interface {
	SaveProfile(ctx context.Context, p *models.ChannelProfile) (int, error)
}

type Config struct {
	ChannelID     string
	TopN          int
	MinVideos     int
	TopTerms      int
	RecencyNewest float64
	RecencyOldest float64
	Weights       models.ProfileWeights
	Language      string
	Model         string
}

type Builder struct {
	videos   VideoStore
	store    Store
	embedder embedding.Embedder
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

func NewBuilder(videos VideoStore, store Store, embedder embedding.Embedder, cfg Config, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		videos:   videos,
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Build derives a profile from the channel's most recent videos and
// replaces the active one.
func (b *Builder) Build(ctx context.Context) (*models.ChannelProfile, error) {
	videos, err := b.videos.RecentChannelVideos(ctx, b.cfg.ChannelID, b.cfg.TopN)
	if err != nil {
		return nil, fmt.Errorf("failed to load channel videos: %w", err)
	}

	p, err := Compute(ctx, b.embedder, videos, b.cfg, b.now())
	if err != nil {
		return nil, err
	}

	if p.LowConfidence {
		b.logger.Warn("Channel profile built from a small sample",
			zap.Int("videos", p.SampleSize),
			zap.Int("min_videos", b.cfg.MinVideos),
		)
	}

	if _, err := b.store.SaveProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}

	metrics.ProfileVersion.Set(float64(p.Version))
	b.logger.Info("Channel profile built",
		zap.String("profile_id", p.ID),
		zap.Int("version", p.Version),
		zap.Int("videos", p.SampleSize),
		zap.Int("terms", len(p.TopTerms)),
	)
	return p, nil
}

// Compute builds a profile from videos ordered newest first.
func Compute(ctx context.Context, embedder embedding.Embedder, videos []models.ChannelVideo, cfg Config, now time.Time) (*models.ChannelProfile, error) {
	if math.Abs(cfg.Weights.Sum()-1.0) > weightTolerance {
		return nil, fmt.Errorf("%w: got %.6f", ErrInvalidWeights, cfg.Weights.Sum())
	}
	if len(videos) == 0 {
		return nil, ErrNoVideos
	}

	texts := make([]string, len(videos))
	docs := make([][]string, len(videos))
	for i, v := range videos {
		texts[i] = VideoText(v.Title, v.Description)
		docs[i] = textproc.Tokenize(texts[i])
	}

	vecs, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed channel videos: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}

	vector, err := embedding.WeightedMean(vecs, RecencyWeights(len(videos), cfg.RecencyNewest, cfg.RecencyOldest))
	if err != nil {
		return nil, fmt.Errorf("failed to build niche vector: %w", err)
	}

	return &models.ChannelProfile{
		ID:                 uuid.New().String(),
		ChannelID:          cfg.ChannelID,
		EmbeddingDimension: len(vector),
		Vector:             vector,
		TopTerms:           textproc.TopTerms(docs, cfg.TopTerms),
		Weights:            cfg.Weights,
		Language:           cfg.Language,
		Model:              cfg.Model,
		SampleSize:         len(videos),
		LowConfidence:      len(videos) < cfg.MinVideos,
		GeneratedAt:        now.UTC(),
	}, nil
}

// VideoText is the text embedded for a video, shared by channel videos and
// trending candidates so both land in the same space.
func VideoText(title, description string) string {
	title = textproc.Clean(title)
	description = textproc.Clean(description)
	if description == "" {
		return title
	}
	return title + ". " + description
}

// RecencyWeights spreads n weights linearly from newest to oldest and
// normalizes them to sum to 1.
func RecencyWeights(n int, newest, oldest float64) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{1}
	}

	weights := make([]float64, n)
	var sum float64
	step := (oldest - newest) / float64(n-1)
	for i := range weights {
		weights[i] = newest + step*float64(i)
		sum += weights[i]
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}
