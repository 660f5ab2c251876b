package profile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/trendscout/backend/internal/embedding"
	"github.com/trendscout/backend/internal/storage/models"
	"github.com/trendscout/backend/internal/storage/sqlite"
	"github.com/trendscout/backend/pkg/logger"
)

var defaultWeights = models.ProfileWeights{Similarity: 0.6, Velocity: 0.25, Engagement: 0.15}

func testConfig() Config {
	return Config{
		ChannelID:     "UC1",
		TopN:          150,
		MinVideos:     30,
		TopTerms:      25,
		RecencyNewest: 1.5,
		RecencyOldest: 0.5,
		Weights:       defaultWeights,
		Language:      "es",
		Model:         "hashing",
	}
}

func TestRecencyWeights(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want []float64
	}{
		{"single", 1, []float64{1}},
		{"two", 2, []float64{0.75, 0.25}},
		{"three", 3, []float64{0.5, 1.0 / 3, 1.0 / 6}},
		{"none", 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RecencyWeights(tt.n, 1.5, 0.5)
			if len(got) != len(tt.want) {
				t.Fatalf("RecencyWeights() = %v, want %v", got, tt.want)
			}
			var sum float64
			for i := range got {
				if math.Abs(got[i]-tt.want[i]) > 1e-9 {
					t.Errorf("weight[%d] = %v, want %v", i, got[i], tt.want[i])
				}
				sum += got[i]
			}
			if tt.n > 0 && math.Abs(sum-1) > 1e-9 {
				t.Errorf("sum = %v, want 1", sum)
			}
		})
	}
}

func sampleVideos(n int) []models.ChannelVideo {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	videos := make([]models.ChannelVideo, n)
	for i := range videos {
		videos[i] = models.ChannelVideo{
			VideoID:     fmt.Sprintf("v%02d", i),
			ChannelID:   "UC1",
			Title:       "Tutorial armar gamer barato",
			Description: "Guía completa hardware componentes",
			PublishedAt: base.Add(-time.Duration(i) * time.Hour),
		}
	}
	return videos
}

func TestCompute(t *testing.T) {
	now := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	p, err := Compute(context.Background(), embedding.NewHashingEmbedder(32), sampleVideos(40), testConfig(), now)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}

	var norm float64
	for _, x := range p.Vector {
		norm += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-5 {
		t.Errorf("vector norm = %v, want 1", math.Sqrt(norm))
	}
	if p.EmbeddingDimension != 32 || p.SampleSize != 40 || p.LowConfidence {
		t.Errorf("profile = dim %d sample %d lowConfidence %v", p.EmbeddingDimension, p.SampleSize, p.LowConfidence)
	}
	if len(p.TopTerms) == 0 || len(p.TopTerms) > 25 {
		t.Errorf("TopTerms len = %d", len(p.TopTerms))
	}
	if !p.GeneratedAt.Equal(now) || p.Weights != defaultWeights {
		t.Errorf("metadata = %v %+v", p.GeneratedAt, p.Weights)
	}
}

func TestCompute_Errors(t *testing.T) {
	ctx := context.Background()
	emb := embedding.NewHashingEmbedder(16)
	now := time.Now()

	if _, err := Compute(ctx, emb, nil, testConfig(), now); !errors.Is(err, ErrNoVideos) {
		t.Errorf("no videos err = %v, want ErrNoVideos", err)
	}

	cfg := testConfig()
	cfg.Weights.Similarity = 0.7
	if _, err := Compute(ctx, emb, sampleVideos(3), cfg, now); !errors.Is(err, ErrInvalidWeights) {
		t.Errorf("bad weights err = %v, want ErrInvalidWeights", err)
	}

	videos := sampleVideos(1)
	videos[0].Title = "de la"
	videos[0].Description = ""
	if _, err := Compute(ctx, emb, videos, testConfig(), now); !errors.Is(err, embedding.ErrZeroVector) {
		t.Errorf("stopword-only text err = %v, want ErrZeroVector", err)
	}
}

func TestBuilder_BuildPersistsAndVersions(t *testing.T) {
	logger.InitNop()
	db, err := sqlite.NewClient(":memory:")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer db.Close()
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() error = %v", err)
	}
	ctx := context.Background()
	if _, err := db.UpsertChannelVideos(ctx, sampleVideos(5)); err != nil {
		t.Fatalf("UpsertChannelVideos() error = %v", err)
	}

	b := NewBuilder(db, db, embedding.NewHashingEmbedder(16), testConfig(), nil)

	first, err := b.Build(ctx)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !first.LowConfidence || first.Version != 1 {
		t.Errorf("first build = lowConfidence %v version %d, want true/1", first.LowConfidence, first.Version)
	}

	second, err := b.Build(ctx)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if second.Version != 2 {
		t.Errorf("second version = %d, want 2", second.Version)
	}

	active, err := db.ActiveProfile(ctx)
	if err != nil {
		t.Fatalf("ActiveProfile() error = %v", err)
	}
	if active.ID != second.ID {
		t.Errorf("active profile = %s, want %s", active.ID, second.ID)
	}
}
