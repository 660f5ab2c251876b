package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	LLM       LLMConfig
	YouTube   YouTubeConfig
	Quota     QuotaConfig
	Profile   ProfileConfig
	Pipeline  PipelineConfig
	Scoring   ScoringConfig
	Selection SelectionConfig
	Tasks     TasksConfig
	Retention RetentionConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host                 string
	Port                 int
	ReadTimeout          int
	WriteTimeout         int
	BodyLimit            int
	MaxRequestsPerMinute int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled           bool
	Host              string
	Port              int
	Password          string
	DB                int
	EmbeddingTTLHours int
}

type LLMConfig struct {
	Provider       string
	APIKey         string
	BaseURL        string
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
	BatchSize      int
}

type YouTubeConfig struct {
	APIKey         string
	ChannelID      string
	RegionCodes    []string
	PagesPerRegion int
	MaxResults     int
	TimeoutSec     int
	RequestsPerSec float64
	Burst          int
	MaxAttempts    int
	InitialDelayMs int
}

type QuotaConfig struct {
	Backend      string
	DailyLimit   int
	HaltFraction float64
}

type ProfileConfig struct {
	TopNVideos       int
	MinVideos        int
	TopTerms         int
	RecencyNewest    float64
	RecencyOldest    float64
	Language         string
	WeightSimilarity float64
	WeightVelocity   float64
	WeightEngagement float64
}

type PipelineConfig struct {
	AllowedLanguages []string
	ShortMaxSeconds  int
	LongMinSeconds   int
	MinTermOverlap   float64
}

type ScoringConfig struct {
	Thresholds   ThresholdsConfig
	Anchors      AnchorsConfig
	Base         FormatPoints
	Velocity     FormatPoints
	Engagement   FormatPoints
	Similarity   float64
	MultiRegion  MultiRegionConfig
	Freshness    FreshnessConfig
	Saturation   float64
	SmallChannel SmallChannelConfig
	Keywords     KeywordsConfig
}

type ThresholdsConfig struct {
	Short float64
	Long  float64
	Floor float64
}

// AnchorsConfig names the percentiles used as the 1.0 point when
// normalizing velocity and engagement within a format bucket.
type AnchorsConfig struct {
	VelocityPercentile   float64
	EngagementPercentile float64
}

type FormatPoints struct {
	Short float64
	Long  float64
}

type MultiRegionConfig struct {
	PerRegion float64
	Max       float64
}

type FreshnessConfig struct {
	ShortMax        float64
	ShortDecayHours float64
	LongMax         float64
	LongDecayHours  float64
}

type SmallChannelConfig struct {
	SubscriberLimit int64
	Bonus           float64
}

type KeywordsConfig struct {
	Gold            []string
	HighValue       []string
	Junk            []string
	Categories      []string
	GoldPoints      int
	GoldCap         int
	HighValuePoints int
	HighValueCap    int
	CategoryPoints  int
	JunkPenalty     int
	FilterEnabled   bool
	MinScore        int
}

type SelectionConfig struct {
	MaxShortsPerDay int
	MaxLongsPerDay  int
	TopicCap        int
}

// TasksConfig maps task names to a cadence: daily, weekly or every_N_days.
type TasksConfig struct {
	Frequencies map[string]string
}

type RetentionConfig struct {
	Days int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/trendscout")

	v.SetEnvPrefix("TRENDSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns the built-in defaults without reading files or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return &config
}

func (c *Config) Validate() error {
	p := c.Profile
	sum := p.WeightSimilarity + p.WeightVelocity + p.WeightEngagement
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("profile weights must sum to 1.0, got %.4f", sum)
	}
	if c.Selection.MaxShortsPerDay < 0 || c.Selection.MaxLongsPerDay < 0 {
		return errors.New("selection caps must be non-negative")
	}
	if c.Selection.TopicCap < 1 {
		return errors.New("selection.topicCap must be at least 1")
	}
	t := c.Scoring.Thresholds
	if t.Floor < 0 || t.Floor > 1 || t.Short < 0 || t.Short > 1 || t.Long < 0 || t.Long > 1 {
		return errors.New("similarity thresholds must be within [0,1]")
	}
	a := c.Scoring.Anchors
	if a.VelocityPercentile <= 0 || a.VelocityPercentile > 100 || a.EngagementPercentile <= 0 || a.EngagementPercentile > 100 {
		return errors.New("anchor percentiles must be within (0,100]")
	}
	if c.Quota.DailyLimit <= 0 {
		return errors.New("quota.dailyLimit must be positive")
	}
	if c.Pipeline.ShortMaxSeconds >= c.Pipeline.LongMinSeconds {
		return errors.New("pipeline.shortMaxSeconds must be below pipeline.longMinSeconds")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.maxRequestsPerMinute", 60)

	v.SetDefault("sqlite.path", "./data/trendscout.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.embeddingTTLHours", 24*14)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.timeoutSec", 30)
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.embeddingDim", 1536)
	v.SetDefault("llm.batchSize", 100)

	v.SetDefault("youtube.apiKey", "")
	v.SetDefault("youtube.channelID", "")
	v.SetDefault("youtube.regionCodes", []string{"PE", "MX", "AR", "CO", "CL", "ES", "US", "GB", "IN", "BR", "PT"})
	v.SetDefault("youtube.pagesPerRegion", 1)
	v.SetDefault("youtube.maxResults", 50)
	v.SetDefault("youtube.timeoutSec", 15)
	v.SetDefault("youtube.requestsPerSec", 5.0)
	v.SetDefault("youtube.burst", 5)
	v.SetDefault("youtube.maxAttempts", 3)
	v.SetDefault("youtube.initialDelayMs", 500)

	v.SetDefault("quota.backend", "sqlite")
	v.SetDefault("quota.dailyLimit", 10000)
	v.SetDefault("quota.haltFraction", 0.9)

	v.SetDefault("profile.topNVideos", 150)
	v.SetDefault("profile.minVideos", 30)
	v.SetDefault("profile.topTerms", 25)
	v.SetDefault("profile.recencyNewest", 1.5)
	v.SetDefault("profile.recencyOldest", 0.5)
	v.SetDefault("profile.language", "es")
	v.SetDefault("profile.weightSimilarity", 0.6)
	v.SetDefault("profile.weightVelocity", 0.25)
	v.SetDefault("profile.weightEngagement", 0.15)

	v.SetDefault("pipeline.allowedLanguages", []string{"es", "en", "hi", "pt"})
	v.SetDefault("pipeline.shortMaxSeconds", 60)
	v.SetDefault("pipeline.longMinSeconds", 180)
	v.SetDefault("pipeline.minTermOverlap", 0.05)

	v.SetDefault("scoring.thresholds.short", 0.65)
	v.SetDefault("scoring.thresholds.long", 0.55)
	v.SetDefault("scoring.thresholds.floor", 0.35)
	v.SetDefault("scoring.anchors.velocityPercentile", 80.0)
	v.SetDefault("scoring.anchors.engagementPercentile", 60.0)
	v.SetDefault("scoring.base.short", 6.0)
	v.SetDefault("scoring.base.long", 4.0)
	v.SetDefault("scoring.velocity.short", 20.0)
	v.SetDefault("scoring.velocity.long", 15.0)
	v.SetDefault("scoring.engagement.short", 10.0)
	v.SetDefault("scoring.engagement.long", 15.0)
	v.SetDefault("scoring.similarity", 4.0)
	v.SetDefault("scoring.multiRegion.perRegion", 0.5)
	v.SetDefault("scoring.multiRegion.max", 2.0)
	v.SetDefault("scoring.freshness.shortMax", 5.0)
	v.SetDefault("scoring.freshness.shortDecayHours", 3.0)
	v.SetDefault("scoring.freshness.longMax", 3.0)
	v.SetDefault("scoring.freshness.longDecayHours", 8.0)
	v.SetDefault("scoring.saturation", 0.5)
	v.SetDefault("scoring.smallChannel.subscriberLimit", 100000)
	v.SetDefault("scoring.smallChannel.bonus", 2.0)
	v.SetDefault("scoring.keywords.gold", []string{"tutorial", "ia", "pc", "tecnologia"})
	v.SetDefault("scoring.keywords.highValue", []string{})
	v.SetDefault("scoring.keywords.junk", []string{"free fire", "fortnite", "reto"})
	v.SetDefault("scoring.keywords.categories", []string{"27", "28", "24"})
	v.SetDefault("scoring.keywords.goldPoints", 10)
	v.SetDefault("scoring.keywords.goldCap", 50)
	v.SetDefault("scoring.keywords.highValuePoints", 15)
	v.SetDefault("scoring.keywords.highValueCap", 30)
	v.SetDefault("scoring.keywords.categoryPoints", 20)
	v.SetDefault("scoring.keywords.junkPenalty", 50)
	v.SetDefault("scoring.keywords.filterEnabled", false)
	v.SetDefault("scoring.keywords.minScore", 50)

	v.SetDefault("selection.maxShortsPerDay", 20)
	v.SetDefault("selection.maxLongsPerDay", 15)
	v.SetDefault("selection.topicCap", 2)

	v.SetDefault("tasks.frequencies", map[string]string{
		"import_channel_videos": "daily",
		"build_channel_profile": "every_3_days",
		"fetch_trending":        "daily",
		"purge_trending":        "weekly",
	})

	v.SetDefault("retention.days", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
