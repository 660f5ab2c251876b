package models

import (
	"errors"
	"time"
)

type Format string

const (
	FormatShort  Format = "short"
	FormatMedium Format = "medium"
	FormatLong   Format = "long"
)

type TermWeight struct {
	Term   string  `json:"term"`
	Weight float64 `json:"weight"`
}

type ProfileWeights struct {
	Similarity float64 `json:"simToNiche"`
	Velocity   float64 `json:"velocity"`
	Engagement float64 `json:"engagement"`
}

func (w ProfileWeights) Sum() float64 {
	return w.Similarity + w.Velocity + w.Engagement
}

type ChannelProfile struct {
	ID                 string         `json:"id"`
	ChannelID          string         `json:"channelId"`
	Version            int            `json:"version"`
	EmbeddingDimension int            `json:"embeddingDimension"`
	Vector             []float32      `json:"vector"`
	TopTerms           []TermWeight   `json:"topTerms"`
	Weights            ProfileWeights `json:"weights"`
	Language           string         `json:"language"`
	Model              string         `json:"model"`
	SampleSize         int            `json:"sampleSize"`
	LowConfidence      bool           `json:"lowConfidence"`
	GeneratedAt        time.Time      `json:"generatedAt"`
}

// RawVideo is a metadata record as returned by the video source, before
// validation. Timestamps and durations are kept in their wire form.
type RawVideo struct {
	VideoID              string
	Title                string
	Description          string
	Tags                 []string
	CategoryID           string
	DefaultLanguage      string
	DefaultAudioLanguage string
	LiveBroadcastContent string
	PublishedAt          string
	Duration             string
	ViewCount            uint64
	LikeCount            uint64
	CommentCount         uint64
	ChannelID            string
	ChannelTitle         string
	Region               string
}

type ChannelVideo struct {
	VideoID         string
	ChannelID       string
	Title           string
	Description     string
	Tags            []string
	CategoryID      string
	Language        string
	PublishedAt     time.Time
	DurationSeconds int
	ViewCount       int64
	LikeCount       int64
	CommentCount    int64
	UpdatedAt       time.Time
}

type Candidate struct {
	VideoID      string
	SourceRegion string
	Regions      []string
	DiscoveredAt time.Time

	Title                  string
	Description            string
	Tags                   []string
	CategoryID             string
	Language               string
	PublishedAt            time.Time
	DurationSeconds        int
	ViewCount              int64
	LikeCount              int64
	CommentCount           int64
	ChannelID              string
	ChannelTitle           string
	ChannelSubscriberCount int64
	SubscribersKnown       bool

	AgeHours       float64
	ViewsPerHour   float64
	EngagementRate float64
	Format         Format
	TermOverlap    float64

	SimilarityToNiche    float64
	VelocityPercentile   float64
	EngagementPercentile float64
	NicheKeywordScore    int
	BlendScore           float64
	CompositeScore       float64
	TopicKey             string
}

type QuotaOperation struct {
	Operation string    `json:"operation"`
	Units     int       `json:"units"`
	Timestamp time.Time `json:"timestamp"`
}

type QuotaDay struct {
	Date          string           `json:"date"`
	UnitsUsed     int              `json:"unitsUsed"`
	UnitsReserved int              `json:"unitsReserved"`
	MaxUnits      int              `json:"maxUnits"`
	Operations    []QuotaOperation `json:"operations,omitempty"`
}

type TaskStatus string

const (
	StatusSuccess TaskStatus = "success"
	StatusError   TaskStatus = "error"
	StatusSkipped TaskStatus = "skipped"
)

type WatermarkRecord struct {
	TaskName      string     `json:"taskName"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
	LastAttemptAt time.Time  `json:"lastAttemptAt"`
	Status        TaskStatus `json:"status"`
	LastError     string     `json:"lastError,omitempty"`
}

type RejectionReason string

const (
	ReasonBelowThreshold RejectionReason = "below-threshold"
	ReasonTopicSaturated RejectionReason = "topic-saturated"
	ReasonCapExceeded    RejectionReason = "cap-exceeded"
)

type SkipReason string

const (
	SkipMalformed  SkipReason = "malformed"
	SkipLive       SkipReason = "live"
	SkipLanguage   SkipReason = "language"
	SkipMedium     SkipReason = "medium-format"
	SkipLowOverlap SkipReason = "low-overlap"
)

type ShortlistEntry struct {
	RunDate              string    `json:"runDate"`
	RunID                string    `json:"runId"`
	VideoID              string    `json:"videoId"`
	Rank                 int       `json:"rank"`
	Format               Format    `json:"format"`
	Title                string    `json:"title"`
	ChannelID            string    `json:"channelId"`
	ChannelTitle         string    `json:"channelTitle"`
	Regions              []string  `json:"regions"`
	ViewCount            int64     `json:"viewCount"`
	PublishedAt          time.Time `json:"publishedAt"`
	SimilarityToNiche    float64   `json:"similarityToNiche"`
	VelocityPercentile   float64   `json:"velocityPercentile"`
	EngagementPercentile float64   `json:"engagementPercentile"`
	NicheKeywordScore    int       `json:"nicheKeywordScore"`
	BlendScore           float64   `json:"blendScore"`
	CompositeScore       float64   `json:"compositeScore"`
	TopicKey             string    `json:"topicKey"`
	SelectedAt           time.Time `json:"selectedAt"`
}

type Rejection struct {
	RunID             string          `json:"runId"`
	RunDate           string          `json:"runDate"`
	VideoID           string          `json:"videoId"`
	Format            Format          `json:"format"`
	Reason            RejectionReason `json:"reason"`
	Detail            string          `json:"detail"`
	SimilarityToNiche float64         `json:"similarityToNiche"`
	CompositeScore    float64         `json:"compositeScore"`
	TopicKey          string          `json:"topicKey"`
	CreatedAt         time.Time       `json:"createdAt"`
}

type TaskResult struct {
	Name       string        `json:"name"`
	Status     TaskStatus    `json:"status"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
}

type FormatCounts struct {
	Short int `json:"short"`
	Long  int `json:"long"`
}

type RunReport struct {
	RunID                  string                  `json:"runId"`
	RunDate                string                  `json:"runDate"`
	StartedAt              time.Time               `json:"startedAt"`
	FinishedAt             time.Time               `json:"finishedAt"`
	Tasks                  []TaskResult            `json:"tasks"`
	ChannelVideosImported  int                     `json:"channelVideosImported"`
	ProfileVersion         int                     `json:"profileVersion"`
	CandidatesFetched      int                     `json:"candidatesFetched"`
	SkipTally              map[SkipReason]int      `json:"skipTally"`
	Scored                 int                     `json:"scored"`
	Accepted               FormatCounts            `json:"accepted"`
	Rejected               map[RejectionReason]int `json:"rejected"`
	RowsPurged             int64                   `json:"rowsPurged"`
	QuotaUsed              int                     `json:"quotaUsed"`
	QuotaRemainingFraction float64                 `json:"quotaRemainingFraction"`
}

func (r *RunReport) HasErrors() bool {
	for _, t := range r.Tasks {
		if t.Status == StatusError {
			return true
		}
	}
	return false
}

func (r *RunReport) Task(name string) (TaskResult, bool) {
	for _, t := range r.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskResult{}, false
}

// ErrNotFound is returned by stores when a keyed row does not exist.
var ErrNotFound = errors.New("not found")
