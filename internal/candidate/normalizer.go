package candidate

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trendscout/backend/internal/metrics"
	"github.com/trendscout/backend/internal/storage/models"
	"github.com/trendscout/backend/internal/textproc"
)

var (
	ErrMalformed       = errors.New("malformed video record")
	ErrInvalidDuration = errors.New("invalid ISO-8601 duration")
)

var durationPattern = regexp.MustCompile(`^P(?:(\d+)D)?T?(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// ParseDuration converts an ISO-8601 video duration such as PT1H2M3S into
// seconds.
func ParseDuration(s string) (int, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}

	multipliers := []int{86400, 3600, 60, 1}
	total := 0
	for i, mul := range multipliers {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		total += n * mul
	}
	return total, nil
}

// Language returns the lowercased base subtag of the audio language, falling
// back to the default language.
func Language(audio, fallback string) string {
	lang := audio
	if lang == "" {
		lang = fallback
	}
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		lang = lang[:i]
	}
	return strings.ToLower(strings.TrimSpace(lang))
}

type Config struct {
	AllowedLanguages []string
	ShortMaxSeconds  int
	LongMinSeconds   int
	MinTermOverlap   float64
}

// Result holds the surviving candidates in first-seen order and how many
// records were dropped for each reason.
type Result struct {
	Candidates []models.Candidate
	Skipped    map[models.SkipReason]int
}

func (r Result) SkippedTotal() int {
	total := 0
	for _, n := range r.Skipped {
		total += n
	}
	return total
}

type Normalizer struct {
	cfg     Config
	allowed map[string]struct{}
	terms   map[string]struct{}
	logger  *zap.Logger
}

// NewNormalizer builds a normalizer against the profile's top terms. With no
// terms the overlap filter is disabled.
func NewNormalizer(cfg Config, topTerms []models.TermWeight, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedLanguages))
	for _, l := range cfg.AllowedLanguages {
		allowed[strings.ToLower(l)] = struct{}{}
	}
	return &Normalizer{
		cfg:     cfg,
		allowed: allowed,
		terms:   textproc.TermSet(topTerms),
		logger:  logger,
	}
}

// Normalize filters and unifies raw records gathered across regions. A
// repeated videoId only contributes its region to the first occurrence.
func (n *Normalizer) Normalize(raw []models.RawVideo, now time.Time) Result {
	res := Result{Skipped: make(map[models.SkipReason]int)}
	seen := make(map[string]int, len(raw))
	now = now.UTC()

	for _, rv := range raw {
		if idx, ok := seen[rv.VideoID]; ok && rv.VideoID != "" {
			if idx >= 0 && rv.Region != "" {
				addRegion(&res.Candidates[idx], rv.Region)
			}
			continue
		}

		c, reason := n.normalizeOne(rv, now)
		if reason != "" {
			if rv.VideoID != "" {
				seen[rv.VideoID] = -1
			}
			res.Skipped[reason]++
			metrics.CandidatesSkipped.WithLabelValues(string(reason)).Inc()
			n.logger.Debug("Candidate skipped",
				zap.String("video_id", rv.VideoID),
				zap.String("reason", string(reason)),
			)
			continue
		}

		seen[rv.VideoID] = len(res.Candidates)
		res.Candidates = append(res.Candidates, c)
	}

	return res
}

func (n *Normalizer) normalizeOne(rv models.RawVideo, now time.Time) (models.Candidate, models.SkipReason) {
	published, seconds, err := Validate(rv)
	if err != nil {
		return models.Candidate{}, models.SkipMalformed
	}

	if rv.LiveBroadcastContent != "" && rv.LiveBroadcastContent != "none" {
		return models.Candidate{}, models.SkipLive
	}

	lang := Language(rv.DefaultAudioLanguage, rv.DefaultLanguage)
	if lang != "" && len(n.allowed) > 0 {
		if _, ok := n.allowed[lang]; !ok {
			return models.Candidate{}, models.SkipLanguage
		}
	}

	format := n.Format(seconds)
	if format == models.FormatMedium {
		return models.Candidate{}, models.SkipMedium
	}

	var overlap float64
	if len(n.terms) > 0 {
		tokens := textproc.Tokenize(rv.Title + " " + rv.Description + " " + strings.Join(rv.Tags, " "))
		overlap = textproc.Jaccard(tokens, n.terms)
		if overlap < n.cfg.MinTermOverlap {
			return models.Candidate{}, models.SkipLowOverlap
		}
	}

	c := models.Candidate{
		VideoID:         rv.VideoID,
		SourceRegion:    rv.Region,
		DiscoveredAt:    now,
		Title:           rv.Title,
		Description:     rv.Description,
		Tags:            rv.Tags,
		CategoryID:      rv.CategoryID,
		Language:        lang,
		PublishedAt:     published,
		DurationSeconds: seconds,
		ViewCount:       clampCount(rv.ViewCount),
		LikeCount:       clampCount(rv.LikeCount),
		CommentCount:    clampCount(rv.CommentCount),
		ChannelID:       rv.ChannelID,
		ChannelTitle:    rv.ChannelTitle,
		Format:          format,
		TermOverlap:     overlap,
	}
	if rv.Region != "" {
		c.Regions = []string{rv.Region}
	}
	Derive(&c, now)
	return c, ""
}

// Validate checks the fields every candidate needs and parses its timestamp
// and duration.
func Validate(rv models.RawVideo) (time.Time, int, error) {
	if rv.VideoID == "" || strings.TrimSpace(rv.Title) == "" || rv.ChannelID == "" {
		return time.Time{}, 0, fmt.Errorf("%w: missing id, title or channel", ErrMalformed)
	}
	published, err := time.Parse(time.RFC3339, rv.PublishedAt)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: publishedAt: %w", ErrMalformed, err)
	}
	seconds, err := ParseDuration(rv.Duration)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if seconds <= 0 {
		return time.Time{}, 0, fmt.Errorf("%w: zero duration", ErrMalformed)
	}
	return published.UTC(), seconds, nil
}

func (n *Normalizer) Format(seconds int) models.Format {
	switch {
	case seconds <= n.cfg.ShortMaxSeconds:
		return models.FormatShort
	case seconds >= n.cfg.LongMinSeconds:
		return models.FormatLong
	default:
		return models.FormatMedium
	}
}

// Derive fills age and velocity metrics. Zero views or a non-positive age
// yield zero rates.
func Derive(c *models.Candidate, now time.Time) {
	c.AgeHours = now.Sub(c.PublishedAt).Hours()

	c.ViewsPerHour = 0
	if c.ViewCount > 0 && c.AgeHours > 0 {
		c.ViewsPerHour = float64(c.ViewCount) / c.AgeHours
	}

	c.EngagementRate = 0
	if c.ViewCount > 0 {
		c.EngagementRate = float64(c.LikeCount+c.CommentCount) / float64(c.ViewCount)
	}
}

func addRegion(c *models.Candidate, region string) {
	for _, r := range c.Regions {
		if r == region {
			return
		}
	}
	c.Regions = append(c.Regions, region)
}

func clampCount(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
