package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/trendscout/backend/internal/embedding"
	"github.com/trendscout/backend/internal/metrics"
	"github.com/trendscout/backend/internal/profile"
	"github.com/trendscout/backend/internal/storage/models"
	"github.com/trendscout/backend/internal/textproc"
	"github.com/trendscout/backend/pkg/config"
)

var ErrProfileUnavailable = errors.New("channel profile unavailable")

// Rejected is a candidate excluded from the shortlist with its reason.
type Rejected struct {
	Candidate models.Candidate
	Reason    models.RejectionReason
	Detail    string
}

// Result splits a scored batch into candidates that cleared the hard filters
// and those rejected as below-threshold.
type Result struct {
	Passed   []models.Candidate
	Rejected []Rejected
}

type Scorer struct {
	embedder embedding.Embedder
	cfg      config.ScoringConfig
	logger   *zap.Logger
}

func NewScorer(embedder embedding.Embedder, cfg config.ScoringConfig, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{embedder: embedder, cfg: cfg, logger: logger}
}

// Score rates every candidate against p. The profile is required; nothing is
// scored without it.
func (s *Scorer) Score(ctx context.Context, p *models.ChannelProfile, candidates []models.Candidate) (*Result, error) {
	if p == nil || len(p.Vector) == 0 {
		return nil, ErrProfileUnavailable
	}
	if len(candidates) == 0 {
		return &Result{}, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = profile.VideoText(c.Title, c.Description)
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed candidates: %w", err)
	}
	if len(vecs) != len(candidates) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d candidates", len(vecs), len(candidates))
	}
	for _, v := range vecs {
		if len(v) != len(p.Vector) {
			return nil, fmt.Errorf("%w: profile dimension %d, candidate embedding %d",
				ErrProfileUnavailable, len(p.Vector), len(v))
		}
	}

	scored := make([]models.Candidate, len(candidates))
	copy(scored, candidates)

	anchors := s.anchors(scored)
	topics := make(map[string]int, len(scored))
	for i := range scored {
		scored[i].TopicKey = textproc.TopicKey(scored[i].Title)
		topics[scored[i].TopicKey]++
	}

	res := &Result{}
	for i := range scored {
		c := &scored[i]
		c.SimilarityToNiche = clamp01(embedding.Cosine(vecs[i], p.Vector))
		a := anchors[c.Format]
		c.VelocityPercentile = Normalize(c.ViewsPerHour, a.velocity)
		c.EngagementPercentile = Normalize(c.EngagementRate, a.engagement)
		c.NicheKeywordScore = KeywordScore(s.cfg.Keywords, c.Title+" "+c.Description+" "+strings.Join(c.Tags, " "), c.CategoryID)
		c.BlendScore = p.Weights.Similarity*c.SimilarityToNiche +
			p.Weights.Velocity*c.VelocityPercentile +
			p.Weights.Engagement*c.EngagementPercentile
		c.CompositeScore = s.Composite(c, topics[c.TopicKey])

		metrics.SimilarityScore.Observe(c.SimilarityToNiche)

		if detail, ok := s.belowThreshold(c); ok {
			res.Rejected = append(res.Rejected, Rejected{
				Candidate: *c,
				Reason:    models.ReasonBelowThreshold,
				Detail:    detail,
			})
			continue
		}
		res.Passed = append(res.Passed, *c)
	}

	s.logger.Info("Candidates scored",
		zap.Int("candidates", len(scored)),
		zap.Int("passed", len(res.Passed)),
		zap.Int("below_threshold", len(res.Rejected)),
	)
	return res, nil
}

// Composite sums the format base, normalized virality points, similarity,
// multi-region and freshness bonuses, less the topic saturation penalty.
// topicCount is how many candidates in the batch share c's topic.
func (s *Scorer) Composite(c *models.Candidate, topicCount int) float64 {
	cfg := s.cfg
	var base, vel, eng, fresh float64
	switch c.Format {
	case models.FormatShort:
		base, vel, eng = cfg.Base.Short, cfg.Velocity.Short, cfg.Engagement.Short
		fresh = decay(cfg.Freshness.ShortMax, c.AgeHours, cfg.Freshness.ShortDecayHours)
	default:
		base, vel, eng = cfg.Base.Long, cfg.Velocity.Long, cfg.Engagement.Long
		fresh = decay(cfg.Freshness.LongMax, c.AgeHours, cfg.Freshness.LongDecayHours)
	}

	score := base + vel*c.VelocityPercentile + eng*c.EngagementPercentile
	score += cfg.Similarity * c.SimilarityToNiche
	score += math.Min(float64(len(c.Regions))*cfg.MultiRegion.PerRegion, cfg.MultiRegion.Max)
	score += fresh
	if topicCount > 1 {
		score -= cfg.Saturation
	}
	if c.SubscribersKnown && c.ChannelSubscriberCount < cfg.SmallChannel.SubscriberLimit {
		score += cfg.SmallChannel.Bonus
	}
	return score
}

func (s *Scorer) belowThreshold(c *models.Candidate) (string, bool) {
	t := s.cfg.Thresholds
	if c.SimilarityToNiche < t.Floor {
		return fmt.Sprintf("similarity %.3f below floor %.2f", c.SimilarityToNiche, t.Floor), true
	}

	threshold := t.Long
	if c.Format == models.FormatShort {
		threshold = t.Short
	}
	if c.SimilarityToNiche < threshold {
		return fmt.Sprintf("similarity %.3f below %s threshold %.2f", c.SimilarityToNiche, c.Format, threshold), true
	}

	kw := s.cfg.Keywords
	if kw.FilterEnabled && c.NicheKeywordScore < kw.MinScore {
		return fmt.Sprintf("keyword score %d below %d", c.NicheKeywordScore, kw.MinScore), true
	}
	return "", false
}

type formatAnchors struct {
	velocity   float64
	engagement float64
}

func (s *Scorer) anchors(candidates []models.Candidate) map[models.Format]formatAnchors {
	vph := make(map[models.Format][]float64)
	eng := make(map[models.Format][]float64)
	for _, c := range candidates {
		vph[c.Format] = append(vph[c.Format], c.ViewsPerHour)
		eng[c.Format] = append(eng[c.Format], c.EngagementRate)
	}

	out := make(map[models.Format]formatAnchors, len(vph))
	for f := range vph {
		out[f] = formatAnchors{
			velocity:   Percentile(vph[f], s.cfg.Anchors.VelocityPercentile),
			engagement: Percentile(eng[f], s.cfg.Anchors.EngagementPercentile),
		}
	}
	return out
}

// Percentile returns the nearest-rank value at p (0..100) of values, using
// index round(p/100*(n-1)) on the ascending order. values is not modified.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	idx := int(math.Round(p / 100 * float64(len(sorted)-1)))
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

// Normalize maps v onto [0,1] against anchor. A zero anchor saturates any
// positive value.
func Normalize(v, anchor float64) float64 {
	if anchor <= 0 {
		if v > 0 {
			return 1
		}
		return 0
	}
	return clamp01(v / anchor)
}

// KeywordScore rates text against the configured keyword lists. Matching is
// by substring on the lowercased cleaned text; the score may be negative.
func KeywordScore(kw config.KeywordsConfig, text, categoryID string) int {
	text = strings.ToLower(textproc.Clean(text))

	gold := countMatches(text, kw.Gold) * kw.GoldPoints
	if kw.GoldCap > 0 {
		gold = min(gold, kw.GoldCap)
	}
	high := countMatches(text, kw.HighValue) * kw.HighValuePoints
	if kw.HighValueCap > 0 {
		high = min(high, kw.HighValueCap)
	}

	score := gold + high
	for _, cat := range kw.Categories {
		if categoryID != "" && cat == categoryID {
			score += kw.CategoryPoints
			break
		}
	}
	score -= countMatches(text, kw.Junk) * kw.JunkPenalty
	return score
}

func countMatches(text string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(text, k) {
			n++
		}
	}
	return n
}

func decay(maxPoints, ageHours, hoursPerPoint float64) float64 {
	if hoursPerPoint <= 0 {
		return 0
	}
	return math.Max(0, maxPoints-math.Max(0, ageHours)/hoursPerPoint)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
