package selection

import (
	"fmt"
	"sort"
	"time"

	"github.com/trendscout/backend/internal/metrics"
	"github.com/trendscout/backend/internal/scoring"
	"github.com/trendscout/backend/internal/storage/models"
)

type Config struct {
	MaxShorts int
	MaxLongs  int
	TopicCap  int
}

// Result partitions a scored batch: Accepted in rank order, Rejected holding
// every other candidate including the scorer's threshold rejections.
type Result struct {
	Accepted []models.Candidate
	Rejected []scoring.Rejected
}

// Rank orders candidates by composite score, then views, then earliest
// publication, then videoId. It sorts in place.
func Rank(candidates []models.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.CompositeScore != b.CompositeScore {
			return a.CompositeScore > b.CompositeScore
		}
		if a.ViewCount != b.ViewCount {
			return a.ViewCount > b.ViewCount
		}
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.Before(b.PublishedAt)
		}
		return a.VideoID < b.VideoID
	})
}

// Select applies per-format caps and topic diversity. Candidates held back by
// the topic cap are reconsidered in a second pass and only take room the
// first pass left unused.
func Select(passed []models.Candidate, belowThreshold []scoring.Rejected, cfg Config) Result {
	ranked := make([]models.Candidate, len(passed))
	copy(ranked, passed)
	Rank(ranked)

	topicCap := max(cfg.TopicCap, 1)
	caps := map[models.Format]int{
		models.FormatShort: cfg.MaxShorts,
		models.FormatLong:  cfg.MaxLongs,
	}
	taken := make(map[models.Format]int, 2)
	topics := make(map[string]int)
	accepted := make([]bool, len(ranked))

	res := Result{Rejected: append([]scoring.Rejected(nil), belowThreshold...)}

	var deferred []int
	for i, c := range ranked {
		switch {
		case taken[c.Format] >= caps[c.Format]:
			res.Rejected = append(res.Rejected, scoring.Rejected{
				Candidate: c,
				Reason:    models.ReasonCapExceeded,
				Detail:    fmt.Sprintf("%s bucket full at %d", c.Format, caps[c.Format]),
			})
		case topics[c.TopicKey] >= topicCap:
			deferred = append(deferred, i)
		default:
			accepted[i] = true
			taken[c.Format]++
			topics[c.TopicKey]++
		}
	}

	for _, i := range deferred {
		c := ranked[i]
		if taken[c.Format] < caps[c.Format] {
			accepted[i] = true
			taken[c.Format]++
			topics[c.TopicKey]++
			continue
		}
		res.Rejected = append(res.Rejected, scoring.Rejected{
			Candidate: c,
			Reason:    models.ReasonTopicSaturated,
			Detail:    fmt.Sprintf("topic %q already has %d accepted", c.TopicKey, topics[c.TopicKey]),
		})
	}

	for i, ok := range accepted {
		if ok {
			res.Accepted = append(res.Accepted, ranked[i])
			metrics.CandidatesSelected.WithLabelValues(string(ranked[i].Format)).Inc()
		}
	}
	for _, r := range res.Rejected {
		metrics.CandidatesRejected.WithLabelValues(string(r.Reason)).Inc()
	}
	return res
}

func (r Result) Counts() (models.FormatCounts, map[models.RejectionReason]int) {
	var accepted models.FormatCounts
	for _, c := range r.Accepted {
		switch c.Format {
		case models.FormatShort:
			accepted.Short++
		case models.FormatLong:
			accepted.Long++
		}
	}
	rejected := make(map[models.RejectionReason]int)
	for _, rej := range r.Rejected {
		rejected[rej.Reason]++
	}
	return accepted, rejected
}

// Shortlist converts accepted candidates into entries ranked from 1.
func (r Result) Shortlist(runID, runDate string, at time.Time) []models.ShortlistEntry {
	entries := make([]models.ShortlistEntry, len(r.Accepted))
	for i, c := range r.Accepted {
		entries[i] = models.ShortlistEntry{
			RunDate:              runDate,
			RunID:                runID,
			VideoID:              c.VideoID,
			Rank:                 i + 1,
			Format:               c.Format,
			Title:                c.Title,
			ChannelID:            c.ChannelID,
			ChannelTitle:         c.ChannelTitle,
			Regions:              c.Regions,
			ViewCount:            c.ViewCount,
			PublishedAt:          c.PublishedAt,
			SimilarityToNiche:    c.SimilarityToNiche,
			VelocityPercentile:   c.VelocityPercentile,
			EngagementPercentile: c.EngagementPercentile,
			NicheKeywordScore:    c.NicheKeywordScore,
			BlendScore:           c.BlendScore,
			CompositeScore:       c.CompositeScore,
			TopicKey:             c.TopicKey,
			SelectedAt:           at,
		}
	}
	return entries
}

func (r Result) Rejections(runID, runDate string, at time.Time) []models.Rejection {
	out := make([]models.Rejection, len(r.Rejected))
	for i, rej := range r.Rejected {
		out[i] = models.Rejection{
			RunID:             runID,
			RunDate:           runDate,
			VideoID:           rej.Candidate.VideoID,
			Format:            rej.Candidate.Format,
			Reason:            rej.Reason,
			Detail:            rej.Detail,
			SimilarityToNiche: rej.Candidate.SimilarityToNiche,
			CompositeScore:    rej.Candidate.CompositeScore,
			TopicKey:          rej.Candidate.TopicKey,
			CreatedAt:         at,
		}
	}
	return out
}
