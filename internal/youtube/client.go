package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/trendscout/backend/internal/metrics"
	"github.com/trendscout/backend/internal/quota"
	"github.com/trendscout/backend/internal/storage/models"
	"github.com/trendscout/backend/pkg/circuitbreaker"
	"github.com/trendscout/backend/pkg/retry"
)

var (
	ErrUpstreamUnavailable = errors.New("video source unavailable")
	ErrChannelNotFound     = errors.New("channel not found")
)

const (
	maxIDsPerCall = 50
	chartPageSize = 50
)

var videoParts = []string{"snippet", "contentDetails", "statistics"}

// QuotaGuard reserves quota around a single upstream call.
type QuotaGuard interface {
	Guard(ctx context.Context, operation string, units int, fn func(ctx context.Context) error) error
}

type Config struct {
	APIKey         string
	Endpoint       string
	HTTPClient     *http.Client
	PagesPerRegion int
	Timeout        time.Duration
	RequestsPerSec float64
	Burst          int
	Retry          retry.Config
}

type Client struct {
	service *youtube.Service
	quota   QuotaGuard
	limiter *rate.Limiter
	cb      *circuitbreaker.CircuitBreaker
	retry   retry.Config
	pages   int
	timeout time.Duration
	logger  *zap.Logger
}

func NewClient(ctx context.Context, cfg Config, guard QuotaGuard, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts []option.ClientOption
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	} else {
		if cfg.APIKey == "" {
			return nil, errors.New("youtube api key required")
		}
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}

	if cfg.PagesPerRegion <= 0 {
		cfg.PagesPerRegion = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	cfg.Retry.Classify = classify
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = logger
	}

	cb := circuitbreaker.NewCircuitBreaker("youtube", circuitbreaker.Config{
		MaxRequests:      1,
		Timeout:          time.Minute,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		IsFailure:        countsAgainstBreaker,
		Logger:           logger,
	})

	return &Client{
		service: service,
		quota:   guard,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		cb:      cb,
		retry:   cfg.Retry,
		pages:   cfg.PagesPerRegion,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// call runs one quota-metered request: ledger reservation, breaker, bounded
// retry, pacing and a per-attempt timeout, in that order.
func (c *Client) call(ctx context.Context, operation string, units int, fn func(ctx context.Context) error) error {
	err := c.quota.Guard(ctx, operation, units, func(ctx context.Context) error {
		return c.cb.Execute(ctx, func(ctx context.Context) error {
			res := retry.Do(ctx, c.retry, func(ctx context.Context) error {
				if err := c.limiter.Wait(ctx); err != nil {
					return err
				}
				callCtx, cancel := context.WithTimeout(ctx, c.timeout)
				defer cancel()
				return fn(callCtx)
			})
			return res.Err
		})
	})

	switch {
	case err == nil:
		metrics.UpstreamRequests.WithLabelValues(operation, "ok").Inc()
		return nil
	case quota.Denied(err):
		metrics.UpstreamRequests.WithLabelValues(operation, "denied").Inc()
		return err
	case isQuotaExceeded(err):
		metrics.UpstreamRequests.WithLabelValues(operation, "denied").Inc()
		return fmt.Errorf("%w: upstream reported %v", quota.ErrQuotaExceeded, err)
	case errors.Is(err, retry.ErrAttemptsExhausted), errors.Is(err, circuitbreaker.ErrCircuitOpen),
		errors.Is(err, circuitbreaker.ErrTooManyRequests):
		metrics.UpstreamRequests.WithLabelValues(operation, "unavailable").Inc()
		return fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, operation, err)
	default:
		metrics.UpstreamRequests.WithLabelValues(operation, "error").Inc()
		return fmt.Errorf("%s: %w", operation, err)
	}
}

// ListTrendingByRegion pages through the most-popular chart for region.
// Pages fetched before a failure are returned along with the error.
func (c *Client) ListTrendingByRegion(ctx context.Context, region string) ([]models.RawVideo, error) {
	var out []models.RawVideo
	pageToken := ""

	for page := 0; page < c.pages; page++ {
		var resp *youtube.VideoListResponse
		err := c.call(ctx, "videos.list", quota.CostList, func(ctx context.Context) error {
			call := c.service.Videos.List(videoParts).
				Chart("mostPopular").
				RegionCode(region).
				MaxResults(chartPageSize).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var err error
			resp, err = call.Do()
			return err
		})
		if err != nil {
			return out, err
		}

		for _, item := range resp.Items {
			raw := toRawVideo(item)
			raw.Region = region
			out = append(out, raw)
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	c.logger.Debug("Trending chart fetched", zap.String("region", region), zap.Int("videos", len(out)))
	return out, nil
}

// ListChannelVideos returns up to max of the channel's uploads with full
// metadata, newest first as the uploads playlist orders them.
func (c *Client) ListChannelVideos(ctx context.Context, channelID string, max int) ([]models.RawVideo, error) {
	uploads, err := c.uploadsPlaylist(ctx, channelID)
	if err != nil {
		return nil, err
	}

	var ids []string
	pageToken := ""
	for len(ids) < max {
		var resp *youtube.PlaylistItemListResponse
		err := c.call(ctx, "playlistItems.list", quota.CostList, func(ctx context.Context) error {
			call := c.service.PlaylistItems.List([]string{"contentDetails"}).
				PlaylistId(uploads).
				MaxResults(maxIDsPerCall).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var err error
			resp, err = call.Do()
			return err
		})
		if err != nil {
			return nil, err
		}

		for _, item := range resp.Items {
			if item.ContentDetails != nil && item.ContentDetails.VideoId != "" {
				ids = append(ids, item.ContentDetails.VideoId)
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	if len(ids) > max {
		ids = ids[:max]
	}

	return c.videosByID(ctx, ids)
}

func (c *Client) uploadsPlaylist(ctx context.Context, channelID string) (string, error) {
	var playlistID string
	err := c.call(ctx, "channels.list", quota.CostList, func(ctx context.Context) error {
		resp, err := c.service.Channels.List([]string{"contentDetails"}).
			Id(channelID).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 || resp.Items[0].ContentDetails == nil || resp.Items[0].ContentDetails.RelatedPlaylists == nil {
			return ErrChannelNotFound
		}
		playlistID = resp.Items[0].ContentDetails.RelatedPlaylists.Uploads
		return nil
	})
	if err != nil {
		return "", err
	}
	if playlistID == "" {
		return "", ErrChannelNotFound
	}
	return playlistID, nil
}

func (c *Client) videosByID(ctx context.Context, ids []string) ([]models.RawVideo, error) {
	out := make([]models.RawVideo, 0, len(ids))
	for start := 0; start < len(ids); start += maxIDsPerCall {
		end := min(start+maxIDsPerCall, len(ids))
		batch := ids[start:end]

		var resp *youtube.VideoListResponse
		err := c.call(ctx, "videos.list", quota.CostList, func(ctx context.Context) error {
			var err error
			resp, err = c.service.Videos.List(videoParts).
				Id(batch...).
				MaxResults(maxIDsPerCall).
				Context(ctx).
				Do()
			return err
		})
		if err != nil {
			return nil, err
		}

		for _, item := range resp.Items {
			out = append(out, toRawVideo(item))
		}
	}
	return out, nil
}

// ChannelSubscribers looks up public subscriber counts in batches of 50.
// Channels that hide their count are absent from the result.
func (c *Client) ChannelSubscribers(ctx context.Context, ids []string) (map[string]int64, error) {
	out := make(map[string]int64, len(ids))
	for start := 0; start < len(ids); start += maxIDsPerCall {
		end := min(start+maxIDsPerCall, len(ids))
		batch := ids[start:end]

		var resp *youtube.ChannelListResponse
		err := c.call(ctx, "channels.list", quota.CostList, func(ctx context.Context) error {
			var err error
			resp, err = c.service.Channels.List([]string{"statistics"}).
				Id(batch...).
				MaxResults(maxIDsPerCall).
				Context(ctx).
				Do()
			return err
		})
		if err != nil {
			return out, err
		}

		for _, ch := range resp.Items {
			if ch.Statistics == nil || ch.Statistics.HiddenSubscriberCount {
				continue
			}
			out[ch.Id] = int64(ch.Statistics.SubscriberCount)
		}
	}
	return out, nil
}

func toRawVideo(v *youtube.Video) models.RawVideo {
	raw := models.RawVideo{VideoID: v.Id}
	if s := v.Snippet; s != nil {
		raw.Title = s.Title
		raw.Description = s.Description
		raw.Tags = s.Tags
		raw.CategoryID = s.CategoryId
		raw.DefaultLanguage = s.DefaultLanguage
		raw.DefaultAudioLanguage = s.DefaultAudioLanguage
		raw.LiveBroadcastContent = s.LiveBroadcastContent
		raw.PublishedAt = s.PublishedAt
		raw.ChannelID = s.ChannelId
		raw.ChannelTitle = s.ChannelTitle
	}
	if cd := v.ContentDetails; cd != nil {
		raw.Duration = cd.Duration
	}
	if st := v.Statistics; st != nil {
		raw.ViewCount = st.ViewCount
		raw.LikeCount = st.LikeCount
		raw.CommentCount = st.CommentCount
	}
	return raw
}

func apiReason(gerr *googleapi.Error) string {
	for _, item := range gerr.Errors {
		if item.Reason != "" {
			return item.Reason
		}
	}
	return ""
}

func isQuotaExceeded(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	reason := apiReason(gerr)
	return gerr.Code == http.StatusForbidden && (reason == "quotaExceeded" || reason == "dailyLimitExceeded")
}

// classify retries throttling, server errors and transport failures.
func classify(err error) retry.Outcome {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrChannelNotFound) {
		return retry.Fatal
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return retry.Retryable
	}

	switch {
	case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
		return retry.Retryable
	case gerr.Code == http.StatusForbidden:
		switch apiReason(gerr) {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return retry.Retryable
		}
	}
	return retry.Fatal
}

// countsAgainstBreaker ignores errors that say nothing about upstream health.
func countsAgainstBreaker(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrChannelNotFound) || isQuotaExceeded(err) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code >= 400 && gerr.Code < 500 && gerr.Code != http.StatusTooManyRequests {
		return false
	}
	return true
}
