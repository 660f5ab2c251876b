package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trendscout/backend/internal/candidate"
	"github.com/trendscout/backend/internal/quota"
	"github.com/trendscout/backend/internal/scoring"
	"github.com/trendscout/backend/internal/selection"
	"github.com/trendscout/backend/internal/storage/models"
	"github.com/trendscout/backend/internal/watermark"
)

const (
	TaskImportChannelVideos = "import_channel_videos"
	TaskBuildProfile        = "build_channel_profile"
	TaskFetchTrending       = "fetch_trending"
	TaskPurgeTrending       = "purge_trending"
)

const dateLayout = "2006-01-02"

var (
	ErrRunInProgress   = errors.New("a pipeline run is already in progress")
	ErrRunDateNotToday = errors.New("run date must be the current UTC date")
)

type VideoSource interface {
	ListTrendingByRegion(ctx context.Context, region string) ([]models.RawVideo, error)
	ListChannelVideos(ctx context.Context, channelID string, max int) ([]models.RawVideo, error)
	ChannelSubscribers(ctx context.Context, ids []string) (map[string]int64, error)
}

type Store interface {
	UpsertChannelVideos(ctx context.Context, videos []models.ChannelVideo) (int, error)
	ActiveProfile(ctx context.Context) (*models.ChannelProfile, error)
	UpsertShortlist(ctx context.Context, entries []models.ShortlistEntry) error
	DeleteShortlistExcept(ctx context.Context, runDate string, keep []string) (int64, error)
	AppendRejections(ctx context.Context, rejections []models.Rejection) error
	PurgeTrendingBefore(ctx context.Context, cutoff time.Time) (int64, error)
	UpsertRunReport(ctx context.Context, r *models.RunReport) error
}

type ProfileBuilder interface {
	Build(ctx context.Context) (*models.ChannelProfile, error)
}

type Scorer interface {
	Score(ctx context.Context, p *models.ChannelProfile, candidates []models.Candidate) (*scoring.Result, error)
}

type Ledger interface {
	Exhausted(ctx context.Context) bool
	Used(ctx context.Context) (int, error)
	RemainingFraction(ctx context.Context) (float64, error)
}

type Config struct {
	ChannelID     string
	ChannelVideos int
	Regions       []string
	Normalizer    candidate.Config
	Selection     selection.Config
	RetentionDays int
}

type Deps struct {
	Source     VideoSource
	Store      Store
	Builder    ProfileBuilder
	Scorer     Scorer
	Ledger     Ledger
	Watermarks *watermark.Controller
	Events     Publisher
}

type RunOptions struct {
	// Force runs every task regardless of its cadence.
	Force bool
}

type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu sync.Mutex
}

func New(deps Deps, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = nopPublisher{}
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger, now: time.Now}
}

// run carries the state of a single Run across its tasks.
type run struct {
	report *models.RunReport
	now    time.Time
}

type task struct {
	name string
	fn   func(ctx context.Context, r *run) error
}

func (p *Pipeline) tasks() []task {
	return []task{
		{TaskImportChannelVideos, p.importChannelVideos},
		{TaskBuildProfile, p.buildProfile},
		{TaskFetchTrending, p.fetchTrending},
		{TaskPurgeTrending, p.purgeTrending},
	}
}

func (p *Pipeline) Run(ctx context.Context, runDate time.Time) (*models.RunReport, error) {
	return p.RunWith(ctx, runDate, RunOptions{})
}

// RunWith executes every task in order for runDate. A failing task is
// recorded and the remaining tasks still run; the returned error is reserved
// for failures of the run itself.
func (p *Pipeline) RunWith(ctx context.Context, runDate time.Time, opts RunOptions) (*models.RunReport, error) {
	if err := p.checkRunDate(runDate); err != nil {
		return nil, err
	}
	if !p.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.mu.Unlock()

	return p.execute(ctx, runDate, opts)
}

// Outcome is what a background run delivers when it ends.
type Outcome struct {
	Report *models.RunReport
	Err    error
}

// Start takes the run lock and runs in the background. The channel receives
// one Outcome and is then closed.
func (p *Pipeline) Start(ctx context.Context, runDate time.Time, opts RunOptions) (<-chan Outcome, error) {
	if err := p.checkRunDate(runDate); err != nil {
		return nil, err
	}
	if !p.mu.TryLock() {
		return nil, ErrRunInProgress
	}

	done := make(chan Outcome, 1)
	go func() {
		defer close(done)
		defer p.mu.Unlock()
		report, err := p.execute(ctx, runDate, opts)
		if err != nil {
			p.logger.Error("Background run failed", zap.Error(err))
		}
		done <- Outcome{Report: report, Err: err}
	}()
	return done, nil
}

// checkRunDate rejects any date but today. Trending charts are only
// available live, so a past date would be relabelled with today's data.
func (p *Pipeline) checkRunDate(runDate time.Time) error {
	got := runDate.UTC().Format(dateLayout)
	today := p.now().UTC().Format(dateLayout)
	if got != today {
		return fmt.Errorf("%w: got %s, today is %s", ErrRunDateNotToday, got, today)
	}
	return nil
}

func (p *Pipeline) execute(ctx context.Context, runDate time.Time, opts RunOptions) (*models.RunReport, error) {
	r := &run{
		now: p.now().UTC(),
		report: &models.RunReport{
			RunID:     uuid.New().String(),
			RunDate:   runDate.UTC().Format(dateLayout),
			SkipTally: make(map[models.SkipReason]int),
			Rejected:  make(map[models.RejectionReason]int),
		},
	}
	r.report.StartedAt = r.now

	log := p.logger.With(zap.String("run_id", r.report.RunID), zap.String("run_date", r.report.RunDate))
	log.Info("Pipeline run started", zap.Bool("force", opts.Force))
	p.publish(r, Event{Type: EventRunStarted})

	for _, t := range p.tasks() {
		body := func(ctx context.Context) error { return t.fn(ctx, r) }

		var res models.TaskResult
		if opts.Force {
			res = p.deps.Watermarks.Execute(ctx, t.name, body)
		} else {
			res = p.deps.Watermarks.Run(ctx, t.name, body)
		}
		r.report.Tasks = append(r.report.Tasks, res)
		p.publish(r, Event{Type: EventTaskFinished, Task: t.name, Status: res.Status, Error: res.Error})
	}

	if used, err := p.deps.Ledger.Used(ctx); err == nil {
		r.report.QuotaUsed = used
	} else {
		log.Warn("Failed to read quota usage", zap.Error(err))
	}
	if frac, err := p.deps.Ledger.RemainingFraction(ctx); err == nil {
		r.report.QuotaRemainingFraction = frac
	}
	r.report.FinishedAt = p.now().UTC()

	if err := p.deps.Store.UpsertRunReport(ctx, r.report); err != nil {
		return r.report, fmt.Errorf("failed to save run report: %w", err)
	}

	p.publish(r, Event{Type: EventRunFinished})
	log.Info("Pipeline run finished",
		zap.Bool("errors", r.report.HasErrors()),
		zap.Int("accepted_short", r.report.Accepted.Short),
		zap.Int("accepted_long", r.report.Accepted.Long),
		zap.Int("quota_used", r.report.QuotaUsed),
	)
	return r.report, nil
}

func (p *Pipeline) publish(r *run, e Event) {
	e.RunID = r.report.RunID
	e.RunDate = r.report.RunDate
	e.Time = p.now().UTC()
	p.deps.Events.Publish(e)
}

func (p *Pipeline) haltIfExhausted(ctx context.Context) error {
	if p.deps.Ledger.Exhausted(ctx) {
		return fmt.Errorf("%w: daily quota halt threshold reached", watermark.ErrSkipped)
	}
	return nil
}

func (p *Pipeline) importChannelVideos(ctx context.Context, r *run) error {
	if p.cfg.ChannelID == "" {
		return fmt.Errorf("%w: no channel configured", watermark.ErrSkipped)
	}
	if err := p.haltIfExhausted(ctx); err != nil {
		return err
	}

	raws, err := p.deps.Source.ListChannelVideos(ctx, p.cfg.ChannelID, p.cfg.ChannelVideos)
	if err != nil {
		return fmt.Errorf("failed to list channel videos: %w", err)
	}

	videos := make([]models.ChannelVideo, 0, len(raws))
	for _, rv := range raws {
		published, seconds, err := candidate.Validate(rv)
		if err != nil {
			p.logger.Debug("Skipping malformed channel video", zap.String("video_id", rv.VideoID), zap.Error(err))
			continue
		}
		videos = append(videos, models.ChannelVideo{
			VideoID:         rv.VideoID,
			ChannelID:       rv.ChannelID,
			Title:           rv.Title,
			Description:     rv.Description,
			Tags:            rv.Tags,
			CategoryID:      rv.CategoryID,
			Language:        candidate.Language(rv.DefaultAudioLanguage, rv.DefaultLanguage),
			PublishedAt:     published,
			DurationSeconds: seconds,
			ViewCount:       int64(rv.ViewCount),
			LikeCount:       int64(rv.LikeCount),
			CommentCount:    int64(rv.CommentCount),
			UpdatedAt:       r.now,
		})
	}

	n, err := p.deps.Store.UpsertChannelVideos(ctx, videos)
	if err != nil {
		return fmt.Errorf("failed to store channel videos: %w", err)
	}
	r.report.ChannelVideosImported = n
	return nil
}

func (p *Pipeline) buildProfile(ctx context.Context, r *run) error {
	prof, err := p.deps.Builder.Build(ctx)
	if err != nil {
		return err
	}
	r.report.ProfileVersion = prof.Version
	return nil
}

func (p *Pipeline) fetchTrending(ctx context.Context, r *run) error {
	if err := p.haltIfExhausted(ctx); err != nil {
		return err
	}

	prof, err := p.deps.Store.ActiveProfile(ctx)
	if errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("%w: no active profile", scoring.ErrProfileUnavailable)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", scoring.ErrProfileUnavailable, err)
	}
	if r.report.ProfileVersion == 0 {
		r.report.ProfileVersion = prof.Version
	}

	raws, err := p.fetchRegions(ctx)
	if err != nil {
		return err
	}
	r.report.CandidatesFetched = len(raws)

	norm := candidate.NewNormalizer(p.cfg.Normalizer, prof.TopTerms, p.logger).Normalize(raws, r.now)
	for reason, n := range norm.Skipped {
		r.report.SkipTally[reason] += n
	}

	p.enrichSubscribers(ctx, norm.Candidates)

	scored, err := p.deps.Scorer.Score(ctx, prof, norm.Candidates)
	if err != nil {
		return err
	}
	r.report.Scored = len(norm.Candidates)

	sel := selection.Select(scored.Passed, scored.Rejected, p.cfg.Selection)
	runID, runDate := r.report.RunID, r.report.RunDate

	entries := sel.Shortlist(runID, runDate, r.now)
	if err := p.deps.Store.UpsertShortlist(ctx, entries); err != nil {
		return fmt.Errorf("failed to store shortlist: %w", err)
	}
	keep := make([]string, len(entries))
	for i, e := range entries {
		keep[i] = e.VideoID
	}
	if _, err := p.deps.Store.DeleteShortlistExcept(ctx, runDate, keep); err != nil {
		return fmt.Errorf("failed to clear stale shortlist entries: %w", err)
	}
	if err := p.deps.Store.AppendRejections(ctx, sel.Rejections(runID, runDate, r.now)); err != nil {
		return fmt.Errorf("failed to store rejections: %w", err)
	}

	r.report.Accepted, r.report.Rejected = sel.Counts()
	return nil
}

// fetchRegions gathers trending records region by region until enough
// candidates are in hand. An unavailable region is skipped; a quota denial
// stops fetching and keeps what was gathered.
func (p *Pipeline) fetchRegions(ctx context.Context) ([]models.RawVideo, error) {
	limit := (p.cfg.Selection.MaxShorts + p.cfg.Selection.MaxLongs) * 3

	var raws []models.RawVideo
	var lastErr error
	for _, region := range p.cfg.Regions {
		batch, err := p.deps.Source.ListTrendingByRegion(ctx, region)
		raws = append(raws, batch...)
		if err != nil {
			lastErr = err
			if quota.Denied(err) {
				p.logger.Warn("Quota denied, stopping trending fetch", zap.String("region", region), zap.Error(err))
				break
			}
			p.logger.Warn("Skipping region", zap.String("region", region), zap.Error(err))
			continue
		}
		if limit > 0 && len(raws) >= limit {
			p.logger.Info("Enough trending candidates gathered", zap.Int("candidates", len(raws)), zap.String("last_region", region))
			break
		}
	}

	if len(raws) == 0 && lastErr != nil {
		return nil, fmt.Errorf("no trending data fetched: %w", lastErr)
	}
	return raws, nil
}

// enrichSubscribers fills channel subscriber counts where the source reports
// them. Failures leave counts unknown.
func (p *Pipeline) enrichSubscribers(ctx context.Context, candidates []models.Candidate) {
	if len(candidates) == 0 {
		return
	}

	set := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		set[c.ChannelID] = struct{}{}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	subs, err := p.deps.Source.ChannelSubscribers(ctx, ids)
	if err != nil {
		p.logger.Warn("Subscriber enrichment incomplete", zap.Int("channels", len(ids)), zap.Int("resolved", len(subs)), zap.Error(err))
	}
	for i := range candidates {
		if n, ok := subs[candidates[i].ChannelID]; ok {
			candidates[i].ChannelSubscriberCount = n
			candidates[i].SubscribersKnown = true
		}
	}
}

func (p *Pipeline) purgeTrending(ctx context.Context, r *run) error {
	if p.cfg.RetentionDays <= 0 {
		return fmt.Errorf("%w: retention disabled", watermark.ErrSkipped)
	}
	cutoff := r.now.AddDate(0, 0, -p.cfg.RetentionDays)
	n, err := p.deps.Store.PurgeTrendingBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	r.report.RowsPurged = n
	p.logger.Info("Purged old trending rows", zap.Int64("rows", n), zap.Time("cutoff", cutoff))
	return nil
}
