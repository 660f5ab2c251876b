package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/trendscout/backend/internal/storage/models"
	"github.com/trendscout/backend/pkg/logger"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	logger.InitNop()

	c, err := NewClient(":memory:")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })

	if err := c.InitSchema(); err != nil {
		t.Fatalf("InitSchema() error = %v", err)
	}
	return c
}

func TestChannelVideos_UpsertAndRecent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	videos := []models.ChannelVideo{
		{VideoID: "a", ChannelID: "UC1", Title: "oldest", PublishedAt: base.Add(-48 * time.Hour), ViewCount: 10},
		{VideoID: "b", ChannelID: "UC1", Title: "newest", PublishedAt: base, Tags: []string{"pc", "ia"}},
		{VideoID: "c", ChannelID: "UC1", Title: "middle", PublishedAt: base.Add(-24 * time.Hour)},
		{VideoID: "x", ChannelID: "UC2", Title: "other channel", PublishedAt: base},
	}
	if n, err := c.UpsertChannelVideos(ctx, videos); err != nil || n != 4 {
		t.Fatalf("UpsertChannelVideos() = %d, %v", n, err)
	}

	// stats refresh must update in place
	videos[0].ViewCount = 99
	if _, err := c.UpsertChannelVideos(ctx, videos[:1]); err != nil {
		t.Fatalf("UpsertChannelVideos() refresh error = %v", err)
	}

	got, err := c.RecentChannelVideos(ctx, "UC1", 10)
	if err != nil {
		t.Fatalf("RecentChannelVideos() error = %v", err)
	}

	wantOrder := []string{"b", "c", "a"}
	if len(got) != len(wantOrder) {
		t.Fatalf("RecentChannelVideos() returned %d videos, want %d", len(got), len(wantOrder))
	}
	for i, id := range wantOrder {
		if got[i].VideoID != id {
			t.Errorf("video[%d] = %s, want %s", i, got[i].VideoID, id)
		}
	}
	if got[0].Tags[1] != "ia" {
		t.Errorf("tags = %v, want [pc ia]", got[0].Tags)
	}
	if got[2].ViewCount != 99 {
		t.Errorf("refreshed view count = %d, want 99", got[2].ViewCount)
	}
	if !got[0].PublishedAt.Equal(base) {
		t.Errorf("PublishedAt = %v, want %v", got[0].PublishedAt, base)
	}

	limited, _ := c.RecentChannelVideos(ctx, "UC1", 2)
	if len(limited) != 2 {
		t.Errorf("limit 2 returned %d videos", len(limited))
	}
}

func TestProfile_ReplaceIncrementsVersion(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if _, err := c.ActiveProfile(ctx); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("ActiveProfile() on empty store err = %v, want ErrNotFound", err)
	}

	p := &models.ChannelProfile{
		ID:                 "p1",
		ChannelID:          "UC1",
		EmbeddingDimension: 3,
		Vector:             []float32{0.6, 0.8, 0},
		TopTerms:           []models.TermWeight{{Term: "pc", Weight: 1.2}},
		Weights:            models.ProfileWeights{Similarity: 0.6, Velocity: 0.25, Engagement: 0.15},
		Language:           "es",
		Model:              "hashing",
		SampleSize:         12,
		LowConfidence:      true,
		GeneratedAt:        time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}

	v1, err := c.SaveProfile(ctx, p)
	if err != nil || v1 != 1 {
		t.Fatalf("SaveProfile() = %d, %v; want 1", v1, err)
	}

	p.ID = "p2"
	p.LowConfidence = false
	v2, err := c.SaveProfile(ctx, p)
	if err != nil || v2 != 2 {
		t.Fatalf("SaveProfile() = %d, %v; want 2", v2, err)
	}

	got, err := c.ActiveProfile(ctx)
	if err != nil {
		t.Fatalf("ActiveProfile() error = %v", err)
	}
	if got.ID != "p2" || got.Version != 2 || got.LowConfidence {
		t.Errorf("ActiveProfile() = id %s version %d lowConfidence %v", got.ID, got.Version, got.LowConfidence)
	}
	if len(got.Vector) != 3 || got.Vector[1] != 0.8 {
		t.Errorf("Vector = %v", got.Vector)
	}
	if got.Weights.Velocity != 0.25 || got.TopTerms[0].Term != "pc" {
		t.Errorf("weights/terms not round-tripped: %+v %+v", got.Weights, got.TopTerms)
	}
}

func TestQuota_AppendAccumulates(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	used, err := c.QuotaUsage(ctx, "2024-05-01")
	if err != nil || used != 0 {
		t.Fatalf("QuotaUsage() on new day = %d, %v", used, err)
	}

	ops := []models.QuotaOperation{
		{Operation: "videos.list", Units: 1, Timestamp: now},
		{Operation: "search.list", Units: 100, Timestamp: now.Add(time.Minute)},
	}
	var total int
	for _, op := range ops {
		total, err = c.AppendQuotaOperation(ctx, "2024-05-01", 10000, op)
		if err != nil {
			t.Fatalf("AppendQuotaOperation() error = %v", err)
		}
	}
	if total != 101 {
		t.Errorf("total = %d, want 101", total)
	}

	if _, err := c.AppendQuotaOperation(ctx, "2024-05-02", 10000, ops[0]); err != nil {
		t.Fatalf("AppendQuotaOperation() next day error = %v", err)
	}

	day, err := c.QuotaDay(ctx, "2024-05-01")
	if err != nil {
		t.Fatalf("QuotaDay() error = %v", err)
	}
	if day.UnitsUsed != 101 || day.MaxUnits != 10000 || len(day.Operations) != 2 {
		t.Errorf("QuotaDay() = %+v", day)
	}
	if day.Operations[1].Operation != "search.list" {
		t.Errorf("operations out of order: %+v", day.Operations)
	}

	next, _ := c.QuotaUsage(ctx, "2024-05-02")
	if next != 1 {
		t.Errorf("next day usage = %d, want 1", next)
	}
}

func TestWatermark_UpsertKeepsLastRun(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	ran := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)

	if _, err := c.GetWatermark(ctx, "fetch_trending"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("GetWatermark() err = %v, want ErrNotFound", err)
	}

	if err := c.UpsertWatermark(ctx, &models.WatermarkRecord{
		TaskName: "fetch_trending", LastRunAt: &ran, LastAttemptAt: ran, Status: models.StatusSuccess,
	}); err != nil {
		t.Fatalf("UpsertWatermark() error = %v", err)
	}

	later := ran.Add(2 * time.Hour)
	if err := c.UpsertWatermark(ctx, &models.WatermarkRecord{
		TaskName: "fetch_trending", LastAttemptAt: later, Status: models.StatusSkipped,
	}); err != nil {
		t.Fatalf("UpsertWatermark() skipped error = %v", err)
	}

	got, err := c.GetWatermark(ctx, "fetch_trending")
	if err != nil {
		t.Fatalf("GetWatermark() error = %v", err)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(ran) {
		t.Errorf("LastRunAt = %v, want %v", got.LastRunAt, ran)
	}
	if !got.LastAttemptAt.Equal(later) || got.Status != models.StatusSkipped {
		t.Errorf("record = %+v", got)
	}

	all, err := c.ListWatermarks(ctx)
	if err != nil || len(all) != 1 {
		t.Errorf("ListWatermarks() = %d records, %v", len(all), err)
	}
}

func TestShortlist_UpsertIsIdempotent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	entries := []models.ShortlistEntry{
		{RunDate: "2024-05-01", RunID: "r1", VideoID: "v1", Rank: 1, Format: models.FormatShort, Title: "one", Regions: []string{"MX", "PE"}, PublishedAt: at, SelectedAt: at},
		{RunDate: "2024-05-01", RunID: "r1", VideoID: "v2", Rank: 2, Format: models.FormatLong, Title: "two", PublishedAt: at, SelectedAt: at},
	}
	for i := 0; i < 2; i++ {
		if err := c.UpsertShortlist(ctx, entries); err != nil {
			t.Fatalf("UpsertShortlist() pass %d error = %v", i, err)
		}
	}

	got, err := c.Shortlist(ctx, "2024-05-01")
	if err != nil {
		t.Fatalf("Shortlist() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Shortlist() = %d entries, want 2", len(got))
	}
	if got[0].VideoID != "v1" || len(got[0].Regions) != 2 || got[1].Format != models.FormatLong {
		t.Errorf("Shortlist() = %+v", got)
	}

	removed, err := c.DeleteShortlistExcept(ctx, "2024-05-01", []string{"v2"})
	if err != nil || removed != 1 {
		t.Fatalf("DeleteShortlistExcept() = %d, %v", removed, err)
	}
	got, _ = c.Shortlist(ctx, "2024-05-01")
	if len(got) != 1 || got[0].VideoID != "v2" {
		t.Errorf("after cleanup = %+v", got)
	}
}

func TestRejections_AppendAndPurge(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	old := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	rejections := []models.Rejection{
		{RunID: "r0", RunDate: "2024-03-01", VideoID: "v9", Reason: models.ReasonBelowThreshold, CreatedAt: old},
		{RunID: "r1", RunDate: "2024-05-01", VideoID: "v1", Reason: models.ReasonCapExceeded, Detail: "short bucket full", CreatedAt: recent},
		{RunID: "r1", RunDate: "2024-05-01", VideoID: "v1", Reason: models.ReasonCapExceeded, CreatedAt: recent},
	}
	if err := c.AppendRejections(ctx, rejections); err != nil {
		t.Fatalf("AppendRejections() error = %v", err)
	}

	r1, err := c.Rejections(ctx, "r1")
	if err != nil || len(r1) != 2 {
		t.Fatalf("Rejections(r1) = %d, %v; want 2 rows (append-only)", len(r1), err)
	}
	if r1[0].Detail != "short bucket full" {
		t.Errorf("Detail = %q", r1[0].Detail)
	}

	if err := c.UpsertShortlist(ctx, []models.ShortlistEntry{
		{RunDate: "2024-03-01", RunID: "r0", VideoID: "v8", Rank: 1, Format: models.FormatShort, PublishedAt: old, SelectedAt: old},
	}); err != nil {
		t.Fatalf("UpsertShortlist() error = %v", err)
	}

	purged, err := c.PurgeTrendingBefore(ctx, recent.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("PurgeTrendingBefore() error = %v", err)
	}
	if purged != 2 {
		t.Errorf("purged = %d, want 2", purged)
	}
	if left, _ := c.Rejections(ctx, "r0"); len(left) != 0 {
		t.Errorf("old rejections survived purge: %+v", left)
	}
}

func TestRunReport_LatestForDate(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)

	first := &models.RunReport{RunID: "r1", RunDate: "2024-05-01", StartedAt: start, Scored: 5,
		SkipTally: map[models.SkipReason]int{models.SkipLive: 2}}
	second := &models.RunReport{RunID: "r2", RunDate: "2024-05-01", StartedAt: start.Add(time.Hour), Scored: 7}

	for _, r := range []*models.RunReport{first, second} {
		if err := c.UpsertRunReport(ctx, r); err != nil {
			t.Fatalf("UpsertRunReport() error = %v", err)
		}
	}

	second.Scored = 9
	second.FinishedAt = start.Add(2 * time.Hour)
	if err := c.UpsertRunReport(ctx, second); err != nil {
		t.Fatalf("UpsertRunReport() update error = %v", err)
	}

	got, err := c.LatestRunReport(ctx, "2024-05-01")
	if err != nil {
		t.Fatalf("LatestRunReport() error = %v", err)
	}
	if got.RunID != "r2" || got.Scored != 9 {
		t.Errorf("LatestRunReport() = %s scored %d, want r2 scored 9", got.RunID, got.Scored)
	}

	if _, err := c.LatestRunReport(ctx, "2024-04-30"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("LatestRunReport() missing date err = %v, want ErrNotFound", err)
	}
}
