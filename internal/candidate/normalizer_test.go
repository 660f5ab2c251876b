package candidate

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/trendscout/backend/internal/storage/models"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"PT45S", 45, false},
		{"PT1M", 60, false},
		{"PT1H2M3S", 3723, false},
		{"P1DT1S", 86401, false},
		{"PT3M", 180, false},
		{"", 0, true},
		{"PT", 0, true},
		{"P", 0, true},
		{"1:30", 0, true},
		{"PT1.5S", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidDuration) {
				t.Errorf("error = %v, want ErrInvalidDuration", err)
			}
			if got != tt.want {
				t.Errorf("ParseDuration(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestLanguage(t *testing.T) {
	tests := []struct {
		audio, fallback, want string
	}{
		{"es-419", "en", "es"},
		{"", "PT_BR", "pt"},
		{"", "", ""},
		{"EN", "", "en"},
	}
	for _, tt := range tests {
		if got := Language(tt.audio, tt.fallback); got != tt.want {
			t.Errorf("Language(%q, %q) = %q, want %q", tt.audio, tt.fallback, got, tt.want)
		}
	}
}

var now = time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

func raw(id, region, duration string) models.RawVideo {
	return models.RawVideo{
		VideoID:              id,
		Title:                "Armar PC gamer barata tutorial",
		Description:          "Guía hardware componentes",
		PublishedAt:          "2024-05-02T00:00:00Z",
		Duration:             duration,
		ViewCount:            1200,
		LikeCount:            100,
		CommentCount:         20,
		ChannelID:            "UCa",
		ChannelTitle:         "A",
		LiveBroadcastContent: "none",
		DefaultAudioLanguage: "es-MX",
		Region:               region,
	}
}

func testNormalizer(terms []models.TermWeight) *Normalizer {
	return NewNormalizer(Config{
		AllowedLanguages: []string{"es", "en"},
		ShortMaxSeconds:  60,
		LongMinSeconds:   180,
		MinTermOverlap:   0.05,
	}, terms, nil)
}

func TestNormalize_FiltersInOrder(t *testing.T) {
	live := raw("live", "MX", "PT30S")
	live.LiveBroadcastContent = "upcoming"

	french := raw("fr", "MX", "PT30S")
	french.DefaultAudioLanguage = "fr"

	noLang := raw("nolang", "MX", "PT30S")
	noLang.DefaultAudioLanguage = ""

	badDate := raw("baddate", "MX", "PT30S")
	badDate.PublishedAt = "yesterday"

	noTitle := raw("notitle", "MX", "PT30S")
	noTitle.Title = "  "

	// live and also medium: live wins.
	liveMedium := raw("livemed", "MX", "PT2M")
	liveMedium.LiveBroadcastContent = "live"

	input := []models.RawVideo{
		raw("short", "MX", "PT60S"),
		raw("long", "MX", "PT3M"),
		raw("medium", "MX", "PT61S"),
		live, french, noLang, badDate, noTitle, liveMedium,
		raw("short", "US", "PT60S"),
		raw("short", "MX", "PT60S"),
	}

	res := testNormalizer(nil).Normalize(input, now)

	if len(res.Candidates) != 3 {
		t.Fatalf("got %d candidates, want 3: %+v", len(res.Candidates), res.Candidates)
	}
	want := map[models.SkipReason]int{
		models.SkipMedium:    1,
		models.SkipLive:      2,
		models.SkipLanguage:  1,
		models.SkipMalformed: 2,
	}
	for reason, n := range want {
		if res.Skipped[reason] != n {
			t.Errorf("skipped[%s] = %d, want %d", reason, res.Skipped[reason], n)
		}
	}
	if res.SkippedTotal() != 6 {
		t.Errorf("SkippedTotal() = %d, want 6", res.SkippedTotal())
	}

	short := res.Candidates[0]
	if short.Format != models.FormatShort || short.SourceRegion != "MX" {
		t.Errorf("short = format %s region %s", short.Format, short.SourceRegion)
	}
	if len(short.Regions) != 2 || short.Regions[0] != "MX" || short.Regions[1] != "US" {
		t.Errorf("regions = %v, want [MX US]", short.Regions)
	}
	if res.Candidates[1].Format != models.FormatLong {
		t.Errorf("long format = %s", res.Candidates[1].Format)
	}
	if res.Candidates[2].VideoID != "nolang" || res.Candidates[2].Language != "" {
		t.Errorf("empty language should be accepted, got %+v", res.Candidates[2])
	}
}

func TestNormalize_DuplicateOfSkippedIsNotCountedTwice(t *testing.T) {
	a := raw("x", "MX", "PT2M")
	b := raw("x", "US", "PT2M")

	res := testNormalizer(nil).Normalize([]models.RawVideo{a, b}, now)
	if len(res.Candidates) != 0 || res.Skipped[models.SkipMedium] != 1 {
		t.Errorf("candidates = %d skipped = %v", len(res.Candidates), res.Skipped)
	}
}

func TestNormalize_LowOverlap(t *testing.T) {
	terms := []models.TermWeight{{Term: "armar"}, {Term: "gamer"}, {Term: "hardware"}}

	onTopic := raw("on", "MX", "PT30S")
	offTopic := raw("off", "MX", "PT30S")
	offTopic.Title = "Receta pastel chocolate"
	offTopic.Description = "cocina fácil"

	res := testNormalizer(terms).Normalize([]models.RawVideo{onTopic, offTopic}, now)
	if len(res.Candidates) != 1 || res.Candidates[0].VideoID != "on" {
		t.Fatalf("candidates = %+v", res.Candidates)
	}
	if res.Skipped[models.SkipLowOverlap] != 1 {
		t.Errorf("low-overlap = %d, want 1", res.Skipped[models.SkipLowOverlap])
	}
	if res.Candidates[0].TermOverlap <= 0 {
		t.Errorf("TermOverlap = %v, want > 0", res.Candidates[0].TermOverlap)
	}
}

func TestDerive_DivisionSafety(t *testing.T) {
	published := now.Add(-10 * time.Hour)
	tests := []struct {
		name      string
		c         models.Candidate
		wantVPH   float64
		wantER    float64
		wantHours float64
	}{
		{
			name:      "normal",
			c:         models.Candidate{PublishedAt: published, ViewCount: 1000, LikeCount: 40, CommentCount: 10},
			wantVPH:   100,
			wantER:    0.05,
			wantHours: 10,
		},
		{
			name:      "zero views",
			c:         models.Candidate{PublishedAt: published, LikeCount: 5},
			wantHours: 10,
		},
		{
			name:   "published now",
			c:      models.Candidate{PublishedAt: now, ViewCount: 10, LikeCount: 1},
			wantER: 0.1,
		},
		{
			name:      "published in the future",
			c:         models.Candidate{PublishedAt: now.Add(time.Hour), ViewCount: 10},
			wantHours: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.c
			Derive(&c, now)
			if math.Abs(c.ViewsPerHour-tt.wantVPH) > 1e-9 {
				t.Errorf("ViewsPerHour = %v, want %v", c.ViewsPerHour, tt.wantVPH)
			}
			if math.Abs(c.EngagementRate-tt.wantER) > 1e-9 {
				t.Errorf("EngagementRate = %v, want %v", c.EngagementRate, tt.wantER)
			}
			if math.Abs(c.AgeHours-tt.wantHours) > 1e-9 {
				t.Errorf("AgeHours = %v, want %v", c.AgeHours, tt.wantHours)
			}
			if math.IsNaN(c.ViewsPerHour) || math.IsInf(c.ViewsPerHour, 0) {
				t.Errorf("ViewsPerHour not finite: %v", c.ViewsPerHour)
			}
		})
	}
}
