package watermark

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/trendscout/backend/internal/storage/models"
	"github.com/trendscout/backend/internal/storage/sqlite"
)

func TestParseFrequency(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"daily", 1, false},
		{"weekly", 7, false},
		{"every_3_days", 3, false},
		{"every_0_days", 0, true},
		{"every_x_days", 0, true},
		{"monthly", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFrequency(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFrequency(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFrequency(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestDaysBetween(t *testing.T) {
	late := time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)
	tests := []struct {
		name string
		b    time.Time
		want int
	}{
		{"same day", time.Date(2024, 5, 1, 23, 59, 30, 0, time.UTC), 0},
		{"one minute later next day", time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), 1},
		{"a week", time.Date(2024, 5, 8, 1, 0, 0, 0, time.UTC), 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DaysBetween(late, tt.b); got != tt.want {
				t.Errorf("DaysBetween() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNewController_RejectsBadFrequency(t *testing.T) {
	_, err := NewController(nil, map[string]string{"x": "hourly"})
	if !errors.Is(err, ErrInvalidFrequency) {
		t.Errorf("err = %v, want ErrInvalidFrequency", err)
	}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newSQLiteController(t *testing.T, freqs map[string]string, clk *clock) (*Controller, *sqlite.Client) {
	t.Helper()
	db, err := sqlite.NewClient(":memory:")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() error = %v", err)
	}
	c, err := NewController(db, freqs, WithClock(clk.now))
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	return c, db
}

func TestRun_WeeklyCadence(t *testing.T) {
	clk := &clock{t: time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)}
	c, _ := newSQLiteController(t, map[string]string{"purge": "weekly"}, clk)
	ctx := context.Background()

	calls := 0
	task := func(ctx context.Context) error {
		calls++
		return nil
	}

	steps := []struct {
		day  int
		want models.TaskStatus
	}{
		{1, models.StatusSuccess},
		{2, models.StatusSkipped},
		{7, models.StatusSkipped},
		{8, models.StatusSuccess},
	}
	for _, s := range steps {
		clk.t = time.Date(2024, 5, s.day, 6, 0, 0, 0, time.UTC)
		if got := c.Run(ctx, "purge", task); got.Status != s.want {
			t.Errorf("day %d status = %s, want %s", s.day, got.Status, s.want)
		}
	}
	if calls != 2 {
		t.Errorf("task ran %d times, want 2", calls)
	}
}

func TestRun_RecordsErrorsAndSkips(t *testing.T) {
	clk := &clock{t: time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)}
	c, db := newSQLiteController(t, nil, clk)
	ctx := context.Background()

	res := c.Run(ctx, "fetch", func(ctx context.Context) error { return errors.New("boom") })
	if res.Status != models.StatusError || res.Error != "boom" {
		t.Errorf("result = %+v, want error boom", res)
	}
	rec, err := db.GetWatermark(ctx, "fetch")
	if err != nil {
		t.Fatalf("GetWatermark() error = %v", err)
	}
	if rec.LastRunAt == nil || rec.Status != models.StatusError || rec.LastError != "boom" {
		t.Errorf("record = %+v", rec)
	}

	clk.t = clk.t.AddDate(0, 0, 1)
	res = c.Run(ctx, "fetch", func(ctx context.Context) error { return ErrSkipped })
	if res.Status != models.StatusSkipped {
		t.Errorf("status = %s, want skipped", res.Status)
	}
	rec, err = db.GetWatermark(ctx, "fetch")
	if err != nil {
		t.Fatalf("GetWatermark() error = %v", err)
	}
	if rec.Status != models.StatusSkipped || rec.LastRunAt.Day() != 1 || rec.LastAttemptAt.Day() != 2 {
		t.Errorf("skip should keep lastRunAt: %+v", rec)
	}

	// Still due on day 2 because the skip did not advance lastRunAt.
	ran := false
	c.Run(ctx, "fetch", func(ctx context.Context) error { ran = true; return nil })
	if !ran {
		t.Error("task should run again after a skipped attempt")
	}
}

type failingStore struct{ upserts int }

func (f *failingStore) GetWatermark(ctx context.Context, task string) (*models.WatermarkRecord, error) {
	return nil, errors.New("db locked")
}

func (f *failingStore) UpsertWatermark(ctx context.Context, rec *models.WatermarkRecord) error {
	f.upserts++
	return nil
}

func TestRun_ReadFailureStillRuns(t *testing.T) {
	store := &failingStore{}
	c, err := NewController(store, nil)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}

	ran := false
	res := c.Run(context.Background(), "import", func(ctx context.Context) error { ran = true; return nil })
	if !ran || res.Status != models.StatusSuccess {
		t.Errorf("ran = %v status = %s", ran, res.Status)
	}
	if store.upserts != 1 {
		t.Errorf("upserts = %d, want 1", store.upserts)
	}
}

func TestExecute_IgnoresCadence(t *testing.T) {
	clk := &clock{t: time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)}
	c, _ := newSQLiteController(t, map[string]string{"purge": "weekly"}, clk)
	ctx := context.Background()

	calls := 0
	task := func(ctx context.Context) error { calls++; return nil }

	c.Run(ctx, "purge", task)
	if res := c.Execute(ctx, "purge", task); res.Status != models.StatusSuccess {
		t.Errorf("status = %s, want success", res.Status)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
