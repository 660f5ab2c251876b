package watermark

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trendscout/backend/internal/metrics"
	"github.com/trendscout/backend/internal/storage/models"
)

// ErrSkipped is returned by a task body that decided not to run; the attempt
// is recorded as skipped and lastRunAt does not move.
var ErrSkipped = errors.New("task skipped")

var ErrInvalidFrequency = errors.New("invalid task frequency")

const (
	FrequencyDaily  = "daily"
	FrequencyWeekly = "weekly"
)

type Store interface {
	GetWatermark(ctx context.Context, task string) (*models.WatermarkRecord, error)
	UpsertWatermark(ctx context.Context, rec *models.WatermarkRecord) error
}

// ParseFrequency returns the interval in days for daily, weekly or
// every_N_days.
func ParseFrequency(freq string) (int, error) {
	switch freq {
	case FrequencyDaily:
		return 1, nil
	case FrequencyWeekly:
		return 7, nil
	}

	if rest, ok := strings.CutPrefix(freq, "every_"); ok {
		if n, ok := strings.CutSuffix(rest, "_days"); ok {
			days, err := strconv.Atoi(n)
			if err == nil && days > 0 {
				return days, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidFrequency, freq)
}

type Controller struct {
	store     Store
	intervals map[string]int
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// NewController validates every configured frequency up front. Tasks absent
// from frequencies run daily.
func NewController(store Store, frequencies map[string]string, opts ...Option) (*Controller, error) {
	intervals := make(map[string]int, len(frequencies))
	for task, freq := range frequencies {
		days, err := ParseFrequency(freq)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", task, err)
		}
		intervals[task] = days
	}

	c := &Controller{
		store:     store,
		intervals: intervals,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Controller) Interval(task string) int {
	if days, ok := c.intervals[task]; ok {
		return days
	}
	return 1
}

// ShouldRunToday compares UTC calendar days since the last successful or
// failed run against the task's interval. A task with no record runs.
func (c *Controller) ShouldRunToday(ctx context.Context, task string) (bool, error) {
	rec, err := c.store.GetWatermark(ctx, task)
	if errors.Is(err, models.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("failed to read watermark for %s: %w", task, err)
	}
	if rec.LastRunAt == nil {
		return true, nil
	}
	return DaysBetween(*rec.LastRunAt, c.now()) >= c.Interval(task), nil
}

// DaysBetween counts UTC calendar-day boundaries from a to b.
func DaysBetween(a, b time.Time) int {
	da := time.Date(a.UTC().Year(), a.UTC().Month(), a.UTC().Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.UTC().Year(), b.UTC().Month(), b.UTC().Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// Record stores the outcome of an attempt. Success and error advance
// lastRunAt; skipped only touches lastAttemptAt.
func (c *Controller) Record(ctx context.Context, task string, status models.TaskStatus, runErr error) error {
	now := c.now().UTC()
	rec := &models.WatermarkRecord{
		TaskName:      task,
		LastAttemptAt: now,
		Status:        status,
	}
	if status != models.StatusSkipped {
		rec.LastRunAt = &now
	}
	if runErr != nil {
		rec.LastError = runErr.Error()
	}
	return c.store.UpsertWatermark(ctx, rec)
}

// Run gates fn on the task cadence, executes it and records the outcome.
// Watermark read failures do not block the task.
func (c *Controller) Run(ctx context.Context, task string, fn func(ctx context.Context) error) models.TaskResult {
	due, err := c.ShouldRunToday(ctx, task)
	if err != nil {
		c.logger.Warn("Watermark unavailable, running task anyway", zap.String("task", task), zap.Error(err))
	}
	if !due {
		c.logger.Info("Task not due", zap.String("task", task), zap.Int("interval_days", c.Interval(task)))
		return c.finish(ctx, task, c.now(), models.StatusSkipped, nil)
	}
	return c.Execute(ctx, task, fn)
}

// Execute runs fn regardless of cadence and records the outcome. A body
// returning ErrSkipped is recorded as skipped.
func (c *Controller) Execute(ctx context.Context, task string, fn func(ctx context.Context) error) models.TaskResult {
	start := c.now()
	runErr := fn(ctx)

	status := models.StatusSuccess
	switch {
	case runErr == nil:
	case errors.Is(runErr, ErrSkipped):
		status = models.StatusSkipped
	default:
		status = models.StatusError
	}
	return c.finish(ctx, task, start, status, runErr)
}

func (c *Controller) finish(ctx context.Context, task string, start time.Time, status models.TaskStatus, runErr error) models.TaskResult {
	if err := c.Record(ctx, task, status, runErr); err != nil {
		c.logger.Error("Failed to record watermark", zap.String("task", task), zap.Error(err))
	}

	result := models.TaskResult{
		Name:       task,
		Status:     status,
		StartedAt:  start.UTC(),
		FinishedAt: c.now().UTC(),
	}
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	if runErr != nil {
		result.Error = runErr.Error()
	}

	metrics.TaskRuns.WithLabelValues(task, string(status)).Inc()
	metrics.TaskDuration.WithLabelValues(task).Observe(result.Duration.Seconds())

	fields := []zap.Field{
		zap.String("task", task),
		zap.String("status", string(status)),
		zap.Duration("duration", result.Duration),
	}
	if status == models.StatusError {
		c.logger.Error("Task failed", append(fields, zap.Error(runErr))...)
	} else {
		c.logger.Info("Task finished", fields...)
	}
	return result
}
