package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/trendscout/backend/internal/pipeline"
	"github.com/trendscout/backend/internal/storage/models"
	"github.com/trendscout/backend/pkg/logger"
)

const dateLayout = "2006-01-02"

type Runner interface {
	Start(ctx context.Context, runDate time.Time, opts pipeline.RunOptions) (<-chan pipeline.Outcome, error)
}

type ReportStore interface {
	LatestRunReport(ctx context.Context, runDate string) (*models.RunReport, error)
	Shortlist(ctx context.Context, runDate string) ([]models.ShortlistEntry, error)
}

type RunsHandler struct {
	runner Runner
	store  ReportStore
	now    func() time.Time
}

func NewRunsHandler(runner Runner, store ReportStore) *RunsHandler {
	return &RunsHandler{
		runner: runner,
		store:  store,
		now:    time.Now,
	}
}

// TriggerRun starts a run in the background for today. ?date= is accepted
// only when it names today.
func (h *RunsHandler) TriggerRun(c *fiber.Ctx) error {
	runDate := h.now().UTC()
	if d := c.Query("date"); d != "" {
		parsed, err := time.Parse(dateLayout, d)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "date must be YYYY-MM-DD",
			})
		}
		runDate = parsed
	}
	opts := pipeline.RunOptions{Force: c.QueryBool("force", false)}

	_, err := h.runner.Start(context.Background(), runDate, opts)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "A run is already in progress",
		})
	}
	if errors.Is(err, pipeline.ErrRunDateNotToday) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "date must be today's UTC date",
		})
	}
	if err != nil {
		logger.Error("Failed to start run", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to start run",
		})
	}

	logger.Info("Run triggered over HTTP",
		zap.String("run_date", runDate.Format(dateLayout)),
		zap.Bool("force", opts.Force),
	)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":   "started",
		"run_date": runDate.Format(dateLayout),
		"force":    opts.Force,
	})
}

// GetRun returns the latest report for :date, as JSON or, with
// ?format=markdown, as the daily Markdown report.
func (h *RunsHandler) GetRun(c *fiber.Ctx) error {
	date := c.Params("date")

	report, err := h.store.LatestRunReport(c.UserContext(), date)
	if errors.Is(err, models.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No run for that date",
		})
	}
	if err != nil {
		logger.Error("Failed to load run report", zap.String("date", date), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load run report",
		})
	}

	if c.Query("format") != "markdown" {
		return c.JSON(report)
	}

	entries, err := h.store.Shortlist(c.UserContext(), date)
	if err != nil {
		logger.Error("Failed to load shortlist", zap.String("date", date), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load shortlist",
		})
	}

	c.Set(fiber.HeaderContentType, "text/markdown; charset=utf-8")
	return c.SendString(report.Markdown(entries))
}

func (h *RunsHandler) GetShortlist(c *fiber.Ctx) error {
	date := c.Params("date")

	entries, err := h.store.Shortlist(c.UserContext(), date)
	if err != nil {
		logger.Error("Failed to load shortlist", zap.String("date", date), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load shortlist",
		})
	}
	if entries == nil {
		entries = []models.ShortlistEntry{}
	}

	return c.JSON(fiber.Map{
		"run_date": date,
		"count":    len(entries),
		"entries":  entries,
	})
}
