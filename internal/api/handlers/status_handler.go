package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/trendscout/backend/internal/storage/models"
	"github.com/trendscout/backend/pkg/logger"
)

type QuotaStatus interface {
	Day() string
	MaxUnits() int
	RemainingFraction(ctx context.Context) (float64, error)
	Exhausted(ctx context.Context) bool
}

type QuotaDayReader interface {
	QuotaDay(ctx context.Context, day string) (*models.QuotaDay, error)
}

type StatusStore interface {
	ActiveProfile(ctx context.Context) (*models.ChannelProfile, error)
	ListWatermarks(ctx context.Context) ([]models.WatermarkRecord, error)
}

// Pinger is anything the readiness probe should check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type StatusHandler struct {
	quota    QuotaStatus
	quotaDay QuotaDayReader
	store    StatusStore
	deps     map[string]Pinger
}

func NewStatusHandler(quota QuotaStatus, quotaDay QuotaDayReader, store StatusStore, deps map[string]Pinger) *StatusHandler {
	return &StatusHandler{
		quota:    quota,
		quotaDay: quotaDay,
		store:    store,
		deps:     deps,
	}
}

func (h *StatusHandler) GetQuota(c *fiber.Ctx) error {
	ctx := c.UserContext()
	day := h.quota.Day()

	qd, err := h.quotaDay.QuotaDay(ctx, day)
	if errors.Is(err, models.ErrNotFound) {
		qd = &models.QuotaDay{Date: day, MaxUnits: h.quota.MaxUnits()}
	} else if err != nil {
		logger.Error("Failed to read quota day", zap.String("day", day), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Quota ledger unavailable",
		})
	}

	remaining, err := h.quota.RemainingFraction(ctx)
	if err != nil {
		logger.Warn("Failed to compute remaining quota", zap.Error(err))
	}

	return c.JSON(fiber.Map{
		"date":               qd.Date,
		"units_used":         qd.UnitsUsed,
		"units_reserved":     qd.UnitsReserved,
		"max_units":          qd.MaxUnits,
		"remaining_fraction": remaining,
		"halted":             h.quota.Exhausted(ctx),
		"operations":         len(qd.Operations),
	})
}

// GetProfile returns the active profile. The vector is omitted unless
// ?vector=true.
func (h *StatusHandler) GetProfile(c *fiber.Ctx) error {
	p, err := h.store.ActiveProfile(c.UserContext())
	if errors.Is(err, models.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No active profile",
		})
	}
	if err != nil {
		logger.Error("Failed to load profile", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load profile",
		})
	}

	if !c.QueryBool("vector", false) {
		p.Vector = nil
	}
	return c.JSON(p)
}

func (h *StatusHandler) GetWatermarks(c *fiber.Ctx) error {
	records, err := h.store.ListWatermarks(c.UserContext())
	if err != nil {
		logger.Error("Failed to list watermarks", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list watermarks",
		})
	}
	if records == nil {
		records = []models.WatermarkRecord{}
	}
	return c.JSON(fiber.Map{
		"watermarks": records,
	})
}

func (h *StatusHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *StatusHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	checks := make(fiber.Map, len(h.deps))
	ready := true
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status := fiber.StatusOK
	state := "ready"
	if !ready {
		status = fiber.StatusServiceUnavailable
		state = "not_ready"
	}
	return c.Status(status).JSON(fiber.Map{
		"status": state,
		"checks": checks,
	})
}
