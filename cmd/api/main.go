package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/trendscout/backend/internal/api/handlers"
	"github.com/trendscout/backend/internal/app"
	"github.com/trendscout/backend/internal/metrics"
	"github.com/trendscout/backend/internal/middleware/ratelimit"
	"github.com/trendscout/backend/internal/middleware/security"
	"github.com/trendscout/backend/internal/middleware/validation"
	"github.com/trendscout/backend/pkg/config"
	appLogger "github.com/trendscout/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting trendscout API server")

	metrics.Init()

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		appLogger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer a.Close()

	fiberApp := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.MaxRequestsPerMinute,
		Logger:               appLogger.Named("ratelimit"),
	})
	defer limiter.Stop()

	fiberApp.Use(recover.New())
	fiberApp.Use(logger.New())
	fiberApp.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	fiberApp.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Logging.Level == "debug",
	}))

	fiberApp.Get("/metrics", metrics.MetricsHandler())

	runsHandler := handlers.NewRunsHandler(a.Pipeline, a.DB)
	statusHandler := handlers.NewStatusHandler(a.Ledger, a.QuotaDays(), a.DB, a.Pingers())
	wsHandler := handlers.NewWebSocketHandler(a.Events)

	api := fiberApp.Group("/api/v1")
	api.Use(limiter.Middleware())
	api.Use(validation.Middleware(validation.Config{Logger: appLogger.Named("validation")}))

	api.Get("/health", statusHandler.Health)
	api.Get("/ready", statusHandler.Ready)

	api.Post("/runs", runsHandler.TriggerRun)
	api.Get("/runs/:date", validation.DateParam("date"), runsHandler.GetRun)
	api.Get("/shortlist/:date", validation.DateParam("date"), runsHandler.GetShortlist)

	api.Get("/quota", statusHandler.GetQuota)
	api.Get("/profile", statusHandler.GetProfile)
	api.Get("/watermarks", statusHandler.GetWatermarks)

	fiberApp.Get("/ws/runs", wsHandler.Upgrade, websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := fiberApp.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := fiberApp.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Warn("Shutdown did not complete cleanly", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
