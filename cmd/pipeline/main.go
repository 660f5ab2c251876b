package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/trendscout/backend/internal/app"
	"github.com/trendscout/backend/internal/pipeline"
	"github.com/trendscout/backend/pkg/config"
	appLogger "github.com/trendscout/backend/pkg/logger"
)

func main() {
	var (
		force    = flag.Bool("force", false, "run every task regardless of its cadence")
		date     = flag.String("date", "", "run date as YYYY-MM-DD; must be today in UTC")
		markdown = flag.Bool("markdown", false, "print the Markdown report to stdout")
	)
	flag.Parse()

	os.Exit(run(*force, *date, *markdown))
}

func run(force bool, date string, markdown bool) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer appLogger.Sync()

	runDate := time.Now().UTC()
	if date != "" {
		runDate, err = time.Parse("2006-01-02", date)
		if err != nil {
			appLogger.Error("Invalid -date", zap.String("date", date), zap.Error(err))
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		appLogger.Error("Failed to initialize components", zap.Error(err))
		return 1
	}
	defer a.Close()

	report, err := a.Pipeline.RunWith(ctx, runDate, pipeline.RunOptions{Force: force})
	if err != nil {
		appLogger.Error("Run failed", zap.Error(err))
		return 1
	}

	if markdown {
		entries, err := a.DB.Shortlist(ctx, report.RunDate)
		if err != nil {
			appLogger.Warn("Failed to load shortlist for report", zap.Error(err))
		}
		fmt.Print(report.Markdown(entries))
	}

	if report.HasErrors() {
		return 1
	}
	return 0
}
