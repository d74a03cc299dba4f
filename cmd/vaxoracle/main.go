package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rewired-gh/vaxoracle/internal/config"
	"github.com/rewired-gh/vaxoracle/internal/forecast"
	"github.com/rewired-gh/vaxoracle/internal/loader"
	"github.com/rewired-gh/vaxoracle/internal/logger"
	"github.com/rewired-gh/vaxoracle/internal/report"
	"github.com/rewired-gh/vaxoracle/internal/telegram"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file (defaults and environment only when empty)")
	predictFrom = flag.String("predict-from", "", "Date the early prediction is made from (YYYY-MM-DD)")
	window      = flag.Int("window", 0, "Averaging window in days (overrides config)")
	inputFile   = flag.String("input", "", "Read uptake data from this CSV file instead of the API")
	noCharts    = flag.Bool("no-charts", false, "Skip chart rendering")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if *configPath != "" {
		logger.Info("Configuration loaded from %s", *configPath)
	}

	// Initialize Telegram client
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if err := run(ctx, cfg, telegramClient); err != nil {
		logger.Error("Forecast failed: %v", err)
		if telegramClient != nil && ctx.Err() == nil {
			if sendErr := telegramClient.SendError(ctx, err); sendErr != nil {
				logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
			}
		}
		os.Exit(1)
	}
}

func applyFlags(cfg *config.Config) {
	if *predictFrom != "" {
		cfg.Forecast.PredictFrom = *predictFrom
	}
	if *window != 0 {
		cfg.Forecast.AveragingWindowDays = *window
	}
	if *inputFile != "" {
		cfg.Source.InputFile = *inputFile
	}
	if *noCharts {
		cfg.Report.Charts = false
		cfg.Telegram.SendCharts = false
	}
}

func run(ctx context.Context, cfg *config.Config, telegramClient *telegram.Client) error {
	startTime := time.Now()

	history, err := loader.Load(ctx, cfg)
	if err != nil {
		return err
	}

	rc, err := forecast.NewRunContext(history, forecast.Options{
		Window:      cfg.Forecast.AveragingWindowDays,
		DelayPolicy: forecast.DelayPolicy{MaxPrimaryDays: cfg.Forecast.MaxPrimaryDelayDays},
		MaxDays:     cfg.Forecast.MaxProjectionDays,
	})
	if err != nil {
		return err
	}

	res, err := rc.Run(cfg.Forecast.PredictFrom)
	if err != nil {
		return err
	}
	logger.Debug("Run %s complete", res.RunID)

	if err := report.WriteSummary(os.Stdout, res); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	var charts *report.ChartSet
	if cfg.Report.Charts || (telegramClient != nil && cfg.Telegram.SendCharts) {
		charts, err = report.RenderAll(res, report.ChartOptions{
			Width:       cfg.Report.ChartWidth,
			Height:      cfg.Report.ChartHeight,
			RollingDays: cfg.Report.RollingDays,
		})
		if err != nil {
			logger.Warn("Failed to render charts: %v", err)
			charts = nil
		}
	}
	if charts != nil && cfg.Report.Charts {
		if err := charts.WriteFiles(cfg.Report.OutputDir); err != nil {
			logger.Warn("Failed to write charts: %v", err)
		} else {
			logger.Info("Wrote %d charts to %s", len(charts.Names()), filepath.Clean(cfg.Report.OutputDir))
		}
	}

	if telegramClient != nil {
		if !cfg.Telegram.SendCharts {
			charts = nil
		}
		if err := telegramClient.SendReport(ctx, res, charts); err != nil {
			logger.Error("Failed to send Telegram notification: %v", err)
		} else {
			logger.Info("Sent forecast to Telegram")
		}
	}

	logger.Info("Forecast completed in %v", time.Since(startTime))
	return nil
}
