package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rewired-gh/vaxoracle/internal/config"
	"github.com/rewired-gh/vaxoracle/internal/forecast"
	"github.com/rewired-gh/vaxoracle/internal/loader"
	"github.com/rewired-gh/vaxoracle/internal/logger"
)

var (
	configPath = flag.String("config", "", "Path to configuration file (defaults and environment only when empty)")
	inputFile  = flag.String("input", "", "Read uptake data from this CSV file instead of the API")
	windowList = flag.String("windows", "7,14,28", "Comma separated averaging windows to compare")
	step       = flag.Int("step", 7, "Days between backtest start dates")
	verbose    = flag.Bool("v", false, "Print every backtest run")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *inputFile != "" {
		cfg.Source.InputFile = *inputFile
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)

	windows, err := parseWindows(*windowList)
	if err != nil {
		log.Fatalf("Invalid -windows: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("VACCINATION FORECAST BACKTEST")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("\nSTEP 1: Loading data...")
	fmt.Println(strings.Repeat("-", 80))
	history, err := loader.Load(ctx, cfg)
	if err != nil {
		logger.Error("Failed to load data: %v", err)
		os.Exit(1)
	}
	printDataRange(history)

	fmt.Println("\nSTEP 2: Projecting from past dates...")
	fmt.Println(strings.Repeat("-", 80))
	points, err := forecast.Backtest(history, forecast.BacktestOptions{
		Windows:     windows,
		Step:        *step,
		DelayPolicy: forecast.DelayPolicy{MaxPrimaryDays: cfg.Forecast.MaxPrimaryDelayDays},
		MaxDays:     cfg.Forecast.MaxProjectionDays,
	})
	if err != nil {
		logger.Error("Backtest failed: %v", err)
		os.Exit(1)
	}
	fmt.Printf("  %d projections across %d windows\n", len(points), len(windows))
	if *verbose {
		printPoints(points)
	}

	fmt.Println("\nSTEP 3: Comparing windows...")
	fmt.Println(strings.Repeat("-", 80))
	stats := forecast.Summarize(points)
	for _, st := range stats {
		printWindowStats(st)
	}
	printRecommendation(stats)

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("BACKTEST COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
}

func parseWindows(s string) ([]int, error) {
	var windows []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		w, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", part)
		}
		if w < 1 {
			return nil, fmt.Errorf("window must be at least 1 day, got %d", w)
		}
		windows = append(windows, w)
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("no windows given")
	}
	return windows, nil
}
