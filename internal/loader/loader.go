// Package loader builds the configured dataset source and reads it into a
// validated time series.
package loader

import (
	"context"
	"fmt"

	"github.com/rewired-gh/vaxoracle/internal/config"
	"github.com/rewired-gh/vaxoracle/internal/dataset"
	"github.com/rewired-gh/vaxoracle/internal/logger"
	"github.com/rewired-gh/vaxoracle/internal/models"
	"github.com/rewired-gh/vaxoracle/internal/storage"
	"github.com/rewired-gh/vaxoracle/internal/ukhsa"
)

// NewSource picks the CSV file when source.input_file is set and otherwise the
// dashboard API behind the SQLite cache. The returned func releases the cache.
func NewSource(cfg *config.Config) (dataset.Source, func(), error) {
	if cfg.Source.InputFile != "" {
		logger.Info("Reading data from %s", cfg.Source.InputFile)
		return dataset.FileSource{Path: cfg.Source.InputFile}, func() {}, nil
	}

	client := ukhsa.NewClient(
		cfg.Source.APIBaseURL,
		cfg.Source.AreaType,
		cfg.Source.AreaName,
		cfg.Source.Timeout,
		ukhsa.ClientConfig{
			MaxRetries:     cfg.Source.MaxRetries,
			RetryDelayBase: cfg.Source.RetryDelayBase,
		},
	)

	if cfg.Storage.DisableCache {
		return dataset.NewCachedSource(client, nil, client.CacheKey(), 0), func() {}, nil
	}

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}
	return dataset.NewCachedSource(client, store, client.CacheKey(), cfg.Storage.KeepDatasets), closeStore, nil
}

// Load reads the configured source. When report.export_csv_file is set the raw
// rows are also written there; export failures are logged only.
func Load(ctx context.Context, cfg *config.Config) (*models.TimeSeries, error) {
	source, release, err := NewSource(cfg)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := source.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	if cfg.Report.ExportCSVFile != "" {
		if err := dataset.ExportCSV(cfg.Report.ExportCSVFile, rows); err != nil {
			logger.Warn("Failed to export dataset: %v", err)
		} else {
			logger.Info("Exported %d rows to %s", len(rows), cfg.Report.ExportCSVFile)
		}
	}

	history, err := models.NewTimeSeries(rows)
	if err != nil {
		return nil, fmt.Errorf("invalid dataset: %w", err)
	}
	logger.Debug("Loaded %d records", history.Len())
	return history, nil
}
