// Package dataset supplies raw uptake rows to the forecaster. Rows come from a
// local CSV file or from the dashboard API, with API responses cached per area and
// calendar day so repeated runs on the same day do not refetch.
package dataset

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rewired-gh/vaxoracle/internal/logger"
	"github.com/rewired-gh/vaxoracle/internal/models"
)

// Source supplies raw rows for a single area.
type Source interface {
	Rows(ctx context.Context) ([]models.Row, error)
}

// Fetcher retrieves rows from a remote service.
type Fetcher interface {
	FetchRows(ctx context.Context) ([]models.Row, error)
}

// Cache stores fetched rows keyed by area and fetch day.
type Cache interface {
	LoadDataset(ctx context.Context, area string, day time.Time) ([]models.Row, bool, error)
	SaveDataset(ctx context.Context, area string, day time.Time, rows []models.Row) error
	PruneDatasets(ctx context.Context, area string, keep int) error
}

// CachedSource serves today's cached dataset when present and otherwise fetches
// and caches a fresh one. Cache failures are logged and never fail a run.
type CachedSource struct {
	fetcher Fetcher
	cache   Cache
	area    string
	keep    int
	now     func() time.Time
}

// NewCachedSource creates a CachedSource. A nil cache disables caching.
func NewCachedSource(fetcher Fetcher, cache Cache, area string, keep int) *CachedSource {
	return &CachedSource{
		fetcher: fetcher,
		cache:   cache,
		area:    area,
		keep:    keep,
		now:     time.Now,
	}
}

// WithClock overrides the clock used to pick the cache day.
func (s *CachedSource) WithClock(now func() time.Time) *CachedSource {
	s.now = now
	return s
}

// Rows implements Source.
func (s *CachedSource) Rows(ctx context.Context) ([]models.Row, error) {
	day := s.now()

	if s.cache != nil {
		rows, found, err := s.cache.LoadDataset(ctx, s.area, day)
		switch {
		case err != nil:
			logger.Warn("Failed to read cached dataset for %s: %v", s.area, err)
		case found:
			logger.Info("Using cached dataset for %s from %s (%d rows)", s.area, day.Format(models.DateLayout), len(rows))
			return rows, nil
		}
	}

	logger.Info("Downloading latest data for %s", s.area)
	rows, err := s.fetcher.FetchRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dataset: %w", err)
	}
	logger.Debug("Fetched %d rows for %s", len(rows), s.area)

	if s.cache != nil && len(rows) > 0 {
		if err := s.cache.SaveDataset(ctx, s.area, day, rows); err != nil {
			logger.Warn("Failed to cache dataset for %s: %v", s.area, err)
		} else if s.keep > 0 {
			if err := s.cache.PruneDatasets(ctx, s.area, s.keep); err != nil {
				logger.Warn("Failed to prune cached datasets: %v", err)
			}
		}
	}

	return rows, nil
}

// FileSource reads rows from a CSV file on disk.
type FileSource struct {
	Path string
}

// Rows implements Source.
func (s FileSource) Rows(ctx context.Context) ([]models.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.Path, err)
	}
	defer f.Close()

	rows, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.Path, err)
	}
	logger.Info("Loaded %d rows from %s", len(rows), s.Path)
	return rows, nil
}

// ExportCSV writes rows to path, replacing the file atomically.
func ExportCSV(path string, rows []models.Row) error {
	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := WriteCSV(f, rows); err != nil {
		f.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to write csv: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath) // Clean up temp file on rename failure
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
