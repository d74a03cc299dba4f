// Package ukhsa fetches cumulative vaccination uptake from the UK coronavirus
// dashboard API (api.coronavirus.data.gov.uk). Responses are requested as CSV and
// parsed with the dataset package's reader.
package ukhsa

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rewired-gh/vaxoracle/internal/dataset"
	"github.com/rewired-gh/vaxoracle/internal/logger"
	"github.com/rewired-gh/vaxoracle/internal/models"
)

// ClientConfig holds retry and transport tuning.
type ClientConfig struct {
	MaxRetries     int
	RetryDelayBase time.Duration
}

// Client provides access to the dashboard API for one area.
type Client struct {
	apiBaseURL     string
	areaType       string
	areaName       string
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new dashboard client
func NewClient(apiBaseURL, areaType, areaName string, timeout time.Duration, cfg ClientConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	return &Client{
		apiBaseURL: apiBaseURL,
		areaType:   areaType,
		areaName:   areaName,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
	}
}

// Area returns the configured area name.
func (c *Client) Area() string {
	return c.areaName
}

// CacheKey identifies the dataset in the cache as areaType/areaName.
func (c *Client) CacheKey() string {
	return c.areaType + "/" + c.areaName
}

// FetchRows retrieves the cumulative first and second dose uptake series.
// Rows come back newest first, as published.
func (c *Client) FetchRows(ctx context.Context) ([]models.Row, error) {
	reqURL, err := c.dataURL()
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch uptake data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	rows, err := dataset.ReadCSV(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode uptake data: %w", err)
	}
	return rows, nil
}

func (c *Client) dataURL() (string, error) {
	structure, err := json.Marshal(map[string]string{
		dataset.ColumnDate:       "date",
		dataset.ColumnFirstDose:  dataset.ColumnFirstDose,
		dataset.ColumnSecondDose: dataset.ColumnSecondDose,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode structure: %w", err)
	}

	params := url.Values{}
	params.Set("filters", fmt.Sprintf("areaType=%s;areaName=%s", c.areaType, c.areaName))
	params.Set("structure", string(structure))
	params.Set("format", "csv")

	return fmt.Sprintf("%s/v1/data?%s", c.apiBaseURL, params.Encode()), nil
}

// doRequest performs HTTP request with retry logic
func (c *Client) doRequest(ctx context.Context, reqURL string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			delay := c.retryDelayBase * time.Duration(i)
			logger.Debug("Retrying dashboard request in %v (attempt %d/%d): %v", delay, i+1, c.maxRetries, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/csv")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, fmt.Errorf("request rejected: %d: %s", resp.StatusCode, string(body))
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
