// Package csse fetches the upstream CSV and GeoJSON resources.
package csse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/couchcryptid/covid-series-etl/internal/config"
	"github.com/couchcryptid/covid-series-etl/internal/domain"
	"github.com/couchcryptid/covid-series-etl/internal/observability"
)

// maxBodyBytes caps a single response. The largest upstream file is the
// wide global series at a few MB.
const maxBodyBytes = 64 << 20

// ErrNotFound is returned when upstream answers 404. It is never retried.
var ErrNotFound = errors.New("resource not found")

// ErrStatesURLUnset is returned by FetchStates when no remote directory is configured.
var ErrStatesURLUnset = errors.New("states url not configured")

// StatusError is a non-200 upstream response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
}

// Client fetches raw upstream resources with a per-request timeout and
// bounded retries.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	boundariesURL string
	statesURL     string
	timeout       time.Duration
	retries       uint
	retryInterval time.Duration
	metrics       *observability.Metrics
	logger        *slog.Logger
}

// NewClient creates a client for the configured upstream locations.
func NewClient(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient:    &http.Client{},
		baseURL:       strings.TrimRight(cfg.SourceBaseURL, "/"),
		boundariesURL: cfg.BoundariesURL,
		statesURL:     cfg.StatesURL,
		timeout:       cfg.FetchTimeout,
		retries:       uint(cfg.FetchRetries),
		retryInterval: 500 * time.Millisecond,
		metrics:       metrics,
		logger:        logger,
	}
}

// GlobalSeriesURL is the location of the wide per-country series for metric.
func (c *Client) GlobalSeriesURL(metric domain.Metric) string {
	return fmt.Sprintf("%s/csse_covid_19_time_series/time_series_covid19_%s_global.csv", c.baseURL, metric.Slug())
}

// DailyReportURL is the location of the daily report for day.
func (c *Client) DailyReportURL(day time.Time) string {
	return fmt.Sprintf("%s/csse_covid_19_daily_reports/%s", c.baseURL, domain.DailyFileName(day))
}

// FetchGlobalSeries downloads the wide global series for metric.
func (c *Client) FetchGlobalSeries(ctx context.Context, metric domain.Metric) ([]byte, error) {
	return c.fetch(ctx, domain.ResourceGlobalSeries, c.GlobalSeriesURL(metric))
}

// FetchDailyReport downloads one daily report.
func (c *Client) FetchDailyReport(ctx context.Context, day time.Time) ([]byte, error) {
	return c.fetch(ctx, domain.ResourceDailyReport, c.DailyReportURL(day))
}

// FetchBoundaries downloads the country boundary FeatureCollection.
func (c *Client) FetchBoundaries(ctx context.Context) ([]byte, error) {
	return c.fetch(ctx, domain.ResourceBoundaries, c.boundariesURL)
}

// FetchStates downloads the remote state directory, if one is configured.
func (c *Client) FetchStates(ctx context.Context) ([]byte, error) {
	if c.statesURL == "" {
		return nil, ErrStatesURLUnset
	}
	return c.fetch(ctx, domain.ResourceStates, c.statesURL)
}

func (c *Client) fetch(ctx context.Context, resource, u string) ([]byte, error) {
	start := time.Now()
	defer func() {
		c.metrics.FetchDuration.WithLabelValues(resource).Observe(time.Since(start).Seconds())
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	bo.MaxInterval = 5 * time.Second

	attempt := 0
	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		if attempt > 1 {
			c.logger.Debug("retrying upstream fetch", "resource", resource, "url", u, "attempt", attempt)
		}
		body, err := c.doRequest(ctx, u)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return body, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(c.retries))

	switch {
	case err == nil:
		c.metrics.FetchRequests.WithLabelValues(resource, "success").Inc()
		return body, nil
	case errors.Is(err, ErrNotFound):
		c.metrics.FetchRequests.WithLabelValues(resource, "not_found").Inc()
	default:
		c.metrics.FetchRequests.WithLabelValues(resource, "error").Inc()
	}
	return nil, fmt.Errorf("fetch %s: %w", resource, err)
}

func (c *Client) doRequest(ctx context.Context, u string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBuildRequest, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", u, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// errBuildRequest marks a request that could not be constructed, such as a
// malformed URL. Retrying cannot fix it.
var errBuildRequest = errors.New("create request")

// retryable reports whether a failed attempt may succeed on retry: network
// errors, timeouts, 5xx and 429. The parent context being done is final.
func retryable(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, errBuildRequest) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}
