package pipeline

import (
	"bytes"
	"context"
	"time"

	"github.com/couchcryptid/covid-series-etl/internal/cache"
	"github.com/couchcryptid/covid-series-etl/internal/domain"
)

// LoadGlobal returns the per-country series for metric from StartDate
// through lastDate.
func (s *Service) LoadGlobal(ctx context.Context, metric domain.Metric, lastDate time.Time) (*domain.TimeSeriesTable, error) {
	lastDate = domain.Day(lastDate)
	if err := domain.ValidateHorizon(lastDate); err != nil {
		return nil, err
	}
	key := cache.Key(domain.SeriesGlobal, metric.Slug(), lastDate)
	return cache.Load(ctx, s.store, key, func(ctx context.Context) (*domain.TimeSeriesTable, time.Duration, error) {
		table, err := s.loadGlobal(ctx, metric, lastDate)
		if err != nil {
			return nil, 0, err
		}
		return table, s.store.TTLFor(lastDate), nil
	})
}

func (s *Service) loadGlobal(ctx context.Context, metric domain.Metric, lastDate time.Time) (*domain.TimeSeriesTable, error) {
	start := time.Now()

	body, err := s.globalSeries(ctx, metric)
	if err != nil {
		return nil, err
	}

	table, stats, err := domain.ParseGlobalSeries(bytes.NewReader(body), lastDate)
	if err != nil {
		return nil, domain.Unavailable(domain.ResourceGlobalSeries, err)
	}

	if stats.Clamped > 0 {
		s.logger.Warn("negative counts clamped to zero",
			"kind", domain.SeriesGlobal, "metric", metric, "cells", stats.Clamped)
	}
	s.flagRegressions(domain.SeriesGlobal, metric, table)

	s.metrics.LoadDuration.WithLabelValues(string(domain.SeriesGlobal)).Observe(time.Since(start).Seconds())
	s.logger.Info("loaded global series",
		"metric", metric,
		"last_date", lastDate.Format(domain.DateLayout),
		"countries", stats.Countries,
		"rows", stats.Rows,
		"duration", time.Since(start),
	)
	return table, nil
}

// Horizon is the newest day every global series has published, capped at
// yesterday. It is the default last_date wherever the caller gives none.
func (s *Service) Horizon(ctx context.Context) (time.Time, error) {
	horizon := domain.DefaultHorizon()
	for _, m := range domain.Metrics {
		body, err := s.globalSeries(ctx, m)
		if err != nil {
			return time.Time{}, err
		}
		published, err := domain.PublishedHorizon(bytes.NewReader(body))
		if err != nil {
			return time.Time{}, domain.Unavailable(domain.ResourceGlobalSeries, err)
		}
		if published.Before(horizon) {
			horizon = published
		}
	}
	return horizon, nil
}

// globalSeries returns the raw wide CSV for metric. One body serves every
// horizon and is refetched after the recent TTL.
func (s *Service) globalSeries(ctx context.Context, metric domain.Metric) ([]byte, error) {
	key := cache.Key("raw", domain.SeriesGlobal, metric.Slug())
	return cache.Load(ctx, s.store, key, func(ctx context.Context) ([]byte, time.Duration, error) {
		body, err := s.source.FetchGlobalSeries(ctx, metric)
		if err != nil {
			return nil, 0, contextError(ctx, domain.Unavailable(domain.ResourceGlobalSeries, err))
		}
		return body, s.store.RecentTTL(), nil
	})
}

// maxLoggedRegressions bounds per-load warning volume; the metric counts all.
const maxLoggedRegressions = 5

func (s *Service) flagRegressions(kind domain.SeriesKind, metric domain.Metric, table *domain.TimeSeriesTable) {
	regs := table.Regressions()
	if len(regs) == 0 {
		return
	}
	s.metrics.MonotonicRegressions.WithLabelValues(string(kind)).Add(float64(len(regs)))
	for i, r := range regs {
		if i == maxLoggedRegressions {
			s.logger.Warn("further cumulative decreases omitted",
				"kind", kind, "metric", metric, "total", len(regs))
			break
		}
		s.logger.Warn("cumulative count decreased",
			"kind", kind,
			"metric", metric,
			"entity", r.Entity,
			"day", r.Date.Format(domain.DateLayout),
			"previous", r.Previous,
			"current", r.Current,
		)
	}
}
