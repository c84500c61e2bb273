package pipeline

import (
	"context"
	"time"

	"github.com/couchcryptid/covid-series-etl/internal/cache"
	"github.com/couchcryptid/covid-series-etl/internal/domain"
)

// LoadBoundaries returns the country boundaries with every multi-polygon
// split into simple polygons. The dataset is static and cached indefinitely.
func (s *Service) LoadBoundaries(ctx context.Context) ([]domain.GeometryRecord, error) {
	return cache.Load(ctx, s.store, cache.Key(domain.ResourceBoundaries), func(ctx context.Context) ([]domain.GeometryRecord, time.Duration, error) {
		start := time.Now()

		body, err := s.source.FetchBoundaries(ctx)
		if err != nil {
			return nil, 0, contextError(ctx, domain.Unavailable(domain.ResourceBoundaries, err))
		}
		records, stats, err := domain.DecodeBoundaries(body, s.opts.BoundaryNameProperty)
		if err != nil {
			return nil, 0, domain.Unavailable(domain.ResourceBoundaries, err)
		}
		if stats.Skipped > 0 {
			s.logger.Warn("skipped boundary features",
				"features", stats.Skipped, "name_property", s.opts.BoundaryNameProperty)
		}

		s.metrics.LoadDuration.WithLabelValues(domain.ResourceBoundaries).Observe(time.Since(start).Seconds())
		s.logger.Info("loaded boundaries",
			"features", stats.Features,
			"records", len(records),
			"exploded", stats.Exploded,
			"rings", domain.RingCount(records),
		)
		return records, cache.NoTTL, nil
	})
}
