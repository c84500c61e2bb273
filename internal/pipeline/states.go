package pipeline

import (
	"bytes"
	"context"
	"time"

	"github.com/couchcryptid/covid-series-etl/internal/cache"
	"github.com/couchcryptid/covid-series-etl/internal/domain"
)

// dayResult is one daily report reduced to per-state values. A failed day
// carries err instead of failing the whole load.
type dayResult struct {
	agg domain.DailyAggregate
	err error
}

// LoadUSStates assembles a per-state series for metric from one daily report
// per day in [StartDate, lastDate]. Days whose report cannot be fetched or
// parsed are zero-filled and listed in MissingDays.
func (s *Service) LoadUSStates(ctx context.Context, metric domain.Metric, lastDate time.Time) (*domain.TimeSeriesTable, error) {
	lastDate = domain.Day(lastDate)
	if err := domain.ValidateHorizon(lastDate); err != nil {
		return nil, err
	}
	key := cache.Key(domain.SeriesUSStates, metric.Slug(), lastDate)
	return cache.Load(ctx, s.store, key, func(ctx context.Context) (*domain.TimeSeriesTable, time.Duration, error) {
		table, err := s.loadUSStates(ctx, metric, lastDate)
		if err != nil {
			return nil, 0, err
		}
		ttl := s.store.TTLFor(lastDate)
		// A gap may be transient, so a partial table is not kept forever.
		if len(table.MissingDays) > 0 && ttl == cache.NoTTL {
			ttl = s.store.RecentTTL()
		}
		return table, ttl, nil
	})
}

func (s *Service) loadUSStates(ctx context.Context, metric domain.Metric, lastDate time.Time) (*domain.TimeSeriesTable, error) {
	start := time.Now()

	states, err := s.stateDirectory(ctx)
	if err != nil {
		return nil, contextError(ctx, err)
	}

	b := domain.NewTableBuilder(domain.StartDate, lastDate)
	group := s.dayPool.NewGroupContext(ctx)
	for i := range b.Days() {
		day := b.Date(i)
		group.SubmitErr(func() (dayResult, error) {
			return s.loadDay(ctx, day, metric, states), nil
		})
	}

	// Results come back in submission order, so index i is day i.
	results, err := group.Wait()
	if err != nil {
		return nil, contextError(ctx, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, contextError(ctx, err)
	}

	var unmapped int
	for i, r := range results {
		if r.err != nil {
			s.logger.Warn("daily report unavailable, zero-filling day",
				"metric", metric,
				"day", b.Date(i).Format(domain.DateLayout),
				"error", r.err,
			)
			s.metrics.DayFailures.Inc()
			b.MarkMissing(i)
			continue
		}
		unmapped += r.agg.Unmapped
		b.Set(i, r.agg.Values)
	}
	if unmapped > 0 {
		s.metrics.UnmappedIdentifiers.Add(float64(unmapped))
		s.logger.Warn("dropped daily report rows with unmapped state codes",
			"metric", metric, "rows", unmapped)
	}

	table := b.Build(states.Names())
	s.flagRegressions(domain.SeriesUSStates, metric, table)

	s.metrics.LoadDuration.WithLabelValues(string(domain.SeriesUSStates)).Observe(time.Since(start).Seconds())
	s.logger.Info("loaded state series",
		"metric", metric,
		"last_date", lastDate.Format(domain.DateLayout),
		"days", b.Days(),
		"states", len(table.Entities),
		"missing_days", len(table.MissingDays),
		"duration", time.Since(start),
	)
	return table, nil
}

func (s *Service) loadDay(ctx context.Context, day time.Time, metric domain.Metric, states *domain.StateDirectory) dayResult {
	body, err := s.source.FetchDailyReport(ctx, day)
	if err != nil {
		return dayResult{err: domain.DayUnavailable(domain.ResourceDailyReport, day, err)}
	}
	agg, err := domain.ParseDailySnapshot(bytes.NewReader(body), day, metric, states)
	if err != nil {
		return dayResult{err: domain.DayUnavailable(domain.ResourceDailyReport, day, err)}
	}
	return dayResult{agg: agg}
}
