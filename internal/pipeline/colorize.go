package pipeline

import (
	"context"
	"time"

	"github.com/couchcryptid/covid-series-etl/internal/domain"
)

// ColorizeForDate joins the global series row for date onto the boundaries
// and buckets each region into the palette. The series is loaded through
// the published horizon, so a later date is NoDataForDate.
func (s *Service) ColorizeForDate(ctx context.Context, date time.Time, metric domain.Metric) ([]domain.ColorizedRegion, error) {
	horizon, err := s.Horizon(ctx)
	if err != nil {
		return nil, err
	}
	table, err := s.LoadGlobal(ctx, metric, horizon)
	if err != nil {
		return nil, err
	}
	geometries, err := s.LoadBoundaries(ctx)
	if err != nil {
		return nil, err
	}
	return domain.Colorize(table, date, geometries, domain.Palette)
}
