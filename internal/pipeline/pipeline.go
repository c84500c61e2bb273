package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/covid-series-etl/internal/domain"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Run warms the cache and keeps it fresh until the context is cancelled.
// Each cycle loads both global metrics and the boundaries through the
// published horizon, plus the state series when prefetching is enabled, then
// publishes the latest row of every loaded series.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("refresh loop started",
		"interval", s.opts.RefreshInterval,
		"prefetch_states", s.opts.PrefetchStates,
		"workers", s.opts.Workers,
	)
	s.metrics.PipelineRunning.Set(1)
	defer s.metrics.PipelineRunning.Set(0)

	backoff := initialBackoff
	for {
		if err := s.refresh(ctx); err != nil {
			if ctx.Err() != nil {
				s.logger.Info("refresh loop stopping", "reason", ctx.Err())
				return nil
			}
			s.logger.Error("refresh cycle failed", "error", err, "retry_in", backoff)
			if !sleepWithContext(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}

		backoff = initialBackoff
		if !s.ready.Swap(true) {
			s.logger.Info("series warm, service ready")
		}
		if !sleepWithContext(ctx, s.opts.RefreshInterval) {
			s.logger.Info("refresh loop stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// refresh runs one warm cycle. Loads are served from the cache when their
// entries are still fresh.
func (s *Service) refresh(ctx context.Context) error {
	horizon, err := s.Horizon(ctx)
	if err != nil {
		return fmt.Errorf("horizon: %w", err)
	}
	var snapshots []domain.SeriesSnapshot

	for _, m := range domain.Metrics {
		table, err := s.LoadGlobal(ctx, m, horizon)
		if err != nil {
			return fmt.Errorf("global %s: %w", m.Slug(), err)
		}
		snapshots = s.appendSnapshot(snapshots, domain.SeriesGlobal, m, table)
	}

	if _, err := s.LoadBoundaries(ctx); err != nil {
		return fmt.Errorf("boundaries: %w", err)
	}

	if s.opts.PrefetchStates {
		for _, m := range domain.Metrics {
			table, err := s.LoadUSStates(ctx, m, horizon)
			if err != nil {
				return fmt.Errorf("us states %s: %w", m.Slug(), err)
			}
			snapshots = s.appendSnapshot(snapshots, domain.SeriesUSStates, m, table)
		}
	}

	s.publish(ctx, snapshots)
	return nil
}

func (s *Service) appendSnapshot(snapshots []domain.SeriesSnapshot, kind domain.SeriesKind, metric domain.Metric, table *domain.TimeSeriesTable) []domain.SeriesSnapshot {
	if s.publisher == nil {
		return snapshots
	}
	snap, err := domain.NewSeriesSnapshot(kind, metric, table)
	if err != nil {
		s.logger.Warn("skipping snapshot", "kind", kind, "metric", metric, "error", err)
		return snapshots
	}
	return append(snapshots, snap)
}

// publish delivers snapshots best-effort. A sink outage does not affect
// readiness since the API is served from the cache.
func (s *Service) publish(ctx context.Context, snapshots []domain.SeriesSnapshot) {
	if s.publisher == nil || len(snapshots) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, snapshots); err != nil {
		s.logger.Error("publish snapshots failed", "error", err, "snapshots", len(snapshots))
		return
	}
	s.metrics.SnapshotsPublished.Add(float64(len(snapshots)))
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
