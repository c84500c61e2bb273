package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/couchcryptid/covid-series-etl/internal/cache"
	"github.com/couchcryptid/covid-series-etl/internal/config"
	"github.com/couchcryptid/covid-series-etl/internal/domain"
	"github.com/couchcryptid/covid-series-etl/internal/observability"
)

// Source fetches raw upstream resources.
type Source interface {
	FetchGlobalSeries(ctx context.Context, metric domain.Metric) ([]byte, error)
	FetchDailyReport(ctx context.Context, day time.Time) ([]byte, error)
	FetchBoundaries(ctx context.Context) ([]byte, error)
	FetchStates(ctx context.Context) ([]byte, error)
}

// Publisher receives the latest row of each refreshed series.
type Publisher interface {
	Publish(ctx context.Context, snapshots []domain.SeriesSnapshot) error
}

// Options tunes the loaders and the refresh loop.
type Options struct {
	Workers              int
	BoundaryNameProperty string
	RemoteStates         bool // fetch the state directory instead of using the embedded one
	RefreshInterval      time.Duration
	PrefetchStates       bool
}

// OptionsFromConfig maps service configuration onto loader options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Workers:              cfg.FetchWorkers,
		BoundaryNameProperty: cfg.BoundariesNameProperty,
		RemoteStates:         cfg.StatesURL != "",
		RefreshInterval:      cfg.RefreshInterval,
		PrefetchStates:       cfg.PrefetchStates,
	}
}

// Service loads, caches and joins the case series and boundaries.
// It is safe for concurrent use.
type Service struct {
	source    Source
	store     *cache.Store
	publisher Publisher
	dayPool   pond.ResultPool[dayResult]
	opts      Options
	states    *domain.StateDirectory
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
}

// New creates a Service. publisher may be nil.
func New(source Source, store *cache.Store, publisher Publisher, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = time.Hour
	}
	if opts.BoundaryNameProperty == "" {
		opts.BoundaryNameProperty = domain.DefaultBoundaryNameProperty
	}
	return &Service{
		source:    source,
		store:     store,
		publisher: publisher,
		dayPool:   pond.NewResultPool[dayResult](opts.Workers),
		opts:      opts,
		states:    domain.DefaultStateDirectory(),
		logger:    logger,
		metrics:   metrics,
	}
}

// Close stops the day worker pool after in-flight fetches finish.
func (s *Service) Close() {
	s.dayPool.StopAndWait()
}

// CheckReadiness returns nil once the first warm cycle has completed.
func (s *Service) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("series have not been loaded yet")
	}
	return nil
}

// stateDirectory returns the embedded directory, or the remote one when
// configured. The remote directory is cached for the process lifetime.
func (s *Service) stateDirectory(ctx context.Context) (*domain.StateDirectory, error) {
	if !s.opts.RemoteStates {
		return s.states, nil
	}
	return cache.Load(ctx, s.store, cache.Key(domain.ResourceStates), func(ctx context.Context) (*domain.StateDirectory, time.Duration, error) {
		body, err := s.source.FetchStates(ctx)
		if err != nil {
			return nil, 0, domain.Unavailable(domain.ResourceStates, err)
		}
		dir, err := domain.DecodeStateDirectory(bytes.NewReader(body))
		if err != nil {
			return nil, 0, domain.Unavailable(domain.ResourceStates, err)
		}
		s.logger.Info("loaded remote state directory", "states", dir.Len())
		return dir, cache.NoTTL, nil
	})
}

// contextError reports a cancelled or expired parent context in preference
// to whatever failure it caused downstream.
func contextError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("load aborted: %w", ctxErr)
	}
	return err
}
