package pipeline_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/covid-series-etl/internal/adapter/csse"
	"github.com/couchcryptid/covid-series-etl/internal/cache"
	"github.com/couchcryptid/covid-series-etl/internal/config"
	"github.com/couchcryptid/covid-series-etl/internal/domain"
	"github.com/couchcryptid/covid-series-etl/internal/mockdata"
	"github.com/couchcryptid/covid-series-etl/internal/observability"
	"github.com/couchcryptid/covid-series-etl/internal/pipeline"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

// countingSource records how many times each resource was fetched.
type countingSource struct {
	inner      pipeline.Source
	global     atomic.Int32
	daily      atomic.Int32
	boundaries atomic.Int32
	states     atomic.Int32
}

func (c *countingSource) FetchGlobalSeries(ctx context.Context, m domain.Metric) ([]byte, error) {
	c.global.Add(1)
	return c.inner.FetchGlobalSeries(ctx, m)
}

func (c *countingSource) FetchDailyReport(ctx context.Context, day time.Time) ([]byte, error) {
	c.daily.Add(1)
	return c.inner.FetchDailyReport(ctx, day)
}

func (c *countingSource) FetchBoundaries(ctx context.Context) ([]byte, error) {
	c.boundaries.Add(1)
	return c.inner.FetchBoundaries(ctx)
}

func (c *countingSource) FetchStates(ctx context.Context) ([]byte, error) {
	c.states.Add(1)
	return c.inner.FetchStates(ctx)
}

// failingSource fails every fetch with err.
type failingSource struct {
	err error
}

func (f failingSource) FetchGlobalSeries(context.Context, domain.Metric) ([]byte, error) {
	return nil, f.err
}

func (f failingSource) FetchDailyReport(context.Context, time.Time) ([]byte, error) {
	return nil, f.err
}

func (f failingSource) FetchBoundaries(context.Context) ([]byte, error) { return nil, f.err }

func (f failingSource) FetchStates(context.Context) ([]byte, error) { return nil, f.err }

type recordingPublisher struct {
	mu        sync.Mutex
	snapshots []domain.SeriesSnapshot
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, snapshots []domain.SeriesSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.snapshots = append(p.snapshots, snapshots...)
	return nil
}

func (p *recordingPublisher) published() []domain.SeriesSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.SeriesSnapshot(nil), p.snapshots...)
}

// --- fixtures ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// freezeAtMockHorizon pins the domain clock so the default horizon is the
// last day the mock upstream publishes.
func freezeAtMockHorizon(t *testing.T) {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(mockdata.DefaultEnd.AddDate(0, 0, 1).Add(12 * time.Hour)))
	t.Cleanup(func() { domain.SetClock(nil) })
}

// mockSource serves the mock upstream through the real HTTP client.
func mockSource(t *testing.T, metrics *observability.Metrics) *countingSource {
	t.Helper()
	srv, err := mockdata.Server(mockdata.DefaultEnd)
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	client := csse.NewClient(&config.Config{
		SourceBaseURL: srv.URL + mockdata.SourceRoot,
		BoundariesURL: srv.URL + mockdata.BoundariesPath,
		StatesURL:     srv.URL + mockdata.StatesPath,
		FetchTimeout:  5 * time.Second,
		FetchRetries:  1,
	}, metrics, discardLogger())
	return &countingSource{inner: client}
}

type harness struct {
	svc     *pipeline.Service
	source  *countingSource
	metrics *observability.Metrics
}

func newHarness(t *testing.T, opts pipeline.Options, pub pipeline.Publisher) *harness {
	t.Helper()
	metrics := observability.NewMetricsForTesting()
	src := mockSource(t, metrics)
	return &harness{
		svc:     newService(t, src, opts, pub, metrics),
		source:  src,
		metrics: metrics,
	}
}

func newService(t *testing.T, src pipeline.Source, opts pipeline.Options, pub pipeline.Publisher, metrics *observability.Metrics) *pipeline.Service {
	t.Helper()
	if opts.Workers == 0 {
		opts.Workers = 4
	}
	store := cache.New(64, time.Minute, metrics)
	svc := pipeline.New(src, store, pub, opts, discardLogger(), metrics)
	t.Cleanup(svc.Close)
	return svc
}
