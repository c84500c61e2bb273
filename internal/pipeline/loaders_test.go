package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/couchcryptid/covid-series-etl/internal/domain"
	"github.com/couchcryptid/covid-series-etl/internal/mockdata"
	"github.com/couchcryptid/covid-series-etl/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// --- global series ---

func TestLoadGlobal_RowsAndValues(t *testing.T) {
	freezeAtMockHorizon(t)
	h := newHarness(t, pipeline.Options{}, nil)

	table, err := h.svc.LoadGlobal(context.Background(), domain.MetricConfirmed, mockdata.DefaultEnd)
	require.NoError(t, err)

	assert.Equal(t, domain.DaysInRange(domain.StartDate, mockdata.DefaultEnd), table.Len())
	assert.Equal(t, mockdata.GlobalCountries(), table.Entities)
	for _, country := range table.Entities {
		col, ok := table.Column(country)
		require.True(t, ok)
		for i, v := range col {
			assert.Equal(t, mockdata.GlobalValue(domain.MetricConfirmed, country, table.Dates[i]), v, "%s on %s", country, table.Dates[i])
		}
	}
}

func TestLoadGlobal_TruncatesToLastDate(t *testing.T) {
	freezeAtMockHorizon(t)
	h := newHarness(t, pipeline.Options{}, nil)

	last := date(2020, time.February, 1)
	table, err := h.svc.LoadGlobal(context.Background(), domain.MetricDeaths, last)
	require.NoError(t, err)

	assert.Equal(t, 11, table.Len())
	assert.True(t, table.LastDate().Equal(last))
}

func TestLoadGlobal_Idempotent(t *testing.T) {
	freezeAtMockHorizon(t)
	h := newHarness(t, pipeline.Options{}, nil)

	first, err := h.svc.LoadGlobal(context.Background(), domain.MetricConfirmed, mockdata.DefaultEnd)
	require.NoError(t, err)

	// An uncached service over the same source produces the same table.
	fresh := newService(t, h.source, pipeline.Options{}, nil, h.metrics)
	second, err := fresh.LoadGlobal(context.Background(), domain.MetricConfirmed, mockdata.DefaultEnd)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated load mismatch (-first +second):\n%s", diff)
	}
}

func TestLoadGlobal_Cached(t *testing.T) {
	freezeAtMockHorizon(t)
	h := newHarness(t, pipeline.Options{}, nil)

	for range 3 {
		_, err := h.svc.LoadGlobal(context.Background(), domain.MetricConfirmed, mockdata.DefaultEnd)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), h.source.global.Load())

	// A different horizon is a different table, parsed from the same body.
	table, err := h.svc.LoadGlobal(context.Background(), domain.MetricConfirmed, date(2020, time.March, 1))
	require.NoError(t, err)
	assert.Equal(t, date(2020, time.March, 1), table.LastDate())
	assert.Equal(t, int32(1), h.source.global.Load())
}

func TestLoadGlobal_InvalidRange(t *testing.T) {
	h := newHarness(t, pipeline.Options{}, nil)

	_, err := h.svc.LoadGlobal(context.Background(), domain.MetricConfirmed, date(2020, time.January, 21))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidRange)
	assert.Equal(t, int32(0), h.source.global.Load())
}

func TestLoadGlobal_PastPublishedHorizon(t *testing.T) {
	h := newHarness(t, pipeline.Options{}, nil)

	_, err := h.svc.LoadGlobal(context.Background(), domain.MetricConfirmed, mockdata.DefaultEnd.AddDate(0, 0, 5))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestLoadGlobal_SourceFailureNotCached(t *testing.T) {
	metrics := newTestMetrics()
	upstream := errors.New("connection refused")
	svc := newService(t, failingSource{err: upstream}, pipeline.Options{}, nil, metrics)

	for range 2 {
		_, err := svc.LoadGlobal(context.Background(), domain.MetricConfirmed, mockdata.DefaultEnd)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrDataUnavailable)
		assert.ErrorIs(t, err, upstream)

		var se *domain.SourceError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, domain.ResourceGlobalSeries, se.Resource)
	}
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("miss")), 0)
}

// --- state series ---

func TestLoadUSStates_Confirmed(t *testing.T) {
	freezeAtMockHorizon(t)
	h := newHarness(t, pipeline.Options{}, nil)

	table, err := h.svc.LoadUSStates(context.Background(), domain.MetricConfirmed, mockdata.DefaultEnd)
	require.NoError(t, err)

	assert.Equal(t, domain.DaysInRange(domain.StartDate, mockdata.DefaultEnd), table.Len())
	assert.Equal(t, mockdata.ReportedStates(), table.Entities, "directory order, reported states only")
	assert.Equal(t, []time.Time{mockdata.AbsentDay, mockdata.CorruptDay}, table.MissingDays)

	missing := map[time.Time]bool{mockdata.AbsentDay: true, mockdata.CorruptDay: true}
	for i, d := range table.Dates {
		for _, state := range table.Entities {
			want := mockdata.StateValue(domain.MetricConfirmed, state, d)
			if missing[d] {
				want = 0
			}
			assert.Equal(t, want, table.Values[state][i], "%s on %s", state, d.Format(domain.DateLayout))
		}
	}

	assert.Equal(t, int32(table.Len()), h.source.daily.Load())
	assert.InDelta(t, 2, testutil.ToFloat64(h.metrics.DayFailures), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(h.metrics.MonotonicRegressions.WithLabelValues("us_states")), 0)
}

func TestLoadUSStates_EraResolution(t *testing.T) {
	freezeAtMockHorizon(t)
	h := newHarness(t, pipeline.Options{}, nil)

	table, err := h.svc.LoadUSStates(context.Background(), domain.MetricDeaths, mockdata.DefaultEnd)
	require.NoError(t, err)

	days := []time.Time{
		date(2020, time.January, 30), // full names
		date(2020, time.February, 20), // "County, XX"
		date(2020, time.March, 20),    // full names again
	}
	for _, d := range days {
		row, ok := table.Row(d)
		require.True(t, ok)
		for _, state := range mockdata.ReportedStates() {
			assert.Equal(t, mockdata.StateValue(domain.MetricDeaths, state, d), row[state], "%s on %s", state, d.Format(domain.DateLayout))
		}
	}

	// Only the absent day is missing; the corrupt report still has Deaths.
	assert.Equal(t, []time.Time{mockdata.AbsentDay}, table.MissingDays)

	// One unmapped cruise-ship row per county-era day that was published.
	countyDays := domain.DaysInRange(date(2020, time.February, 1), date(2020, time.March, 9)) - 1
	assert.InDelta(t, float64(countyDays*mockdata.UnmappedPerCountyDay), testutil.ToFloat64(h.metrics.UnmappedIdentifiers), 0)
}

func TestLoadUSStates_EarlyHorizonHasFewerStates(t *testing.T) {
	h := newHarness(t, pipeline.Options{}, nil)

	table, err := h.svc.LoadUSStates(context.Background(), domain.MetricConfirmed, date(2020, time.January, 31))
	require.NoError(t, err)

	assert.Equal(t, 10, table.Len())
	assert.Equal(t, []string{"Illinois", "Washington"}, table.Entities)
	assert.Empty(t, table.MissingDays)
}

func TestLoadUSStates_Idempotent(t *testing.T) {
	freezeAtMockHorizon(t)
	h := newHarness(t, pipeline.Options{Workers: 8}, nil)

	first, err := h.svc.LoadUSStates(context.Background(), domain.MetricConfirmed, mockdata.DefaultEnd)
	require.NoError(t, err)

	fresh := newService(t, h.source, pipeline.Options{Workers: 1}, nil, h.metrics)
	second, err := fresh.LoadUSStates(context.Background(), domain.MetricConfirmed, mockdata.DefaultEnd)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("worker count changed the result (-8 workers +1 worker):\n%s", diff)
	}
}

func TestLoadUSStates_RemoteStateDirectory(t *testing.T) {
	h := newHarness(t, pipeline.Options{RemoteStates: true}, nil)

	for _, m := range domain.Metrics {
		table, err := h.svc.LoadUSStates(context.Background(), m, date(2020, time.March, 12))
		require.NoError(t, err)
		assert.Equal(t, mockdata.ReportedStates(), table.Entities)
	}
	assert.Equal(t, int32(1), h.source.states.Load(), "directory fetched once")
}

func TestLoadUSStates_AllDaysFail(t *testing.T) {
	metrics := newTestMetrics()
	svc := newService(t, failingSource{err: errors.New("boom")}, pipeline.Options{}, nil, metrics)

	last := date(2020, time.January, 26)
	table, err := svc.LoadUSStates(context.Background(), domain.MetricConfirmed, last)
	require.NoError(t, err)

	assert.Equal(t, 5, table.Len())
	assert.Empty(t, table.Entities)
	assert.Len(t, table.MissingDays, 5)
	assert.InDelta(t, 5, testutil.ToFloat64(metrics.DayFailures), 0)
}

func TestLoadUSStates_CancelledContext(t *testing.T) {
	h := newHarness(t, pipeline.Options{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.svc.LoadUSStates(ctx, domain.MetricConfirmed, mockdata.DefaultEnd)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrDaySourceUnavailable)
	assert.InDelta(t, 0, testutil.ToFloat64(h.metrics.DayFailures), 0)
}

func TestLoadUSStates_InvalidRange(t *testing.T) {
	h := newHarness(t, pipeline.Options{}, nil)

	_, err := h.svc.LoadUSStates(context.Background(), domain.MetricConfirmed, date(2019, time.December, 31))
	assert.ErrorIs(t, err, domain.ErrInvalidRange)
}

// --- boundaries and join ---

func TestLoadBoundaries(t *testing.T) {
	h := newHarness(t, pipeline.Options{}, nil)

	records, err := h.svc.LoadBoundaries(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, mockdata.BoundaryRecords)

	var us int
	for _, r := range records {
		if r.Name == "United States of America" {
			us++
		}
	}
	assert.Equal(t, 2, us, "multi-polygon split into its members")

	_, err = h.svc.LoadBoundaries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.source.boundaries.Load())
}

func TestLoadBoundaries_SourceFailure(t *testing.T) {
	svc := newService(t, failingSource{err: errors.New("boom")}, pipeline.Options{}, nil, newTestMetrics())

	_, err := svc.LoadBoundaries(context.Background())
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestColorizeForDate(t *testing.T) {
	freezeAtMockHorizon(t)
	h := newHarness(t, pipeline.Options{}, nil)

	regions, err := h.svc.ColorizeForDate(context.Background(), mockdata.DefaultEnd, domain.MetricConfirmed)
	require.NoError(t, err)

	names := make([]string, len(regions))
	for i, r := range regions {
		names[i] = r.Name
	}
	// Geometry order; Atlantis has no cases and Iceland no boundary.
	assert.Equal(t, []string{"Australia", "Italy", "South Korea", "United States of America", "United States of America"}, names)

	byName := map[string]domain.ColorizedRegion{}
	for _, r := range regions {
		byName[r.Name] = r
	}
	assert.Equal(t, mockdata.GlobalValue(domain.MetricConfirmed, "US", mockdata.DefaultEnd), byName["United States of America"].Cases)
	assert.Equal(t, mockdata.GlobalValue(domain.MetricConfirmed, "Korea, South", mockdata.DefaultEnd), byName["South Korea"].Cases)
	assert.Equal(t, 0, byName["Australia"].ColorIndex, "smallest value is bucket 0")
	assert.Equal(t, len(domain.Palette)-1, byName["United States of America"].ColorIndex, "largest value is the top bucket")
	assert.Equal(t, domain.Palette[byName["Italy"].ColorIndex], byName["Italy"].Color)
}

func TestColorizeForDate_NoDataForDate(t *testing.T) {
	freezeAtMockHorizon(t)
	h := newHarness(t, pipeline.Options{}, nil)

	_, err := h.svc.ColorizeForDate(context.Background(), mockdata.DefaultEnd.AddDate(0, 0, 1), domain.MetricConfirmed)
	assert.ErrorIs(t, err, domain.ErrNoDataForDate)

	_, err = h.svc.ColorizeForDate(context.Background(), date(2020, time.January, 1), domain.MetricConfirmed)
	assert.ErrorIs(t, err, domain.ErrNoDataForDate)
}

// --- published horizon ---

// freezeAfterMockHorizon pins the clock a month past the last published day,
// the way the real feed sits frozen behind the wall clock.
func freezeAfterMockHorizon(t *testing.T) {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(mockdata.DefaultEnd.AddDate(0, 0, 30).Add(12 * time.Hour)))
	t.Cleanup(func() { domain.SetClock(nil) })
}

func TestHorizon_CappedAtPublishedSeries(t *testing.T) {
	freezeAfterMockHorizon(t)
	h := newHarness(t, pipeline.Options{}, nil)

	horizon, err := h.svc.Horizon(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mockdata.DefaultEnd, horizon)

	_, err = h.svc.Horizon(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(len(domain.Metrics)), h.source.global.Load(), "raw series cached")
}

func TestHorizon_CappedAtYesterday(t *testing.T) {
	domain.SetClock(clockwork.NewFakeClockAt(date(2020, time.March, 10).Add(12 * time.Hour)))
	t.Cleanup(func() { domain.SetClock(nil) })
	h := newHarness(t, pipeline.Options{}, nil)

	horizon, err := h.svc.Horizon(context.Background())
	require.NoError(t, err)
	assert.Equal(t, date(2020, time.March, 9), horizon)
}

func TestHorizon_SourceDown(t *testing.T) {
	svc := newService(t, failingSource{err: errors.New("boom")}, pipeline.Options{}, nil, newTestMetrics())

	_, err := svc.Horizon(context.Background())
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestColorizeForDate_FrozenFeed(t *testing.T) {
	freezeAfterMockHorizon(t)
	h := newHarness(t, pipeline.Options{}, nil)

	day := mockdata.DefaultEnd.AddDate(0, 0, -5)
	regions, err := h.svc.ColorizeForDate(context.Background(), day, domain.MetricConfirmed)
	require.NoError(t, err)
	require.NotEmpty(t, regions)
	for _, r := range regions {
		if r.Name == "Italy" {
			assert.Equal(t, mockdata.GlobalValue(domain.MetricConfirmed, "Italy", day), r.Cases)
		}
	}

	// Past the last published column but before the wall clock.
	_, err = h.svc.ColorizeForDate(context.Background(), mockdata.DefaultEnd.AddDate(0, 0, 10), domain.MetricConfirmed)
	assert.ErrorIs(t, err, domain.ErrNoDataForDate)
	assert.NotErrorIs(t, err, domain.ErrDataUnavailable)
}
