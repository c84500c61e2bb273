package csse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/covid-series-etl/internal/config"
	"github.com/couchcryptid/covid-series-etl/internal/domain"
	"github.com/couchcryptid/covid-series-etl/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(baseURL string, retries int) (*Client, *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	c := NewClient(&config.Config{
		SourceBaseURL: baseURL + "/",
		BoundariesURL: baseURL + "/countries.geojson",
		StatesURL:     baseURL + "/states.json",
		FetchTimeout:  time.Second,
		FetchRetries:  retries,
	}, m, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.retryInterval = time.Millisecond
	return c, m
}

func TestClient_URLs(t *testing.T) {
	c, _ := testClient("http://upstream", 1)

	assert.Equal(t,
		"http://upstream/csse_covid_19_time_series/time_series_covid19_confirmed_global.csv",
		c.GlobalSeriesURL(domain.MetricConfirmed))
	assert.Equal(t,
		"http://upstream/csse_covid_19_daily_reports/03-09-2020.csv",
		c.DailyReportURL(time.Date(2020, 3, 9, 0, 0, 0, 0, time.UTC)))
}

func TestClient_FetchGlobalSeries_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/csse_covid_19_time_series/time_series_covid19_deaths_global.csv", r.URL.Path)
		_, _ = w.Write([]byte("Province/State,Country/Region\n"))
	}))
	defer srv.Close()

	c, m := testClient(srv.URL, 3)
	body, err := c.FetchGlobalSeries(context.Background(), domain.MetricDeaths)
	require.NoError(t, err)

	assert.Equal(t, "Province/State,Country/Region\n", string(body))
	assert.InDelta(t, 1, testutil.ToFloat64(m.FetchRequests.WithLabelValues(domain.ResourceGlobalSeries, "success")), 0)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c, _ := testClient(srv.URL, 3)
	body, err := c.FetchBoundaries(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_RetriesTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c, _ := testClient(srv.URL, 2)
	_, err := c.FetchStates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_GivesUpAfterMaxTries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c, m := testClient(srv.URL, 2)
	_, err := c.FetchDailyReport(context.Background(), time.Date(2020, 4, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, "boom", se.Body)
	assert.Equal(t, int32(2), calls.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(m.FetchRequests.WithLabelValues(domain.ResourceDailyReport, "error")), 0)
}

func TestClient_NotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, m := testClient(srv.URL, 5)
	_, err := c.FetchDailyReport(context.Background(), time.Date(2020, 4, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(m.FetchRequests.WithLabelValues(domain.ResourceDailyReport, "not_found")), 0)
}

func TestClient_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c, _ := testClient(srv.URL, 5)
	_, err := c.FetchBoundaries(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_TimeoutIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c, _ := testClient(srv.URL, 2)
	c.timeout = 50 * time.Millisecond

	body, err := c.FetchBoundaries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestClient_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c, _ := testClient(srv.URL, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchBoundaries(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestClient_FetchStatesUnset(t *testing.T) {
	c, _ := testClient("http://upstream", 1)
	c.statesURL = ""

	_, err := c.FetchStates(context.Background())
	assert.ErrorIs(t, err, ErrStatesURLUnset)
}

func TestClient_MalformedURLIsPermanent(t *testing.T) {
	c, m := testClient("http://upstream", 5)
	c.boundariesURL = "http://upstream/%zz"
	// A retry would sleep far past the deadline.
	c.retryInterval = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.FetchBoundaries(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBuildRequest)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FetchRequests.WithLabelValues(domain.ResourceBoundaries, "error")), 0)
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(errors.New("connection refused")))
	assert.True(t, retryable(context.DeadlineExceeded))
	assert.True(t, retryable(&StatusError{Code: http.StatusServiceUnavailable}))
	assert.True(t, retryable(&StatusError{Code: http.StatusTooManyRequests}))
	assert.False(t, retryable(&StatusError{Code: http.StatusBadRequest}))
	assert.False(t, retryable(ErrNotFound))
	assert.False(t, retryable(context.Canceled))
	assert.False(t, retryable(fmt.Errorf("%w: bad url", errBuildRequest)))
}
