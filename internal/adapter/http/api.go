package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/covid-series-etl/internal/domain"
	"github.com/paulmach/orb/geojson"
)

// SeriesService is what the API serves from.
type SeriesService interface {
	LoadGlobal(ctx context.Context, metric domain.Metric, lastDate time.Time) (*domain.TimeSeriesTable, error)
	LoadUSStates(ctx context.Context, metric domain.Metric, lastDate time.Time) (*domain.TimeSeriesTable, error)
	LoadBoundaries(ctx context.Context) ([]domain.GeometryRecord, error)
	ColorizeForDate(ctx context.Context, date time.Time, metric domain.Metric) ([]domain.ColorizedRegion, error)
	Horizon(ctx context.Context) (time.Time, error)
	CheckReadiness(ctx context.Context) error
}

// fillOpacity is the alpha applied to palette colors on the map.
const fillOpacity = 0.8

var errBadRequest = errors.New("bad request")

type apiHandler struct {
	svc    SeriesService
	logger *slog.Logger
}

type seriesResponse struct {
	Kind        domain.SeriesKind  `json:"kind"`
	Metric      domain.Metric      `json:"metric"`
	Dates       []string           `json:"dates"`
	Entities    []string           `json:"entities"`
	Values      map[string][]int64 `json:"values"`
	MissingDays []string           `json:"missing_days"`
}

type paletteEntry struct {
	Index int    `json:"index"`
	R     uint8  `json:"r"`
	G     uint8  `json:"g"`
	B     uint8  `json:"b"`
	Fill  string `json:"fill"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (h *apiHandler) handleGlobalSeries(w http.ResponseWriter, r *http.Request) {
	h.serveSeries(w, r, domain.SeriesGlobal, h.svc.LoadGlobal)
}

func (h *apiHandler) handleStateSeries(w http.ResponseWriter, r *http.Request) {
	h.serveSeries(w, r, domain.SeriesUSStates, h.svc.LoadUSStates)
}

type seriesLoader func(ctx context.Context, metric domain.Metric, lastDate time.Time) (*domain.TimeSeriesTable, error)

func (h *apiHandler) serveSeries(w http.ResponseWriter, r *http.Request, kind domain.SeriesKind, load seriesLoader) {
	q := r.URL.Query()
	metric, err := metricParam(q.Get("metric"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	lastDate, err := h.dateParam(r.Context(), "last_date", q.Get("last_date"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	table, err := load(r.Context(), metric, lastDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	// Repeated entity= params carry names that contain commas, like "Korea, South".
	selected := append(splitList(q.Get("entities")), q["entity"]...)
	table = table.Select(selected...)

	writeJSON(w, http.StatusOK, newSeriesResponse(kind, metric, table))
}

func (h *apiHandler) handleMap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	metric, err := metricParam(q.Get("metric"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	date, err := h.dateParam(r.Context(), "date", q.Get("date"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	regions, err := h.svc.ColorizeForDate(r.Context(), date, metric)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	fc := geojson.NewFeatureCollection()
	for _, region := range regions {
		f := geojson.NewFeature(region.Polygon)
		f.Properties["name"] = region.Name
		f.Properties["metric"] = metric.Slug()
		f.Properties["date"] = domain.Day(date).Format(domain.DateLayout)
		f.Properties["cases"] = region.Cases
		f.Properties["color_index"] = region.ColorIndex
		f.Properties["fill"] = region.Color.RGBA(fillOpacity)
		fc.Append(f)
	}
	h.writeFeatures(w, r, fc)
}

func (h *apiHandler) handleBoundaries(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.LoadBoundaries(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	fc := geojson.NewFeatureCollection()
	for _, rec := range records {
		f := geojson.NewFeature(rec.Polygon)
		f.Properties["name"] = rec.Name
		fc.Append(f)
	}
	h.writeFeatures(w, r, fc)
}

func (h *apiHandler) handlePalette(w http.ResponseWriter, _ *http.Request) {
	entries := make([]paletteEntry, len(domain.Palette))
	for i, c := range domain.Palette {
		entries[i] = paletteEntry{Index: i, R: c.R, G: c.G, B: c.B, Fill: c.RGBA(fillOpacity)}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *apiHandler) writeFeatures(w http.ResponseWriter, r *http.Request, fc *geojson.FeatureCollection) {
	data, err := fc.MarshalJSON()
	if err != nil {
		h.writeError(w, r, fmt.Errorf("encode features: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// writeError maps domain errors onto status codes. Upstream details are
// logged, not returned.
func (h *apiHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := classifyError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "query", r.URL.RawQuery, "error", err)
	} else {
		h.logger.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, resp)
}

func classifyError(err error) (int, errorResponse) {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, domain.ErrInvalidMetric), errors.Is(err, domain.ErrInvalidRange):
		return http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "invalid_argument"}
	case errors.Is(err, domain.ErrNoDataForDate):
		return http.StatusNotFound, errorResponse{Error: err.Error(), Kind: "no_data_for_date"}
	case errors.Is(err, domain.ErrDataUnavailable):
		return http.StatusBadGateway, errorResponse{
			Error: "source data is currently unavailable, try again later",
			Kind:  "data_unavailable",
		}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal error", Kind: "internal"}
	}
}

func newSeriesResponse(kind domain.SeriesKind, metric domain.Metric, t *domain.TimeSeriesTable) seriesResponse {
	resp := seriesResponse{
		Kind:        kind,
		Metric:      metric,
		Dates:       formatDays(t.Dates),
		Entities:    t.Entities,
		Values:      t.Values,
		MissingDays: formatDays(t.MissingDays),
	}
	if resp.Entities == nil {
		resp.Entities = []string{}
	}
	return resp
}

func formatDays(days []time.Time) []string {
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = d.Format(domain.DateLayout)
	}
	return out
}

// metricParam defaults to confirmed cases.
func metricParam(raw string) (domain.Metric, error) {
	if raw == "" {
		return domain.MetricConfirmed, nil
	}
	return domain.ParseMetric(raw)
}

// dateParam defaults to the newest day upstream has published.
func (h *apiHandler) dateParam(ctx context.Context, name, raw string) (time.Time, error) {
	if raw == "" {
		return h.svc.Horizon(ctx)
	}
	d, err := domain.ParseDay(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", errBadRequest, name)
	}
	return d, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // response already committed
}
