// Package mockdata builds a small deterministic copy of the upstream tree.
//
// The dataset spans all three daily-report identifier eras, sums provinces
// in the global series, drops one daily report outright and corrupts
// another, splits one boundary into a multi-polygon and uses country names
// that only match boundaries after reconciliation. Expected values are
// exposed so tests can assert against them without hard-coding numbers.
package mockdata

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"time"

	"github.com/couchcryptid/covid-series-etl/internal/domain"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Tree locations relative to the server root.
const (
	SourceRoot     = "/csse_covid_19_data"
	BoundariesPath = "/countries.geojson"
	StatesPath     = "/states.json"
)

// DefaultEnd is the last day the mock publishes. It lies past the
// 2020-03-22 daily-report header change.
var DefaultEnd = time.Date(2020, time.March, 25, 0, 0, 0, 0, time.UTC)

var (
	// AbsentDay has no daily report at all (404).
	AbsentDay = time.Date(2020, time.February, 15, 0, 0, 0, 0, time.UTC)
	// CorruptDay has a daily report without a Confirmed column.
	CorruptDay = time.Date(2020, time.March, 1, 0, 0, 0, 0, time.UTC)

	headerChange = time.Date(2020, time.March, 22, 0, 0, 0, 0, time.UTC)
)

type region struct {
	province string
	country  string
	scale    int64
}

// Countries appear in global series row order. Australia is split into
// provinces; US and "Korea, South" only join boundaries after reconciliation.
var globalRegions = []region{
	{"New South Wales", "Australia", 3},
	{"Victoria", "Australia", 2},
	{"", "Iceland", 1},
	{"", "Italy", 40},
	{"", "Korea, South", 25},
	{"", "US", 60},
}

type stateSeries struct {
	abbr  string
	name  string
	scale int64
	first time.Time // first day the state is reported
}

// Listed in first-report order, which differs from directory order.
var stateSeriesList = []stateSeries{
	{"WA", "Washington", 5, domain.StartDate},
	{"IL", "Illinois", 2, time.Date(2020, time.January, 24, 0, 0, 0, 0, time.UTC)},
	{"CA", "California", 4, time.Date(2020, time.February, 1, 0, 0, 0, 0, time.UTC)},
	{"NY", "New York", 9, time.Date(2020, time.March, 10, 0, 0, 0, 0, time.UTC)},
}

// UnmappedPerCountyDay is how many US rows per county-era report carry a
// code that does not resolve to a state.
const UnmappedPerCountyDay = 1

// GlobalValue is the expected country total for metric on day.
func GlobalValue(metric domain.Metric, country string, day time.Time) int64 {
	var total int64
	for _, r := range globalRegions {
		if r.country == country {
			total += regionValue(metric, r.scale, domain.StartDate, day)
		}
	}
	return total
}

// GlobalCountries lists the distinct countries in sorted order.
func GlobalCountries() []string {
	return []string{"Australia", "Iceland", "Italy", "Korea, South", "US"}
}

// StateValue is the expected state total for metric on day, ignoring
// missing days.
func StateValue(metric domain.Metric, state string, day time.Time) int64 {
	for _, s := range stateSeriesList {
		if s.name == state {
			return regionValue(metric, s.scale, s.first, day)
		}
	}
	return 0
}

// ReportedStates lists the states that appear in daily reports, in
// alphabetical (directory) order.
func ReportedStates() []string {
	return []string{"California", "Illinois", "New York", "Washington"}
}

func regionValue(metric domain.Metric, scale int64, first, day time.Time) int64 {
	day = domain.Day(day)
	if day.Before(first) {
		return 0
	}
	n := int64(domain.DaysInRange(first, day))
	confirmed := scale * n
	if metric == domain.MetricDeaths {
		return confirmed / 20
	}
	return confirmed
}

// Files renders the tree through end, keyed by absolute URL path.
func Files(end time.Time) (map[string][]byte, error) {
	end = domain.Day(end)
	files := make(map[string][]byte)

	for _, m := range domain.Metrics {
		data, err := globalSeries(m, end)
		if err != nil {
			return nil, err
		}
		files[path.Join(SourceRoot, "csse_covid_19_time_series",
			fmt.Sprintf("time_series_covid19_%s_global.csv", m.Slug()))] = data
	}

	for d := domain.StartDate; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Equal(AbsentDay) {
			continue
		}
		data, err := dailyReport(d)
		if err != nil {
			return nil, err
		}
		files[path.Join(SourceRoot, "csse_covid_19_daily_reports", domain.DailyFileName(d))] = data
	}

	boundaries, err := Boundaries().MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode boundaries: %w", err)
	}
	files[BoundariesPath] = boundaries

	states, err := json.Marshal(States())
	if err != nil {
		return nil, fmt.Errorf("encode states: %w", err)
	}
	files[StatesPath] = states

	return files, nil
}

// Server serves Files(end) over HTTP. Unknown paths return 404. Callers
// close the server.
func Server(end time.Time) (*httptest.Server, error) {
	files, err := Files(end)
	if err != nil {
		return nil, err
	}
	return httptest.NewServer(Handler(files)), nil
}

// Handler serves an in-memory tree.
func Handler(files map[string][]byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if path.Ext(r.URL.Path) == ".csv" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		_, _ = w.Write(data)
	})
}

func globalSeries(metric domain.Metric, end time.Time) ([]byte, error) {
	header := []string{"Province/State", "Country/Region", "Lat", "Long"}
	for d := domain.StartDate; !d.After(end); d = d.AddDate(0, 0, 1) {
		header = append(header, d.Format("1/2/06"))
	}

	rows := [][]string{header}
	for _, r := range globalRegions {
		row := []string{r.province, r.country, "0.0", "0.0"}
		for d := domain.StartDate; !d.After(end); d = d.AddDate(0, 0, 1) {
			v := regionValue(metric, r.scale, domain.StartDate, d)
			// Upstream leaves some leading cells blank.
			if v == 0 && r.province != "" {
				row = append(row, "")
				continue
			}
			row = append(row, strconv.FormatInt(v, 10))
		}
		rows = append(rows, row)
	}
	return writeCSV(rows)
}

func dailyReport(day time.Time) ([]byte, error) {
	era := domain.ClassifyEra(day)
	lateHeader := !day.Before(headerChange)

	var header []string
	if lateHeader {
		header = []string{"FIPS", "Admin2", "Province_State", "Country_Region", "Last_Update", "Lat", "Long_", "Confirmed", "Deaths", "Recovered"}
	} else {
		header = []string{"Province/State", "Country/Region", "Last Update", "Confirmed", "Deaths", "Recovered"}
	}
	if day.Equal(CorruptDay) {
		header[len(header)-3] = "Cases"
	}

	row := func(province, country string, confirmed, deaths int64) []string {
		c, d := strconv.FormatInt(confirmed, 10), strconv.FormatInt(deaths, 10)
		if lateHeader {
			return []string{"", "", province, country, day.Format(time.RFC3339), "0", "0", c, d, "0"}
		}
		return []string{province, country, day.Format(time.RFC3339), c, d, "0"}
	}

	rows := [][]string{header}
	rows = append(rows, row("Hubei", "Mainland China", 1000, 10))

	for _, s := range stateSeriesList {
		confirmed := regionValue(domain.MetricConfirmed, s.scale, s.first, day)
		deaths := regionValue(domain.MetricDeaths, s.scale, s.first, day)
		if day.Before(s.first) {
			continue
		}
		if era != domain.EraCountyAbbrev {
			rows = append(rows, row(s.name, domain.USCountry, confirmed, deaths))
			continue
		}
		// Two county rows per state; the second uses a dotted code.
		rows = append(rows,
			row("Alpha County, "+s.abbr, domain.USCountry, confirmed-confirmed/3, deaths-deaths/3),
			row("Beta County, "+dotted(s.abbr), domain.USCountry, confirmed/3, deaths/3),
		)
	}

	switch era {
	case domain.EraCountyAbbrev:
		rows = append(rows, row("Grand Princess Cruise Ship", domain.USCountry, 21, 0))
	case domain.EraFullNameLate:
		// Not a state; filtered out by the directory.
		rows = append(rows, row("Grand Princess", domain.USCountry, 21, 0))
	}

	data, err := writeCSV(rows)
	if err != nil {
		return nil, err
	}
	if day.Equal(domain.StartDate) {
		data = append([]byte("\ufeff"), data...)
	}
	return data, nil
}

func dotted(abbr string) string {
	return abbr[:1] + "." + abbr[1:] + "."
}

// Boundaries is the mock country FeatureCollection. The US is a
// two-member multi-polygon; Atlantis has no case data; the point feature is
// skipped.
func Boundaries() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	add := func(name string, g orb.Geometry) {
		f := geojson.NewFeature(g)
		f.Properties[domain.DefaultBoundaryNameProperty] = name
		fc.Append(f)
	}
	add("Australia", orb.Polygon{box(130, -30, 10)})
	add("Italy", orb.Polygon{box(10, 40, 5)})
	add("South Korea", orb.Polygon{box(127, 35, 2)})
	add("United States of America", orb.MultiPolygon{
		{box(-120, 35, 20)},
		{box(-155, 60, 10)},
	})
	add("Atlantis", orb.Polygon{box(-30, 30, 3)})
	add("Null Island", orb.Point{0, 0})
	return fc
}

// BoundaryRecords is the number of geometry records Boundaries explodes to.
const BoundaryRecords = 6

func box(x, y, size float64) orb.Ring {
	return orb.Ring{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}}
}

// States is the mock remote state directory. It is smaller than the
// embedded one so an override is observable.
func States() []domain.State {
	return []domain.State{
		{Abbr: "CA", Name: "California"},
		{Abbr: "IL", Name: "Illinois"},
		{Abbr: "NY", Name: "New York"},
		{Abbr: "OR", Name: "Oregon"},
		{Abbr: "TX", Name: "Texas"},
		{Abbr: "WA", Name: "Washington"},
	}
}

func writeCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}
