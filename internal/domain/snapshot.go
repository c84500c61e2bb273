package domain

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// USCountry is the Country/Region value that marks US rows in daily reports.
const USCountry = "US"

// DailyAggregate is one day's US rows reduced to one value per state.
type DailyAggregate struct {
	Day      time.Time
	Era      Era
	Values   map[string]int64
	Rows     int // US rows read
	Unmapped int // rows dropped because their identifier did not resolve
}

// ParseDailySnapshot reads one daily-report CSV, keeps US rows, resolves each
// row's state per the day's era and sums metric per state.
//
// Header names drifted over time ("Province/State" became "Province_State"),
// so the country and province columns are found by substring.
func ParseDailySnapshot(r io.Reader, day time.Time, metric Metric, states *StateDirectory) (DailyAggregate, error) {
	cr := newCSVReader(r)

	header, err := readHeader(cr)
	if err != nil {
		return DailyAggregate{}, fmt.Errorf("read header: %w", err)
	}

	countryCol := findColumn(header, func(h string) bool { return strings.Contains(h, "Country") })
	provinceCol := findColumn(header, func(h string) bool { return strings.Contains(h, "Province") })
	metricCol := findColumn(header, func(h string) bool { return h == metric.Column() })
	switch {
	case countryCol < 0:
		return DailyAggregate{}, errors.New("no country column in header")
	case provinceCol < 0:
		return DailyAggregate{}, errors.New("no province column in header")
	case metricCol < 0:
		return DailyAggregate{}, fmt.Errorf("no %s column in header", metric.Column())
	}

	era := ClassifyEra(day)
	resolve := era.Parser(states)
	agg := DailyAggregate{Day: Day(day), Era: era, Values: make(map[string]int64)}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return DailyAggregate{}, fmt.Errorf("read line %d: %w", line, err)
		}
		if cell(rec, countryCol) != USCountry {
			continue
		}
		agg.Rows++

		state, err := resolve(cell(rec, provinceCol))
		if err != nil {
			agg.Unmapped++
			continue
		}

		v, _, err := parseCount(cell(rec, metricCol))
		if err != nil {
			return DailyAggregate{}, fmt.Errorf("line %d %s: %w", line, metric.Column(), err)
		}
		agg.Values[state] += v
	}

	return agg, nil
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true
	return cr
}

// readHeader copies the first record and strips a UTF-8 byte order mark and
// surrounding whitespace from each name.
func readHeader(cr *csv.Reader) ([]string, error) {
	rec, err := cr.Read()
	if err != nil {
		return nil, err
	}
	header := make([]string, len(rec))
	for i, h := range rec {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		header[i] = strings.TrimSpace(h)
	}
	return header, nil
}

func findColumn(header []string, match func(string) bool) int {
	for i, h := range header {
		if match(h) {
			return i
		}
	}
	return -1
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// parseCount reads a count cell. Empty cells are 0, integral floats such as
// "12.0" are accepted, and negative values are clamped to 0 (clamped=true).
func parseCount(s string) (v int64, clamped bool, err error) {
	if s == "" {
		return 0, false, nil
	}
	v, err = strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, false, fmt.Errorf("invalid count %q", s)
		}
		// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
		if f >= math.MaxInt64 || f < math.MinInt64 {
			return 0, false, fmt.Errorf("count %q out of range", s)
		}
		v = int64(f)
	}
	if v < 0 {
		return 0, true, nil
	}
	return v, false, nil
}
