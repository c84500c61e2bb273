package domain

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"
)

// GlobalStats summarizes one wide time-series parse.
type GlobalStats struct {
	Rows      int // source rows, provinces included
	Countries int
	Clamped   int // negative cells replaced with 0
}

// ParseGlobalSeries reads the wide global CSV (one row per country or
// province, one column per date) and returns one column per country, summed
// across provinces, covering StartDate through lastDate.
//
// Province and coordinate columns are dropped. Date columns must be
// contiguous from StartDate; extra trailing dates are ignored.
func ParseGlobalSeries(r io.Reader, lastDate time.Time) (*TimeSeriesTable, GlobalStats, error) {
	var stats GlobalStats
	if err := ValidateHorizon(lastDate); err != nil {
		return nil, stats, err
	}
	days := DaysInRange(StartDate, lastDate)

	cr := newCSVReader(r)
	header, err := readHeader(cr)
	if err != nil {
		return nil, stats, fmt.Errorf("read header: %w", err)
	}

	countryCol, dateCols := splitSeriesHeader(header)
	if countryCol < 0 {
		return nil, stats, errors.New("no Country/Region column in header")
	}
	if len(dateCols) < days {
		return nil, stats, fmt.Errorf("series has %d date columns, need %d through %s",
			len(dateCols), days, Day(lastDate).Format(DateLayout))
	}
	dateCols = dateCols[:days]
	if err := checkDateColumns(header, dateCols); err != nil {
		return nil, stats, err
	}

	sums := make(map[string][]int64)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("read line %d: %w", line, err)
		}
		country := cell(rec, countryCol)
		if country == "" {
			return nil, stats, fmt.Errorf("line %d: empty Country/Region", line)
		}
		stats.Rows++

		col, ok := sums[country]
		if !ok {
			col = make([]int64, days)
			sums[country] = col
		}
		for d, c := range dateCols {
			v, clamped, err := parseCount(cell(rec, c))
			if err != nil {
				return nil, stats, fmt.Errorf("line %d column %q: %w", line, header[c], err)
			}
			if clamped {
				stats.Clamped++
			}
			col[d] += v
		}
	}

	entities := make([]string, 0, len(sums))
	for country := range sums {
		entities = append(entities, country)
	}
	sort.Strings(entities)
	stats.Countries = len(entities)

	dates := make([]time.Time, days)
	for i := range dates {
		dates[i] = StartDate.AddDate(0, 0, i)
	}

	return &TimeSeriesTable{Dates: dates, Entities: entities, Values: sums}, stats, nil
}

// PublishedHorizon reads only the header of a wide series and returns the
// day of its last date column. Upstream froze the series in 2023, so this,
// not yesterday, bounds what can be loaded.
func PublishedHorizon(r io.Reader) (time.Time, error) {
	header, err := readHeader(newCSVReader(r))
	if err != nil {
		return time.Time{}, fmt.Errorf("read header: %w", err)
	}
	_, dateCols := splitSeriesHeader(header)
	if len(dateCols) == 0 {
		return time.Time{}, errors.New("series has no date columns")
	}
	if err := checkDateColumns(header, dateCols); err != nil {
		return time.Time{}, err
	}
	return StartDate.AddDate(0, 0, len(dateCols)-1), nil
}

// splitSeriesHeader finds the country column and every date column.
func splitSeriesHeader(header []string) (countryCol int, dateCols []int) {
	countryCol = -1
	for i, h := range header {
		switch h {
		case "Country/Region", "Country_Region":
			countryCol = i
		case "Province/State", "Province_State", "Lat", "Long", "Long_":
		default:
			dateCols = append(dateCols, i)
		}
	}
	return countryCol, dateCols
}

func checkDateColumns(header []string, cols []int) error {
	for i, c := range cols {
		got, err := time.ParseInLocation(seriesHeaderLayout, header[c], time.UTC)
		if err != nil {
			return fmt.Errorf("date column %q: %w", header[c], err)
		}
		if want := StartDate.AddDate(0, 0, i); !got.Equal(want) {
			return fmt.Errorf("date column %q out of sequence, want %s", header[c], want.Format(DateLayout))
		}
	}
	return nil
}
