package domain

import (
	"fmt"
	"strings"
	"time"
)

// Metric is the case-count kind being tracked.
type Metric string

const (
	MetricConfirmed Metric = "Confirmed"
	MetricDeaths    Metric = "Deaths"
)

// Metrics lists every supported metric in display order.
var Metrics = []Metric{MetricConfirmed, MetricDeaths}

// ParseMetric accepts "confirmed" or "deaths" in any case.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "confirmed":
		return MetricConfirmed, nil
	case "deaths":
		return MetricDeaths, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMetric, s)
	}
}

// Column is the daily-report CSV header holding this metric.
func (m Metric) Column() string { return string(m) }

// Slug is the lowercase token used in the time-series file name.
func (m Metric) Slug() string { return strings.ToLower(string(m)) }

func (m Metric) String() string { return string(m) }

// StartDate is the first day covered by every upstream series.
var StartDate = time.Date(2020, time.January, 22, 0, 0, 0, 0, time.UTC)

const (
	// DateLayout is the ISO form used on the API surface.
	DateLayout = "2006-01-02"
	// dailyFileLayout names one daily-report file, e.g. 03-10-2020.
	dailyFileLayout = "01-02-2006"
	// seriesHeaderLayout is the date column header of the wide series, e.g. 1/22/20.
	seriesHeaderLayout = "1/2/06"
)

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses an ISO date (YYYY-MM-DD) as a UTC day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// DaysInRange counts calendar days in [start, end], or 0 when end precedes start.
func DaysInRange(start, end time.Time) int {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Hours()/24) + 1
}

// DailyFileName formats the upstream daily-report file name for day.
func DailyFileName(day time.Time) string {
	return day.Format(dailyFileLayout) + ".csv"
}

// ValidateHorizon checks that lastDate is not before StartDate.
func ValidateHorizon(lastDate time.Time) error {
	if Day(lastDate).Before(StartDate) {
		return fmt.Errorf("%w: last date %s precedes %s", ErrInvalidRange,
			lastDate.Format(DateLayout), StartDate.Format(DateLayout))
	}
	return nil
}
