package domain

import (
	"errors"
	"fmt"
	"time"
)

// Upstream resource names, used in errors and metric labels.
const (
	ResourceGlobalSeries = "global_series"
	ResourceDailyReport  = "daily_report"
	ResourceBoundaries   = "boundaries"
	ResourceStates       = "states"
)

var (
	// ErrDataUnavailable means a whole resource could not be fetched or parsed.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrDaySourceUnavailable means a single daily snapshot could not be used.
	ErrDaySourceUnavailable = errors.New("day source unavailable")
	// ErrUnmappedIdentifier means an abbreviation had no full-name mapping.
	ErrUnmappedIdentifier = errors.New("unmapped identifier")
	// ErrNoDataForDate means a requested date is outside the loaded table.
	ErrNoDataForDate = errors.New("no data for date")

	ErrInvalidMetric = errors.New("invalid metric")
	ErrInvalidRange  = errors.New("invalid date range")
)

// SourceError ties a fetch or parse failure to the resource it came from.
// Kind is ErrDataUnavailable or ErrDaySourceUnavailable.
type SourceError struct {
	Kind     error
	Resource string
	Day      time.Time // zero for whole-resource failures
	Err      error
}

func (e *SourceError) Error() string {
	if e.Day.IsZero() {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Resource, e.Err)
	}
	return fmt.Sprintf("%v: %s (%s): %v", e.Kind, e.Resource, e.Day.Format(DateLayout), e.Err)
}

func (e *SourceError) Unwrap() []error { return []error{e.Kind, e.Err} }

// Unavailable wraps err as a whole-resource failure.
func Unavailable(resource string, err error) error {
	return &SourceError{Kind: ErrDataUnavailable, Resource: resource, Err: err}
}

// DayUnavailable wraps err as a single-day failure.
func DayUnavailable(resource string, day time.Time, err error) error {
	return &SourceError{Kind: ErrDaySourceUnavailable, Resource: resource, Day: day, Err: err}
}
