package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// SeriesKind names which loader produced a table.
type SeriesKind string

const (
	SeriesGlobal   SeriesKind = "global"
	SeriesUSStates SeriesKind = "us_states"
)

// SeriesSnapshot is the final row of a loaded table, published downstream
// after each refresh.
type SeriesSnapshot struct {
	Kind        SeriesKind       `json:"kind"`
	Metric      Metric           `json:"metric"`
	Date        string           `json:"date"`
	Values      map[string]int64 `json:"values"`
	MissingDays int              `json:"missing_days,omitempty"`
	ProcessedAt time.Time        `json:"processed_at"`
}

// Key identifies the series a snapshot belongs to, e.g. "global:confirmed".
func (s SeriesSnapshot) Key() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.Metric.Slug())
}

// NewSeriesSnapshot takes the last row of table.
func NewSeriesSnapshot(kind SeriesKind, metric Metric, table *TimeSeriesTable) (SeriesSnapshot, error) {
	last := table.LastDate()
	row, ok := table.Row(last)
	if !ok {
		return SeriesSnapshot{}, fmt.Errorf("%w: table is empty", ErrNoDataForDate)
	}
	return SeriesSnapshot{
		Kind:        kind,
		Metric:      metric,
		Date:        last.Format(DateLayout),
		Values:      row,
		MissingDays: len(table.MissingDays),
		ProcessedAt: clock.Now().UTC(),
	}, nil
}

// Marshal serializes the snapshot as JSON.
func (s SeriesSnapshot) Marshal() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("serialize series snapshot: %w", err)
	}
	return data, nil
}
