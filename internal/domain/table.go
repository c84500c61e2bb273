package domain

import (
	"fmt"
	"time"
)

// TimeSeriesTable is a date-indexed, entity-keyed table of cumulative counts.
// Every entity holds exactly one value per date.
type TimeSeriesTable struct {
	Dates    []time.Time        `json:"dates"`
	Entities []string           `json:"entities"`
	Values   map[string][]int64 `json:"values"`

	// MissingDays lists days whose daily source could not be used.
	MissingDays []time.Time `json:"missing_days,omitempty"`
}

// Len is the number of rows (dates).
func (t *TimeSeriesTable) Len() int { return len(t.Dates) }

// LastDate returns the final row's date, or the zero time for an empty table.
func (t *TimeSeriesTable) LastDate() time.Time {
	if len(t.Dates) == 0 {
		return time.Time{}
	}
	return t.Dates[len(t.Dates)-1]
}

// IndexOf returns the row index for date.
func (t *TimeSeriesTable) IndexOf(date time.Time) (int, bool) {
	if len(t.Dates) == 0 {
		return 0, false
	}
	i := DaysInRange(t.Dates[0], date) - 1
	if i < 0 || i >= len(t.Dates) {
		return 0, false
	}
	return i, true
}

// Row returns every entity's value on date.
func (t *TimeSeriesTable) Row(date time.Time) (map[string]int64, bool) {
	i, ok := t.IndexOf(date)
	if !ok {
		return nil, false
	}
	row := make(map[string]int64, len(t.Entities))
	for _, e := range t.Entities {
		row[e] = t.Values[e][i]
	}
	return row, true
}

// Column returns the series for one entity.
func (t *TimeSeriesTable) Column(entity string) ([]int64, bool) {
	v, ok := t.Values[entity]
	return v, ok
}

// Select returns a view restricted to the named entities, keeping table order.
// Unknown names are ignored; an empty selection returns the table unchanged.
func (t *TimeSeriesTable) Select(entities ...string) *TimeSeriesTable {
	if len(entities) == 0 {
		return t
	}
	want := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		want[e] = struct{}{}
	}
	out := &TimeSeriesTable{
		Dates:       t.Dates,
		Values:      make(map[string][]int64, len(entities)),
		MissingDays: t.MissingDays,
	}
	for _, e := range t.Entities {
		if _, ok := want[e]; ok {
			out.Entities = append(out.Entities, e)
			out.Values[e] = t.Values[e]
		}
	}
	return out
}

// Regression is a day on which a cumulative count went down.
type Regression struct {
	Entity   string
	Date     time.Time
	Previous int64
	Current  int64
}

func (r Regression) String() string {
	return fmt.Sprintf("%s on %s: %d -> %d", r.Entity, r.Date.Format(DateLayout), r.Previous, r.Current)
}

// Regressions reports every decrease along each column. Upstream corrections
// make these legitimate, so callers flag rather than reject them. Missing
// days are zero-filled placeholders and are skipped.
func (t *TimeSeriesTable) Regressions() []Regression {
	missing := make(map[time.Time]bool, len(t.MissingDays))
	for _, d := range t.MissingDays {
		missing[d] = true
	}

	var out []Regression
	for _, e := range t.Entities {
		col := t.Values[e]
		prev := -1
		for i := range col {
			if missing[t.Dates[i]] {
				continue
			}
			if prev >= 0 && col[i] < col[prev] {
				out = append(out, Regression{Entity: e, Date: t.Dates[i], Previous: col[prev], Current: col[i]})
			}
			prev = i
		}
	}
	return out
}

// TableBuilder accumulates per-day values for entities that appear over time.
// Columns grow only as far as their last written day; Build pads the rest.
type TableBuilder struct {
	start   time.Time
	days    int
	order   []string
	columns map[string][]int64
	missing []time.Time
}

// NewTableBuilder covers every day in [start, end].
func NewTableBuilder(start, end time.Time) *TableBuilder {
	return &TableBuilder{
		start:   Day(start),
		days:    DaysInRange(start, end),
		columns: make(map[string][]int64),
	}
}

// Days is the number of rows the finished table will have.
func (b *TableBuilder) Days() int { return b.days }

// Date returns the date of row i.
func (b *TableBuilder) Date(i int) time.Time { return b.start.AddDate(0, 0, i) }

// Set writes one day's values. Entities absent from values keep 0 for that day.
func (b *TableBuilder) Set(day int, values map[string]int64) {
	if day < 0 || day >= b.days {
		return
	}
	for entity, v := range values {
		col, ok := b.columns[entity]
		if !ok {
			b.order = append(b.order, entity)
		}
		for len(col) <= day {
			col = append(col, 0)
		}
		col[day] = v
		b.columns[entity] = col
	}
}

// MarkMissing records that day's source was unavailable.
func (b *TableBuilder) MarkMissing(day int) {
	if day < 0 || day >= b.days {
		return
	}
	b.missing = append(b.missing, b.Date(day))
}

// Build materializes the table. When keep is non-nil it fixes both the column
// set and order: only listed entities that were seen are included. Otherwise
// columns appear in first-seen order.
func (b *TableBuilder) Build(keep []string) *TimeSeriesTable {
	dates := make([]time.Time, b.days)
	for i := range dates {
		dates[i] = b.Date(i)
	}

	entities := b.order
	if keep != nil {
		entities = make([]string, 0, len(keep))
		for _, e := range keep {
			if _, ok := b.columns[e]; ok {
				entities = append(entities, e)
			}
		}
	}

	if entities == nil {
		entities = []string{}
	}

	values := make(map[string][]int64, len(entities))
	for _, e := range entities {
		col := make([]int64, b.days)
		copy(col, b.columns[e])
		values[e] = col
	}

	return &TimeSeriesTable{
		Dates:       dates,
		Entities:    entities,
		Values:      values,
		MissingDays: b.missing,
	}
}
