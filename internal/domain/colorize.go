package domain

import (
	"fmt"
	"time"
)

// ColorizedRegion is a boundary polygon joined with its case count and bucket.
type ColorizedRegion struct {
	GeometryRecord
	Cases      int64 `json:"cases"`
	ColorIndex int   `json:"color_index"`
	Color      Color `json:"color"`
}

// Colorize joins the table's row for date onto geometries by reconciled name
// and assigns each match a palette bucket. Geometries without a case count
// are left out rather than treated as zero.
func Colorize(table *TimeSeriesTable, date time.Time, geometries []GeometryRecord, palette []Color) ([]ColorizedRegion, error) {
	if len(palette) == 0 {
		return nil, fmt.Errorf("colorize: empty palette")
	}
	row, ok := table.Row(Day(date))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDataForDate, Day(date).Format(DateLayout))
	}

	cases := make(map[string]int64, len(row))
	for entity, v := range row {
		cases[Reconcile(entity)] += v
	}

	out := make([]ColorizedRegion, 0, len(geometries))
	for _, g := range geometries {
		v, ok := cases[g.Name]
		if !ok {
			continue
		}
		out = append(out, ColorizedRegion{GeometryRecord: g, Cases: v})
	}
	if len(out) == 0 {
		return out, nil
	}

	lo, hi := out[0].Cases, out[0].Cases
	for _, r := range out[1:] {
		lo = min(lo, r.Cases)
		hi = max(hi, r.Cases)
	}
	for i := range out {
		idx := BucketIndex(out[i].Cases, lo, hi, len(palette))
		out[i].ColorIndex = idx
		out[i].Color = palette[idx]
	}
	return out, nil
}

// BucketIndex places v into one of n equal-width bins over [lo, hi].
// Bins are closed on the right and the first bin also includes lo, so a value
// on a boundary lands in the lower bin. A degenerate range maps to bin 0.
func BucketIndex(v, lo, hi int64, n int) int {
	if n <= 1 || hi <= lo || v <= lo {
		return 0
	}
	if v >= hi {
		return n - 1
	}
	// ceil((v-lo) * n / (hi-lo)) - 1, in integers to keep boundaries exact.
	num := (v - lo) * int64(n)
	den := hi - lo
	idx := int((num+den-1)/den) - 1
	return max(0, min(idx, n-1))
}
