package domain

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// DefaultBoundaryNameProperty is the feature property carrying the region name.
const DefaultBoundaryNameProperty = "ADMIN"

// GeometryRecord is one simple polygon tagged with its boundary name.
// A region made of several disjoint polygons yields several records.
type GeometryRecord struct {
	Name    string      `json:"name"`
	Polygon orb.Polygon `json:"polygon"`
}

// GeometryStats summarizes a boundary decode.
type GeometryStats struct {
	Features int
	Exploded int // multi-polygon features split into several records
	Skipped  int // unnamed features or unsupported geometry types
}

// DecodeBoundaries parses a GeoJSON FeatureCollection and explodes it.
func DecodeBoundaries(data []byte, nameProperty string) ([]GeometryRecord, GeometryStats, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, GeometryStats{}, fmt.Errorf("decode feature collection: %w", err)
	}
	records, stats := ExplodeBoundaries(fc, nameProperty)
	return records, stats, nil
}

// ExplodeBoundaries emits one record per polygon. Multi-polygon features are
// split into one record per member polygon, all sharing the feature's name,
// so the total ring count is unchanged.
func ExplodeBoundaries(fc *geojson.FeatureCollection, nameProperty string) ([]GeometryRecord, GeometryStats) {
	if nameProperty == "" {
		nameProperty = DefaultBoundaryNameProperty
	}
	stats := GeometryStats{Features: len(fc.Features)}
	records := make([]GeometryRecord, 0, len(fc.Features))

	for _, f := range fc.Features {
		name, _ := f.Properties[nameProperty].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			stats.Skipped++
			continue
		}

		switch g := f.Geometry.(type) {
		case orb.Polygon:
			records = append(records, GeometryRecord{Name: name, Polygon: g})
		case orb.MultiPolygon:
			if len(g) > 1 {
				stats.Exploded++
			}
			for _, p := range g {
				records = append(records, GeometryRecord{Name: name, Polygon: p})
			}
		default:
			stats.Skipped++
		}
	}
	return records, stats
}

// RingCount totals the rings across records.
func RingCount(records []GeometryRecord) int {
	n := 0
	for _, r := range records {
		n += len(r.Polygon)
	}
	return n
}
