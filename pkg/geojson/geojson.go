// Package geojson provides the small set of GeoJSON helpers the imagery
// client needs: bounding boxes from geometries and extent arithmetic.
package geojson

import (
	"encoding/json"
	"fmt"
	"math"
)

// Geometry represents a GeoJSON geometry object. Coordinates stay raw;
// the helpers below walk them without caring about the nesting depth.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// ComputeBBox computes the bounding box of a geometry.
// Returns [west, south, east, north].
func ComputeBBox(g *Geometry) ([]float64, error) {
	if g == nil {
		return nil, fmt.Errorf("geometry is nil")
	}

	var coords any
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s coordinates: %w", g.Type, err)
	}

	minLon, minLat := math.Inf(1), math.Inf(1)
	maxLon, maxLat := math.Inf(-1), math.Inf(-1)

	var walk func(v any) error
	walk = func(v any) error {
		list, ok := v.([]any)
		if !ok || len(list) == 0 {
			return fmt.Errorf("malformed coordinates in %s geometry", g.Type)
		}
		// A position is a list of numbers; anything else nests deeper.
		if lon, ok := list[0].(float64); ok {
			if len(list) < 2 {
				return fmt.Errorf("position with %d values in %s geometry", len(list), g.Type)
			}
			lat, ok := list[1].(float64)
			if !ok {
				return fmt.Errorf("malformed position in %s geometry", g.Type)
			}
			minLon, maxLon = math.Min(minLon, lon), math.Max(maxLon, lon)
			minLat, maxLat = math.Min(minLat, lat), math.Max(maxLat, lat)
			return nil
		}
		for _, inner := range list {
			if err := walk(inner); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(coords); err != nil {
		return nil, err
	}
	if math.IsInf(minLon, 0) || math.IsInf(minLat, 0) {
		return nil, fmt.Errorf("failed to compute bounding box: no valid coordinates found")
	}
	return []float64{minLon, minLat, maxLon, maxLat}, nil
}

// Intersects reports whether two [west, south, east, north] boxes
// overlap. Boxes shorter than 4 values never intersect.
func Intersects(a, b []float64) bool {
	if len(a) < 4 || len(b) < 4 {
		return false
	}
	return a[0] <= b[2] && b[0] <= a[2] && a[1] <= b[3] && b[1] <= a[3]
}

// BBoxAround returns the box of the given size in degrees centered on a
// position, as [west, south, east, north].
func BBoxAround(lon, lat, size float64) [4]float64 {
	half := size / 2
	return [4]float64{lon - half, lat - half, lon + half, lat + half}
}
