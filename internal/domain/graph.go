package domain

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Edge is one routing-graph edge as read from the graph provider.
type Edge struct {
	ID int64
	// WayID groups edges of the same physical way; HasWay is false when the
	// graph carries no grouping id for the edge.
	WayID  int64
	HasWay bool
	// Geometry is the edge line in WGS84 (lon, lat). Nil when the edge has no
	// usable line geometry.
	Geometry orb.LineString
}

// Graph is the immutable edge collection sampled every update.
type Graph struct {
	Edges []Edge
}

// SamplePoint is the representative point of an edge.
type SamplePoint struct {
	EdgeID int64
	WayID  int64
	HasWay bool
	// Key is the sampling key: edges sharing it share one raster sample.
	Key   string
	Point orb.Point
}

// coordKeyDigits is the precision of coordinate sampling keys.
const coordKeyDigits = 7

// Midpoint returns the point at 50% of the line's planar arc length.
func Midpoint(ls orb.LineString) (orb.Point, bool) {
	return Interpolate(ls, 0.5)
}

// Interpolate returns the point at the given fraction of the line's planar
// arc length. ok is false for lines with fewer than two vertices.
func Interpolate(ls orb.LineString, fraction float64) (orb.Point, bool) {
	if len(ls) < 2 {
		return orb.Point{}, false
	}
	switch {
	case fraction <= 0:
		return ls[0], true
	case fraction >= 1:
		return ls[len(ls)-1], true
	}

	total := planar.Length(ls)
	if total == 0 {
		return ls[0], true
	}
	target := total * fraction
	walked := 0.0
	for i := 1; i < len(ls); i++ {
		seg := planar.Distance(ls[i-1], ls[i])
		if walked+seg >= target && seg > 0 {
			t := (target - walked) / seg
			return orb.Point{
				ls[i-1][0] + t*(ls[i][0]-ls[i-1][0]),
				ls[i-1][1] + t*(ls[i][1]-ls[i-1][1]),
			}, true
		}
		walked += seg
	}
	return ls[len(ls)-1], true
}

// SamplingKey returns the way-grouping key when the edge has a way id, and a
// key built from the midpoint rounded to 7 decimals otherwise.
func SamplingKey(hasWay bool, wayID int64, p orb.Point) string {
	if hasWay {
		return fmt.Sprintf("way:%d", wayID)
	}
	return fmt.Sprintf("xy:%.*f_%.*f", coordKeyDigits, Round(p[0], coordKeyDigits), coordKeyDigits, Round(p[1], coordKeyDigits))
}

// SamplePoints derives one sample point per edge with a valid geometry. Edges
// without geometry are skipped; they are still part of every update table.
func SamplePoints(g Graph) []SamplePoint {
	points := make([]SamplePoint, 0, len(g.Edges))
	for _, e := range g.Edges {
		p, ok := Midpoint(e.Geometry)
		if !ok {
			continue
		}
		points = append(points, SamplePoint{
			EdgeID: e.ID,
			WayID:  e.WayID,
			HasWay: e.HasWay,
			Key:    SamplingKey(e.HasWay, e.WayID, p),
			Point:  p,
		})
	}
	return points
}

// DedupSamplePoints keeps the first point of every distinct sampling key,
// preserving input order.
func DedupSamplePoints(points []SamplePoint) []SamplePoint {
	seen := make(map[string]struct{}, len(points))
	out := make([]SamplePoint, 0, len(points))
	for _, p := range points {
		if _, ok := seen[p.Key]; ok {
			continue
		}
		seen[p.Key] = struct{}{}
		out = append(out, p)
	}
	return out
}
