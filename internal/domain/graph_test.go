package domain

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMidpoint(t *testing.T) {
	t.Run("straight segment", func(t *testing.T) {
		p, ok := Midpoint(orb.LineString{{24.0, 60.0}, {24.2, 60.0}})
		require.True(t, ok)
		assert.InDelta(t, 24.1, p[0], 1e-12)
		assert.InDelta(t, 60.0, p[1], 1e-12)
	})

	t.Run("uneven segments", func(t *testing.T) {
		// total length 4: the midpoint lies 1 unit into the second segment.
		p, ok := Midpoint(orb.LineString{{0, 0}, {1, 0}, {1, 3}})
		require.True(t, ok)
		assert.InDelta(t, 1.0, p[0], 1e-12)
		assert.InDelta(t, 1.0, p[1], 1e-12)
	})

	t.Run("degenerate line", func(t *testing.T) {
		p, ok := Midpoint(orb.LineString{{5, 5}, {5, 5}})
		require.True(t, ok)
		assert.Equal(t, orb.Point{5, 5}, p)
	})

	t.Run("too few vertices", func(t *testing.T) {
		_, ok := Midpoint(orb.LineString{{1, 1}})
		assert.False(t, ok)
		_, ok = Midpoint(nil)
		assert.False(t, ok)
	})
}

func TestSamplingKey(t *testing.T) {
	assert.Equal(t, "way:42", SamplingKey(true, 42, orb.Point{1, 2}))
	assert.Equal(t, "xy:24.9623451_60.2012346", SamplingKey(false, 0, orb.Point{24.96234509, 60.20123456}))
	assert.Equal(t,
		SamplingKey(false, 0, orb.Point{24.962345101, 60.2}),
		SamplingKey(false, 0, orb.Point{24.962345099, 60.2}),
	)
}

func TestSamplePoints_DedupByKey(t *testing.T) {
	g := Graph{Edges: []Edge{
		{ID: 1, WayID: 10, HasWay: true, Geometry: orb.LineString{{0, 0}, {2, 0}}},
		{ID: 2, WayID: 10, HasWay: true, Geometry: orb.LineString{{2, 0}, {0, 0}}},
		{ID: 3, WayID: 11, HasWay: true, Geometry: orb.LineString{{0, 1}, {2, 1}}},
		{ID: 4, Geometry: orb.LineString{{0, 2}, {2, 2}}},
		{ID: 5, Geometry: orb.LineString{{2, 2}, {0, 2}}},
		{ID: 6, WayID: 12, HasWay: true},
	}}

	points := SamplePoints(g)
	require.Len(t, points, 5, "edge without geometry has no sample point")

	unique := DedupSamplePoints(points)
	keys := make([]string, 0, len(unique))
	for _, p := range unique {
		keys = append(keys, p.Key)
	}
	assert.Equal(t, []string{"way:10", "way:11", "xy:1.0000000_2.0000000"}, keys)
	assert.Equal(t, int64(1), unique[0].EdgeID, "first edge of a key is the representative")
}
