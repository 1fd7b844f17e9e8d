package mockdata

import (
	"bytes"
	"io"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DigitalGeographyLab/hope-graph-updater/internal/adapter/graphml"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/raster"
)

func TestWrite_CreatesParentDirectories(t *testing.T) {
	root := t.TempDir()
	graphPath := filepath.Join(root, "internal", "pipeline", "testdata", "kumpula.graphml")
	rasterPath := filepath.Join(root, "cache", "nested", "aqi_2020-10-10T08.tif")

	sum, err := Write(graphPath, rasterPath, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 20*19*2*2, sum.Edges)

	g, err := graphml.Load(graphPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Len(t, g.Edges, sum.Edges)

	r, err := raster.ReadFile(rasterPath)
	require.NoError(t, err)
	assert.Equal(t, sum.Width, r.Width)
	assert.Equal(t, sum.Height, r.Height)
	assert.Equal(t, raster.EPSGWGS84, r.EPSG)
}

func TestWrite_InvalidOptions(t *testing.T) {
	dir := t.TempDir()
	_, err := Write(filepath.Join(dir, "g.graphml"), filepath.Join(dir, "r.tif"), Options{GridSize: 1, CellDeg: 0.001})
	assert.Error(t, err)
	_, err = Write(filepath.Join(dir, "g.graphml"), filepath.Join(dir, "r.tif"), Options{GridSize: 4})
	assert.Error(t, err)
}

func TestGridEdges_SameSeedSameGraph(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, WriteGraphML(&a, GridEdges(5, rand.New(rand.NewPCG(7, 7)))))
	require.NoError(t, WriteGraphML(&b, GridEdges(5, rand.New(rand.NewPCG(7, 7)))))
	assert.Equal(t, a.String(), b.String())
}

func TestAQISurface_Range(t *testing.T) {
	r := AQISurface(0.001, rand.New(rand.NewPCG(1, 1)))
	nodata := 0
	for _, v := range r.Data {
		if v == NoDataValue {
			nodata++
			continue
		}
		assert.GreaterOrEqual(t, v, SurfaceMin-0.06)
		assert.LessOrEqual(t, v, SurfaceMax+0.06)
	}
	assert.Positive(t, nodata)
}
