// Package mockdata generates a synthetic Kumpula street graph and a matching
// AQI raster. Output is fully determined by Options, so tests and
// cmd/genmock produce the same fixture for the same seed.
package mockdata

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/DigitalGeographyLab/hope-graph-updater/internal/adapter/graphml"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/raster"
)

// Kumpula bounding box, WGS84.
const (
	MinLon = 24.945
	MaxLon = 24.975
	MinLat = 60.200
	MaxLat = 60.215
)

// Surface value range before noise. Every cell outside the nodata block lies
// within ±0.05 of [SurfaceMin, SurfaceMax].
const (
	SurfaceMin = 1.2
	SurfaceMax = 3.5
	// NoDataValue fills the rectangular patch near the centre.
	NoDataValue = 1.0
)

// Options controls the generated fixture.
type Options struct {
	GridSize int     // street grid nodes per side
	CellDeg  float64 // raster cell size in degrees
	Seed     uint64
}

// DefaultOptions returns the fixture used by the test suite.
func DefaultOptions() Options {
	return Options{GridSize: 20, CellDeg: 0.0005, Seed: 1}
}

// Edge is one directed street segment.
type Edge struct {
	ID    int64
	WayID int64
	// HasWay is false for a sprinkling of edges, like footpaths without an OSM way.
	HasWay bool
	Line   orb.LineString
}

// Summary describes what Write produced.
type Summary struct {
	Edges  int
	Width  int
	Height int
}

// Write generates the fixture and writes the graph as GraphML to graphPath
// and the raster as a deflate GeoTIFF to rasterPath. Parent directories are
// created as needed.
func Write(graphPath, rasterPath string, opts Options) (Summary, error) {
	if opts.GridSize < 2 {
		return Summary{}, fmt.Errorf("grid must be at least 2, got %d", opts.GridSize)
	}
	if opts.CellDeg <= 0 {
		return Summary{}, fmt.Errorf("cell size must be positive, got %v", opts.CellDeg)
	}
	for _, p := range []string{graphPath, rasterPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return Summary{}, err
		}
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))
	edges := GridEdges(opts.GridSize, rng)
	if err := writeGraphFile(graphPath, edges); err != nil {
		return Summary{}, fmt.Errorf("writing graph: %w", err)
	}

	r := AQISurface(opts.CellDeg, rng)
	if err := raster.WriteFile(rasterPath, r, &raster.EncodeOptions{Deflate: true}); err != nil {
		return Summary{}, fmt.Errorf("writing raster: %w", err)
	}
	return Summary{Edges: len(edges), Width: r.Width, Height: r.Height}, nil
}

// GridEdges lays out horizontal and vertical streets. Each street is one way
// split into an edge per block, traversed in both directions.
func GridEdges(n int, rng *rand.Rand) []Edge {
	lon := func(i int) float64 { return MinLon + (MaxLon-MinLon)*float64(i)/float64(n-1) }
	lat := func(j int) float64 { return MinLat + (MaxLat-MinLat)*float64(j)/float64(n-1) }

	var edges []Edge
	add := func(way int64, a, b orb.Point) {
		hasWay := rng.IntN(20) != 0
		for _, line := range []orb.LineString{{a, b}, {b, a}} {
			edges = append(edges, Edge{ID: int64(len(edges)), WayID: way, HasWay: hasWay, Line: line})
		}
	}

	way := int64(1000)
	for j := 0; j < n; j++ {
		way++
		for i := 0; i+1 < n; i++ {
			add(way, orb.Point{lon(i), lat(j)}, orb.Point{lon(i + 1), lat(j)})
		}
	}
	for i := 0; i < n; i++ {
		way++
		for j := 0; j+1 < n; j++ {
			add(way, orb.Point{lon(i), lat(j)}, orb.Point{lon(i), lat(j + 1)})
		}
	}
	return edges
}

func writeGraphFile(path string, edges []Edge) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteGraphML(f, edges); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteGraphML encodes edges with the id_ig, id_way and geom_wgs attributes
// the graph loader reads.
func WriteGraphML(out io.Writer, edges []Edge) error {
	w := bufio.NewWriter(out)

	fmt.Fprintln(w, xml.Header+`<graphml xmlns="http://graphml.graphdrawing.org/xmlns">`)
	fmt.Fprintf(w, "  <key id=\"d0\" for=\"edge\" attr.name=%q attr.type=\"double\"/>\n", graphml.AttrEdgeID)
	fmt.Fprintf(w, "  <key id=\"d1\" for=\"edge\" attr.name=%q attr.type=\"double\"/>\n", graphml.AttrWayID)
	fmt.Fprintf(w, "  <key id=\"d2\" for=\"edge\" attr.name=%q attr.type=\"string\"/>\n", graphml.AttrGeometry)
	fmt.Fprintln(w, `  <graph id="G" edgedefault="directed">`)
	for _, e := range edges {
		fmt.Fprintf(w, "    <edge source=\"n%d\" target=\"n%d\">\n", e.ID, e.ID+1)
		fmt.Fprintf(w, "      <data key=\"d0\">%d</data>\n", e.ID)
		if e.HasWay {
			fmt.Fprintf(w, "      <data key=\"d1\">%d</data>\n", e.WayID)
		}
		fmt.Fprintf(w, "      <data key=\"d2\">%s</data>\n", wkt.MarshalString(e.Line))
		fmt.Fprintln(w, "    </edge>")
	}
	fmt.Fprintln(w, "  </graph>")
	fmt.Fprintln(w, "</graphml>")

	return w.Flush()
}

// AQISurface covers the bounding box with a margin. Values rise from
// SurfaceMin in the north west to SurfaceMax in the south east with a little
// noise, and a block near the centre holds NoDataValue.
func AQISurface(cell float64, rng *rand.Rand) *raster.Raster {
	const margin = 0.005
	west, north := MinLon-margin, MaxLat+margin
	width := int(math.Ceil((MaxLon - MinLon + 2*margin) / cell))
	height := int(math.Ceil((MaxLat - MinLat + 2*margin) / cell))

	r := raster.New(width, height, raster.GeoTransform{west, cell, 0, north, 0, -cell}, raster.EPSGWGS84)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			t := (float64(col)/float64(width) + float64(row)/float64(height)) / 2
			v := SurfaceMin + (SurfaceMax-SurfaceMin)*t + 0.1*(rng.Float64()-0.5)
			r.Set(col, row, math.Round(v*100)/100)
		}
	}

	for row := height / 3; row < height/2; row++ {
		for col := width / 3; col < width/2; col++ {
			r.Set(col, row, NoDataValue)
		}
	}
	return r
}
