// Command genmock writes a synthetic routing graph and a matching AQI raster
// that can stand in for the Kumpula fixtures in local runs. The graph is a
// street grid over Kumpula, Helsinki, and the raster is a smooth AQI surface
// with a rectangular nodata patch, the shape of a freshly converted Enfuser
// band.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -graph-out testdata/kumpula.graphml \
//	  -raster-out testdata/cache/aqi_2020-10-10T08.tif
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/DigitalGeographyLab/hope-graph-updater/internal/mockdata"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	def := mockdata.DefaultOptions()
	graphOut := flag.String("graph-out", "", "output path for the GraphML graph")
	rasterOut := flag.String("raster-out", "", "output path for the AQI GeoTIFF")
	gridSize := flag.Int("grid", def.GridSize, "street grid size (nodes per side)")
	cellDeg := flag.Float64("cell", def.CellDeg, "raster cell size in degrees")
	seed := flag.Uint64("seed", def.Seed, "random seed")
	flag.Parse()

	if *graphOut == "" || *rasterOut == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -graph-out, -raster-out")
	}

	sum, err := mockdata.Write(*graphOut, *rasterOut, mockdata.Options{
		GridSize: *gridSize,
		CellDeg:  *cellDeg,
		Seed:     *seed,
	})
	if err != nil {
		return err
	}
	log.Printf("wrote graph: %s (%d edges)", *graphOut, sum.Edges)
	log.Printf("wrote raster: %s (%dx%d)", *rasterOut, sum.Width, sum.Height)
	return nil
}
