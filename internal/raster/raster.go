// Package raster reads, writes and samples single-band georeferenced grids
// stored as GeoTIFF.
package raster

import (
	"errors"
	"math"
)

// EPSGWGS84 is the geographic WGS84 coordinate reference.
const EPSGWGS84 = 4326

// ErrOutOfBounds is returned by At for cells outside the grid.
var ErrOutOfBounds = errors.New("raster: cell out of bounds")

// GeoTransform maps pixel (col, row) corners to coordinates, in GDAL order:
//
//	x = T[0] + col*T[1] + row*T[2]
//	y = T[3] + col*T[4] + row*T[5]
type GeoTransform [6]float64

// Raster is a single band of float64 cells in row-major order, row 0 at the
// top (north) edge.
type Raster struct {
	Width     int
	Height    int
	Data      []float64
	Transform GeoTransform
	EPSG      int
	// NoData is the declared nodata value, if any.
	NoData    float64
	HasNoData bool
}

// New allocates a zero-filled raster.
func New(width, height int, transform GeoTransform, epsg int) *Raster {
	return &Raster{
		Width:     width,
		Height:    height,
		Data:      make([]float64, width*height),
		Transform: transform,
		EPSG:      epsg,
	}
}

// Len returns the number of cells.
func (r *Raster) Len() int { return r.Width * r.Height }

// At returns the value at (col, row).
func (r *Raster) At(col, row int) (float64, error) {
	if col < 0 || row < 0 || col >= r.Width || row >= r.Height {
		return 0, ErrOutOfBounds
	}
	return r.Data[row*r.Width+col], nil
}

// Set assigns the value at (col, row). Out-of-bounds writes are ignored.
func (r *Raster) Set(col, row int, v float64) {
	if col < 0 || row < 0 || col >= r.Width || row >= r.Height {
		return
	}
	r.Data[row*r.Width+col] = v
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	c := *r
	c.Data = append([]float64(nil), r.Data...)
	return &c
}

// Index returns the (col, row) cell containing coordinate (x, y). Rotated
// transforms are not supported and always report ok=false.
func (r *Raster) Index(x, y float64) (col, row int, ok bool) {
	t := r.Transform
	if t[2] != 0 || t[4] != 0 || t[1] == 0 || t[5] == 0 {
		return 0, 0, false
	}
	col = int(math.Floor((x - t[0]) / t[1]))
	row = int(math.Floor((y - t[3]) / t[5]))
	if col < 0 || row < 0 || col >= r.Width || row >= r.Height {
		return col, row, false
	}
	return col, row, true
}

// Sample returns the value of the cell containing (x, y). Points outside the
// grid read as the nodata value, or 0 when none is declared.
func (r *Raster) Sample(x, y float64) float64 {
	col, row, ok := r.Index(x, y)
	if !ok {
		if r.HasNoData {
			return r.NoData
		}
		return 0
	}
	return r.Data[row*r.Width+col]
}

// CountAtOrBelow counts cells with a value <= threshold.
func (r *Raster) CountAtOrBelow(threshold float64) int {
	n := 0
	for _, v := range r.Data {
		if v <= threshold {
			n++
		}
	}
	return n
}

// CountBelow counts cells with a value < threshold.
func (r *Raster) CountBelow(threshold float64) int {
	n := 0
	for _, v := range r.Data {
		if v < threshold {
			n++
		}
	}
	return n
}
