// Package netcdf converts a variable of an Enfuser netCDF file into a
// north-up WGS84 raster band.
package netcdf

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/DigitalGeographyLab/hope-graph-updater/internal/raster"
)

// ErrBandNotFound is returned when the file lacks the requested variable or
// its coordinate variables.
var ErrBandNotFound = errors.New("netcdf: band not found")

// Decoder reads bands from netCDF files.
type Decoder struct {
	logger *slog.Logger
}

// NewDecoder creates a Decoder.
func NewDecoder(logger *slog.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// DecodeBand reads variable from the file at path. Leading dimensions such as
// time are reduced to their first index. _FillValue and missing_value cells
// become NaN and scale_factor/add_offset are applied. The last two dimensions
// must have 1-D coordinate variables holding longitude and latitude.
func (d *Decoder) DecodeBand(path, variable string) (*raster.Raster, error) {
	g, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open netcdf: %w", err)
	}
	defer g.Close()

	v, err := g.GetVariable(variable)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBandNotFound, variable, err)
	}
	if len(v.Dimensions) < 2 {
		return nil, fmt.Errorf("%w: %s has %d dimensions", ErrBandNotFound, variable, len(v.Dimensions))
	}
	yDim := v.Dimensions[len(v.Dimensions)-2]
	xDim := v.Dimensions[len(v.Dimensions)-1]

	grid, err := firstSlice(v.Values)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", variable, err)
	}
	xs, err := coordinate(g, xDim)
	if err != nil {
		return nil, err
	}
	ys, err := coordinate(g, yDim)
	if err != nil {
		return nil, err
	}
	if len(grid) != len(ys) || len(grid[0]) != len(xs) {
		return nil, fmt.Errorf("decode %s: grid %dx%d does not match coordinates %dx%d",
			variable, len(grid[0]), len(grid), len(xs), len(ys))
	}

	r, err := toRaster(grid, xs, ys, newUnpacker(v.Attributes))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", variable, err)
	}
	d.logger.Debug("decoded netcdf band", "variable", variable, "width", r.Width, "height", r.Height)
	return r, nil
}

func coordinate(g api.Group, name string) ([]float64, error) {
	v, err := g.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("%w: coordinate %s: %v", ErrBandNotFound, name, err)
	}
	vals, ok := floats(v.Values)
	if !ok || len(vals) < 2 {
		return nil, fmt.Errorf("%w: coordinate %s is not a 1-D axis", ErrBandNotFound, name)
	}
	return vals, nil
}

// toRaster lays the grid out north-up with a transform derived from cell
// centre coordinates.
func toRaster(grid [][]float64, xs, ys []float64, unpack unpacker) (*raster.Raster, error) {
	w, h := len(xs), len(ys)
	resX := (xs[w-1] - xs[0]) / float64(w-1)
	resY := (ys[h-1] - ys[0]) / float64(h-1)
	if resX == 0 || resY == 0 {
		return nil, errors.New("degenerate coordinate axis")
	}
	flipX := resX < 0
	flipY := resY > 0 // latitude ascending means row 0 is the south edge
	resX, resY = math.Abs(resX), math.Abs(resY)

	west := math.Min(xs[0], xs[w-1]) - resX/2
	north := math.Max(ys[0], ys[h-1]) + resY/2
	r := raster.New(w, h, raster.GeoTransform{west, resX, 0, north, 0, -resY}, raster.EPSGWGS84)

	for row := 0; row < h; row++ {
		src := row
		if flipY {
			src = h - 1 - row
		}
		for col := 0; col < w; col++ {
			sc := col
			if flipX {
				sc = w - 1 - col
			}
			r.Data[row*w+col] = unpack.apply(grid[src][sc])
		}
	}
	return r, nil
}

type unpacker struct {
	fill, missing       float64
	hasFill, hasMissing bool
	scale, offset       float64
}

func newUnpacker(attrs api.AttributeMap) unpacker {
	u := unpacker{scale: 1}
	if attrs == nil {
		return u
	}
	if v, ok := attrs.Get("_FillValue"); ok {
		u.fill, u.hasFill = scalar(v)
	}
	if v, ok := attrs.Get("missing_value"); ok {
		u.missing, u.hasMissing = scalar(v)
	}
	if v, ok := attrs.Get("scale_factor"); ok {
		if s, ok := scalar(v); ok {
			u.scale = s
		}
	}
	if v, ok := attrs.Get("add_offset"); ok {
		if o, ok := scalar(v); ok {
			u.offset = o
		}
	}
	return u
}

func (u unpacker) apply(v float64) float64 {
	if (u.hasFill && v == u.fill) || (u.hasMissing && v == u.missing) {
		return math.NaN()
	}
	return v*u.scale + u.offset
}

// firstSlice reduces a nested numeric slice of rank >= 2 to its first 2-D
// slice.
func firstSlice(values any) ([][]float64, error) {
	rv := reflect.ValueOf(values)
	for rv.Kind() == reflect.Slice && rv.Len() > 0 && rv.Index(0).Kind() == reflect.Slice &&
		rv.Index(0).Len() > 0 && rv.Index(0).Index(0).Kind() == reflect.Slice {
		rv = rv.Index(0)
	}
	if rv.Kind() != reflect.Slice || rv.Len() == 0 {
		return nil, errors.New("variable is not a 2-D grid")
	}
	grid := make([][]float64, rv.Len())
	for i := range grid {
		row, ok := floats(rv.Index(i).Interface())
		if !ok {
			return nil, errors.New("variable is not numeric")
		}
		if i > 0 && len(row) != len(grid[0]) {
			return nil, errors.New("ragged grid")
		}
		grid[i] = row
	}
	if len(grid[0]) == 0 {
		return nil, errors.New("empty grid row")
	}
	return grid, nil
}

// floats converts a 1-D numeric slice to float64.
func floats(values any) ([]float64, bool) {
	rv := reflect.ValueOf(values)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]float64, rv.Len())
	for i := range out {
		f, ok := number(rv.Index(i))
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

// scalar reads a numeric attribute stored either as a value or a one element
// slice.
func scalar(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		if rv.Len() == 0 {
			return 0, false
		}
		rv = rv.Index(0)
	}
	return number(rv)
}

func number(rv reflect.Value) (float64, bool) {
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	default:
		return 0, false
	}
}
