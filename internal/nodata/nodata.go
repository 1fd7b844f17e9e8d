// Package nodata repairs missing cells in AQI rasters.
//
// The nodata sentinel drifts slightly above its nominal value after format
// conversion, so the mask threshold is found by probing increasing offsets
// until the masked region reaches a plausible size. Masked cells are then
// filled by inverse distance weighting of the nearest valid cells found along
// eight search directions.
package nodata

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/DigitalGeographyLab/hope-graph-updater/internal/domain"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/raster"
)

// Offsets are added to the nominal nodata value, in order, when probing for
// the mask threshold.
var Offsets = []float64{0, 0.01, 0.02, 0.04, 0.06, 0.08, 0.10, 0.12}

// Config holds interpolator settings.
type Config struct {
	// NoData is the nominal nodata sentinel.
	NoData float64
	// MinCells is the masked cell count the threshold probe must exceed.
	MinCells int
	// MinFraction, when positive, replaces MinCells with a share of all cells.
	MinFraction float64
	// MaxSearchDistance limits the fill search, in pixels.
	MaxSearchDistance int
	// ValidFloor is the smallest value a filled cell should hold.
	ValidFloor float64
}

// DefaultConfig returns the settings used for the Enfuser AQI grid.
func DefaultConfig() Config {
	return Config{
		NoData:            1.0,
		MinCells:          180000,
		MaxSearchDistance: 100,
		ValidFloor:        domain.AQIFloor,
	}
}

// Result summarizes one interpolation.
type Result struct {
	Threshold    float64
	Missing      int
	FloorReached bool
	Filled       int
	Unfilled     int
	BelowFloor   int
}

// Interpolator fills nodata cells of a raster band.
type Interpolator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Interpolator.
func New(cfg Config, logger *slog.Logger) *Interpolator {
	if cfg.MaxSearchDistance <= 0 {
		cfg.MaxSearchDistance = DefaultConfig().MaxSearchDistance
	}
	return &Interpolator{cfg: cfg, logger: logger}
}

// floor is the masked cell count a threshold must exceed to be accepted.
func (i *Interpolator) floor(cells int) int {
	if i.cfg.MinFraction > 0 {
		return int(math.Ceil(i.cfg.MinFraction * float64(cells)))
	}
	return i.cfg.MinCells
}

// Threshold probes nodata+offset for each offset and returns the first
// threshold whose missing count exceeds the floor. When none does, the last
// probed threshold is returned with ok=false.
func (i *Interpolator) Threshold(r *raster.Raster) (threshold float64, count int, ok bool) {
	floor := i.floor(r.Len())
	for _, off := range Offsets {
		threshold = i.cfg.NoData + off
		count = countMissing(r.Data, threshold)
		if count > floor {
			return threshold, count, true
		}
	}
	return threshold, count, false
}

// Fill repairs r in place and reports what it did. Data quality problems are
// logged and never fail the fill.
func (i *Interpolator) Fill(r *raster.Raster) Result {
	threshold, count, ok := i.Threshold(r)
	res := Result{Threshold: threshold, Missing: count, FloorReached: ok}
	if !ok {
		i.logger.Error("nodata threshold floor not reached",
			"threshold", threshold, "missing", count, "floor", i.floor(r.Len()))
	}

	mask := make([]bool, len(r.Data))
	for k, v := range r.Data {
		mask[k] = missing(v, threshold)
	}
	res.Filled, res.Unfilled = fillMasked(r, mask, i.cfg.MaxSearchDistance)

	res.BelowFloor = r.CountBelow(i.cfg.ValidFloor)
	if res.BelowFloor > 0 {
		i.logger.Warn("filled raster has values below valid floor",
			"count", res.BelowFloor, "floor", i.cfg.ValidFloor)
	}
	if res.Unfilled > 0 {
		i.logger.Warn("nodata cells left unfilled", "count", res.Unfilled, "max_distance", i.cfg.MaxSearchDistance)
	}
	return res
}

// FillFile fills the raster at path and writes it back in place, keeping its
// transform and coordinate reference.
func (i *Interpolator) FillFile(path string) (Result, error) {
	r, err := raster.ReadFile(path)
	if err != nil {
		return Result{}, err
	}
	res := i.Fill(r)
	if err := raster.WriteFile(path, r, nil); err != nil {
		return res, fmt.Errorf("write filled raster: %w", err)
	}
	i.logger.Info("nodata filled", "path", path, "threshold", res.Threshold,
		"missing", res.Missing, "filled", res.Filled)
	return res, nil
}

func missing(v, threshold float64) bool {
	return math.IsNaN(v) || v <= threshold
}

func countMissing(data []float64, threshold float64) int {
	n := 0
	for _, v := range data {
		if missing(v, threshold) {
			n++
		}
	}
	return n
}

var directions = [8][2]int{
	{1, 0}, {-1, 0}, {0, 1}, {0, -1},
	{1, 1}, {1, -1}, {-1, 1}, {-1, -1},
}

// fillMasked replaces each masked cell with the inverse squared distance
// weighted mean of the nearest unmasked cell in every direction within
// maxDist pixels. Only original values take part. Cells with no neighbor in
// range keep their value.
func fillMasked(r *raster.Raster, mask []bool, maxDist int) (filled, unfilled int) {
	src := append([]float64(nil), r.Data...)
	w, h := r.Width, r.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			k := y*w + x
			if !mask[k] {
				continue
			}
			var sum, weights float64
			for _, d := range directions {
				for step := 1; step <= maxDist; step++ {
					nx, ny := x+d[0]*step, y+d[1]*step
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						break
					}
					nk := ny*w + nx
					if mask[nk] {
						continue
					}
					dx, dy := float64(nx-x), float64(ny-y)
					wt := 1 / (dx*dx + dy*dy)
					sum += wt * src[nk]
					weights += wt
					break
				}
			}
			if weights == 0 {
				unfilled++
				continue
			}
			r.Data[k] = sum / weights
			filled++
		}
	}
	return filled, unfilled
}
