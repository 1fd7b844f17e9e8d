package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/DigitalGeographyLab/hope-graph-updater/internal/domain"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/nodata"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/observability"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/raster"
)

// ObjectStore downloads archives by object key.
type ObjectStore interface {
	Download(ctx context.Context, key, dest string) error
}

// BandDecoder reads one variable of a scientific array file as a raster.
type BandDecoder interface {
	DecodeBand(path, variable string) (*raster.Raster, error)
}

// FetcherConfig holds fetch pipeline settings.
type FetcherConfig struct {
	CacheDir      string
	Prefix        string // object key prefix, e.g. "Finland/pks"
	Variable      string // netCDF variable holding AQI
	MemberPattern string // archive member name pattern
}

// Fetcher produces one repaired AQI raster per hour in the cache directory.
type Fetcher struct {
	cfg     FetcherConfig
	store   ObjectStore
	decoder BandDecoder
	filler  *nodata.Interpolator
	clock   domain.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	state *Freshness
	temps []string
}

// NewFetcher creates a Fetcher. The cache directory is created if missing.
func NewFetcher(cfg FetcherConfig, store ObjectStore, decoder BandDecoder, filler *nodata.Interpolator,
	clock domain.Clock, logger *slog.Logger, metrics *observability.Metrics) (*Fetcher, error) {
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Fetcher{
		cfg:     cfg,
		store:   store,
		decoder: decoder,
		filler:  filler,
		clock:   domain.OrRealClock(clock),
		logger:  logger,
		metrics: metrics,
		state:   newFreshness("fetcher", logger),
	}, nil
}

// State returns the fetcher's freshness state.
func (f *Fetcher) State() *Freshness { return f.state }

// Latest returns the filename of the last repaired raster, or "".
func (f *Fetcher) Latest() string { return f.state.Latest() }

// NewAQIAvailable reports whether the latest raster is not from the current
// hour.
func (f *Fetcher) NewAQIAvailable() bool {
	key := domain.CurrentKey(f.clock)
	if !domain.IsStale(f.state.Latest(), key) {
		f.state.setStatus("latest AQI data already fetched")
		return false
	}
	f.state.setStatus("new AQI data available: " + domain.RasterName(key))
	return true
}

// FetchCurrent downloads, extracts, converts and repairs the current hour's
// data. The latest raster only changes when every step succeeds. Finish must
// be called afterwards whatever the outcome.
func (f *Fetcher) FetchCurrent(ctx context.Context) error {
	key := domain.CurrentKey(f.clock)
	rasterName := domain.RasterName(key)
	f.state.setWIP(rasterName)

	objectKey := domain.ArchiveKey(f.cfg.Prefix, key)
	zipPath := filepath.Join(f.cfg.CacheDir, domain.ArchiveName(key))
	ncPath := filepath.Join(f.cfg.CacheDir, domain.ArrayName(key))
	tifPath := filepath.Join(f.cfg.CacheDir, rasterName)
	f.logger.Info("fetching enfuser data", "hour_key", key, "key", objectKey)

	f.temps = append(f.temps, zipPath)
	if err := f.step("download", func() error {
		return f.store.Download(ctx, objectKey, zipPath)
	}); err != nil {
		return err
	}

	f.temps = append(f.temps, ncPath)
	if err := f.step("extract", func() error {
		member, err := extractMember(zipPath, f.cfg.MemberPattern, ncPath)
		if err == nil {
			f.logger.Info("extracted archive member", "member", member, "hour_key", key)
		}
		return err
	}); err != nil {
		return err
	}

	if err := f.step("convert", func() error {
		band, err := f.decoder.DecodeBand(ncPath, f.cfg.Variable)
		if err != nil {
			return err
		}
		band.EPSG = raster.EPSGWGS84
		return raster.WriteFile(tifPath, band, nil)
	}); err != nil {
		return err
	}

	var res nodata.Result
	if err := f.step("fill", func() error {
		var err error
		res, err = f.filler.FillFile(tifPath)
		return err
	}); err != nil {
		return err
	}
	f.metrics.NodataCells.Set(float64(res.Missing))
	f.metrics.FilledBelowFloor.Set(float64(res.BelowFloor))

	f.state.setLatest(rasterName)
	if t, err := time.Parse(domain.HourKeyLayout, key); err == nil {
		f.metrics.LatestRasterTimestamp.Set(float64(t.Unix()))
	}
	f.logger.Info("aqi raster ready", "raster", rasterName, "hour_key", key)
	return nil
}

// step runs fn and records its duration.
func (f *Fetcher) step(name string, fn func() error) error {
	start := f.clock.Now()
	err := fn()
	f.metrics.StepDuration.WithLabelValues(name).Observe(f.clock.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Finish removes the attempt's transient files and every raster other than
// the latest, then clears wip. Files that could not be removed stay queued
// for the next call.
func (f *Fetcher) Finish() CleanupReport {
	report := removeAll(f.temps)
	f.temps = append([]string(nil), report.Retained...)
	report.Merge(sweepDir(f.cfg.CacheDir, domain.IsRasterName, f.state.Latest()))

	recordCleanup(f.metrics, "cache", report)
	if report.Denied > 0 {
		f.logger.Warn("could not remove cache files", "count", report.Denied, "files", report.Retained)
	}
	f.state.setWIP("")
	return report
}

func recordCleanup(m *observability.Metrics, dir string, r CleanupReport) {
	m.Cleanup.WithLabelValues(dir, Removed.String()).Add(float64(r.Removed))
	m.Cleanup.WithLabelValues(dir, NotFound.String()).Add(float64(r.NotFound))
	m.Cleanup.WithLabelValues(dir, Denied.String()).Add(float64(r.Denied))
}
