package pipeline

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/DigitalGeographyLab/hope-graph-updater/internal/domain"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/observability"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/raster"
)

const (
	coordDigits = 6
	aqiDigits   = 2
)

// Notifier announces finished updates to downstream consumers.
type Notifier interface {
	Notify(ctx context.Context, update domain.AqiUpdate) error
	Close() error
}

// UpdaterConfig holds sampling pipeline settings.
type UpdaterConfig struct {
	CacheDir   string
	UpdatesDir string
}

// Updater samples AQI rasters onto graph edges and exports the update table
// and class map.
type Updater struct {
	cfg      UpdaterConfig
	graph    *domain.Graph
	points   []domain.SamplePoint // one per sampling key
	edgeKeys map[int64]string
	notifier Notifier
	clock    domain.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics

	state *Freshness
}

// NewUpdater derives the deduplicated sampling points of g. The updates
// directory is created if missing. notifier may be nil.
func NewUpdater(cfg UpdaterConfig, g *domain.Graph, notifier Notifier, clock domain.Clock,
	logger *slog.Logger, metrics *observability.Metrics) (*Updater, error) {
	if len(g.Edges) == 0 {
		return nil, fmt.Errorf("new updater: graph has no edges")
	}
	if err := os.MkdirAll(cfg.UpdatesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create updates dir: %w", err)
	}

	all := domain.SamplePoints(*g)
	edgeKeys := make(map[int64]string, len(all))
	for _, p := range all {
		edgeKeys[p.EdgeID] = p.Key
	}
	points := domain.DedupSamplePoints(all)
	logger.Info("sampling points ready", "edges", len(g.Edges), "with_geometry", len(all), "points", len(points))

	return &Updater{
		cfg:      cfg,
		graph:    g,
		points:   points,
		edgeKeys: edgeKeys,
		notifier: notifier,
		clock:    domain.OrRealClock(clock),
		logger:   logger,
		metrics:  metrics,
		state:    newFreshness("updater", logger),
	}, nil
}

// State returns the updater's freshness state.
func (u *Updater) State() *Freshness { return u.state }

// Latest returns the filename of the last exported update table, or "".
func (u *Updater) Latest() string { return u.state.Latest() }

// NewUpdateAvailable reports whether latestRaster has not been exported yet.
// An empty raster name never has an update.
func (u *Updater) NewUpdateAvailable(latestRaster string) bool {
	csvName := domain.CSVName(latestRaster)
	if csvName == u.state.Latest() {
		u.state.setStatus("latest AQI update already done")
		return false
	}
	u.state.setStatus("new AQI update available: " + latestRaster)
	return true
}

// CreateUpdate samples rasterName from the cache directory and exports the
// update table and class map. Data quality problems are logged and never
// fail the update. Finish must be called afterwards whatever the outcome.
func (u *Updater) CreateUpdate(ctx context.Context, rasterName string) (domain.AqiUpdate, error) {
	csvName := domain.CSVName(rasterName)
	if csvName == "" {
		return domain.AqiUpdate{}, fmt.Errorf("create update: no raster")
	}
	u.state.setWIP(csvName)

	start := u.clock.Now()
	r, err := raster.ReadFile(filepath.Join(u.cfg.CacheDir, rasterName))
	if err != nil {
		return domain.AqiUpdate{}, fmt.Errorf("open raster: %w", err)
	}

	values := u.sample(r)
	u.metrics.StepDuration.WithLabelValues("sample").Observe(u.clock.Since(start).Seconds())
	u.metrics.SampledPoints.Set(float64(len(values)))
	u.logValidation(values)

	byKey := make(map[string]float64, len(u.points))
	for i, p := range u.points {
		if aqi, ok := domain.NormalizeAQI(values[i]); ok {
			byKey[p.Key] = aqi
		}
	}

	rows := u.joinEdges(byKey)
	entries := u.classMap(byKey)

	start = u.clock.Now()
	valid, err := writeCSV(filepath.Join(u.cfg.UpdatesDir, csvName), rows)
	if err != nil {
		return domain.AqiUpdate{}, fmt.Errorf("export csv: %w", err)
	}
	if err := writeMapJSON(filepath.Join(u.cfg.UpdatesDir, domain.MapFileName), entries); err != nil {
		return domain.AqiUpdate{}, fmt.Errorf("export map json: %w", err)
	}
	u.metrics.StepDuration.WithLabelValues("export").Observe(u.clock.Since(start).Seconds())

	ratio := domain.Round(100*float64(valid)/float64(len(rows)), 2)
	u.metrics.ValidEdgeRatio.Set(ratio)
	u.logger.Info("exported edge aqi csv", "csv", csvName, "edges", len(rows), "valid_edges", valid,
		"valid_percent", ratio, "map_entries", len(entries))

	u.state.setLatest(csvName)

	update := domain.AqiUpdate{
		HourKey:        domain.KeyOf(rasterName),
		CSV:            csvName,
		MapJSON:        domain.MapFileName,
		EdgeCount:      len(rows),
		ValidEdgeCount: valid,
		MapEntries:     len(entries),
		ProducedAt:     u.clock.Now().UTC(),
	}
	u.notify(ctx, update)
	return update, nil
}

// sample reads the raster at every deduplicated point, with coordinates
// rounded to 6 and values to 2 decimals.
func (u *Updater) sample(r *raster.Raster) []float64 {
	values := make([]float64, len(u.points))
	for i, p := range u.points {
		x := domain.Round(p.Point.X(), coordDigits)
		y := domain.Round(p.Point.Y(), coordDigits)
		values[i] = domain.Round(r.Sample(x, y), aqiDigits)
	}
	return values
}

func (u *Updater) logValidation(values []float64) {
	v := domain.ValidateSamples(values)
	attrs := []any{"total", v.Total, "acceptable_percent", v.AcceptableRatio()}
	for _, c := range []domain.Validity{domain.ValidAQI, domain.MissingAQI, domain.BelowFloorAQI, domain.NegativeAQI, domain.NotNumericAQI} {
		attrs = append(attrs, c.String(), v.Counts[c])
	}
	if !v.OK() {
		u.logger.Error("sampled aqi failed validation", attrs...)
		return
	}
	u.logger.Info("sampled aqi validated", attrs...)
}

// joinEdges broadcasts per-key values to every graph edge. Edges without a
// value, including those without geometry, get a null row.
func (u *Updater) joinEdges(byKey map[string]float64) []domain.EdgeAQI {
	rows := make([]domain.EdgeAQI, len(u.graph.Edges))
	for i, e := range u.graph.Edges {
		rows[i].EdgeID = e.ID
		key, ok := u.edgeKeys[e.ID]
		if !ok {
			continue
		}
		if aqi, ok := byKey[key]; ok {
			rows[i].AQI, rows[i].Valid = aqi, true
		}
	}
	return rows
}

// classMap builds one [way id, class] pair per way with a valid value,
// ordered by way id.
func (u *Updater) classMap(byKey map[string]float64) []domain.MapEntry {
	entries := make([]domain.MapEntry, 0, len(byKey))
	for _, p := range u.points {
		if !p.HasWay {
			continue
		}
		aqi, ok := byKey[p.Key]
		if !ok {
			continue
		}
		if class := domain.AQIClass(aqi); class != domain.InvalidClass {
			entries = append(entries, domain.MapEntry{WayID: p.WayID, Class: class})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].WayID < entries[j].WayID })
	return entries
}

func (u *Updater) notify(ctx context.Context, update domain.AqiUpdate) {
	if u.notifier == nil {
		return
	}
	if err := u.notifier.Notify(ctx, update); err != nil {
		u.metrics.Notifications.WithLabelValues("error").Inc()
		u.logger.Warn("aqi update notification failed", "error", err, "csv", update.CSV)
		return
	}
	u.metrics.Notifications.WithLabelValues("success").Inc()
}

// Finish clears wip and removes every update table except the latest.
func (u *Updater) Finish() CleanupReport {
	u.state.setWIP("")
	report := sweepDir(u.cfg.UpdatesDir, domain.IsCSVName, u.state.Latest())
	recordCleanup(u.metrics, "updates", report)
	if report.Denied > 0 {
		u.logger.Warn("could not remove old edge aqi csv files", "count", report.Denied, "files", report.Retained)
	}
	return report
}

// writeCSV writes the non-null rows as "edge_id,aqi" and returns how many
// rows were written.
func writeCSV(path string, rows []domain.EdgeAQI) (int, error) {
	n := 0
	err := writeAtomic(path, func(w *bufio.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"edge_id", "aqi"}); err != nil {
			return err
		}
		for _, r := range rows {
			if !r.Valid {
				continue
			}
			rec := []string{strconv.FormatInt(r.EdgeID, 10), strconv.FormatFloat(r.AQI, 'f', -1, 64)}
			if err := cw.Write(rec); err != nil {
				return err
			}
			n++
		}
		cw.Flush()
		return cw.Error()
	})
	return n, err
}

type mapDocument struct {
	Data [][2]int64 `json:"data"`
}

// writeMapJSON writes {"data":[[way_id,class],...]} without whitespace.
func writeMapJSON(path string, entries []domain.MapEntry) error {
	doc := mapDocument{Data: make([][2]int64, len(entries))}
	for i, e := range entries {
		doc.Data[i] = [2]int64{e.WayID, int64(e.Class)}
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return writeAtomic(path, func(w *bufio.Writer) error {
		_, err := w.Write(b)
		return err
	})
}

// writeAtomic writes to a temporary file next to path and renames it into
// place.
func writeAtomic(path string, fn func(w *bufio.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := fn(w); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
