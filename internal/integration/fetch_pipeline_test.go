//go:build integration

package integration_test

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/jonboulle/clockwork"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DigitalGeographyLab/hope-graph-updater/internal/adapter/netcdf"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/adapter/s3"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/adapter/sqlite"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/config"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/domain"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/nodata"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/observability"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/pipeline"
)

const (
	testBucket = "enfusernow2"
	testPrefix = "Finland/pks"
	testKey    = "2020-10-10T08"
)

// writeArchive builds the hourly Enfuser zip: a 4x4 AQI grid over
// lon 24.90..24.94 and lat 60.16..60.20 with one fill-value cell.
func writeArchive(t *testing.T, dir string) string {
	t.Helper()
	ncPath := filepath.Join(dir, "allPollutants_"+testKey+".nc")
	cw, err := cdf.OpenWriter(ncPath)
	require.NoError(t, err)
	require.NoError(t, cw.AddVar("lat", api.Variable{
		Values:     []float64{60.165, 60.175, 60.185, 60.195},
		Dimensions: []string{"lat"},
	}))
	require.NoError(t, cw.AddVar("lon", api.Variable{
		Values:     []float64{24.905, 24.915, 24.925, 24.935},
		Dimensions: []string{"lon"},
	}))
	require.NoError(t, cw.AddVar("AQI", api.Variable{
		Values: [][][]float32{{
			{2.0, 2.0, 2.0, 2.0},
			{2.0, 2.0, 1.0, 2.0},
			{2.0, 2.0, 2.0, 2.0},
			{3.3, 2.0, 2.0, 2.0},
		}},
		Dimensions: []string{"time", "lat", "lon"},
	}))
	require.NoError(t, cw.Close())

	zipPath := filepath.Join(dir, "allPollutants_"+testKey+".zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("allPollutants_" + testKey + ".nc")
	require.NoError(t, err)
	src, err := os.Open(ncPath)
	require.NoError(t, err)
	_, err = io.Copy(w, src)
	require.NoError(t, err)
	require.NoError(t, src.Close())
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return zipPath
}

func TestFetchAndUpdateFromObjectStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	endpoint := startMinio(ctx, t)
	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewStaticV4(minioUser, minioPassword, ""),
	})
	require.NoError(t, err)
	require.NoError(t, client.MakeBucket(ctx, testBucket, minio.MakeBucketOptions{}))

	zipPath := writeArchive(t, t.TempDir())
	_, err = client.FPutObject(ctx, testBucket, domain.ArchiveKey(testPrefix, testKey), zipPath,
		minio.PutObjectOptions{ContentType: "application/zip"})
	require.NoError(t, err)

	root := t.TempDir()
	cfg := &config.Config{
		CacheDir:          filepath.Join(root, "cache"),
		UpdatesDir:        filepath.Join(root, "updates"),
		S3Bucket:          testBucket,
		S3Endpoint:        endpoint,
		S3Region:          "us-east-1",
		S3Prefix:          testPrefix,
		S3AccessKeyID:     minioUser,
		S3SecretAccessKey: minioPassword,
	}
	logger := discardLogger()
	metrics := observability.NewMetricsForTesting()
	clock := clockwork.NewFakeClockAt(time.Date(2020, 10, 10, 8, 20, 0, 0, time.UTC))

	store, err := s3.NewStore(cfg, logger)
	require.NoError(t, err)

	fillCfg := nodata.DefaultConfig()
	fillCfg.MinCells = 0
	fetcher, err := pipeline.NewFetcher(pipeline.FetcherConfig{
		CacheDir:      cfg.CacheDir,
		Prefix:        cfg.S3Prefix,
		Variable:      "AQI",
		MemberPattern: "allPollutants",
	}, store, netcdf.NewDecoder(logger), nodata.New(fillCfg, logger), clock, logger, metrics)
	require.NoError(t, err)

	g := &domain.Graph{Edges: []domain.Edge{
		{ID: 1, WayID: 10, HasWay: true, Geometry: orb.LineString{{24.901, 60.195}, {24.909, 60.195}}},
		{ID: 2, WayID: 20, HasWay: true, Geometry: orb.LineString{{24.921, 60.175}, {24.929, 60.175}}},
	}}
	updater, err := pipeline.NewUpdater(pipeline.UpdaterConfig{
		CacheDir:   cfg.CacheDir,
		UpdatesDir: cfg.UpdatesDir,
	}, g, nil, clock, logger, metrics)
	require.NoError(t, err)

	runs, err := sqlite.Open(filepath.Join(root, "runs.db"), clock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = runs.Close() })

	p := pipeline.New(fetcher, updater, runs, clock, logger, metrics, pipeline.Options{})
	res := p.Tick(ctx)
	require.NoError(t, res.FetchErr)
	require.NoError(t, res.UpdateErr)

	entries, err := os.ReadDir(cfg.CacheDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "aqi_"+testKey+".tif", entries[0].Name())

	csvBytes, err := os.ReadFile(filepath.Join(cfg.UpdatesDir, "aqi_"+testKey+".csv"))
	require.NoError(t, err)
	assert.Equal(t, "edge_id,aqi\n1,3.3\n2,2\n", string(csvBytes))

	mapBytes, err := os.ReadFile(filepath.Join(cfg.UpdatesDir, domain.MapFileName))
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[[10,6],[20,4]]}`, string(mapBytes))

	recent, err := runs.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	for _, r := range recent {
		assert.True(t, r.Success, "run %s", r.Pipeline)
		assert.Equal(t, testKey, r.HourKey)
	}
}
