package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "aqi_cache", cfg.CacheDir)
	assert.Equal(t, "aqi_updates", cfg.UpdatesDir)
	assert.Equal(t, "graph/kumpula.graphml", cfg.GraphFile)
	assert.Equal(t, "enfusernow2", cfg.S3Bucket)
	assert.Equal(t, "eu-central-1", cfg.S3Region)
	assert.Equal(t, "s3.eu-central-1.amazonaws.com", cfg.S3Endpoint)
	assert.Equal(t, "Finland/pks", cfg.S3Prefix)
	assert.True(t, cfg.S3SSL)
	assert.Equal(t, "AQI", cfg.AQIVariable)
	assert.Equal(t, "allPollutants", cfg.ArchiveMemberPattern)
	assert.Equal(t, 1.0, cfg.NoDataValue)
	assert.Equal(t, 180000, cfg.NoDataMinCells)
	assert.Zero(t, cfg.NoDataMinFraction)
	assert.Equal(t, 100, cfg.FillMaxSearchDistance)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.RetryPause)
	assert.Equal(t, NotifyNone, cfg.NotifyBackend)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "aqi-updates", cfg.KafkaTopic)
	assert.Equal(t, "aqi-updates", cfg.AMQPQueue)
	assert.Empty(t, cfg.RunsDB)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("AQI_CACHE_DIR", "/data/cache")
	t.Setenv("ENFUSER_S3_ENDPOINT", "minio:9000")
	t.Setenv("ENFUSER_S3_SSL", "false")
	t.Setenv("ENFUSER_S3_ACCESS_KEY_ID", "key")
	t.Setenv("ENFUSER_S3_SECRET_ACCESS_KEY", "secret")
	t.Setenv("NODATA_MIN_FRACTION", "0.25")
	t.Setenv("POLL_INTERVAL", "1m")
	t.Setenv("RETRY_PAUSE", "5s")
	t.Setenv("NOTIFY_BACKEND", "kafka")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("RUNS_DB", "/data/runs.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "/data/cache", cfg.CacheDir)
	assert.Equal(t, "minio:9000", cfg.S3Endpoint)
	assert.False(t, cfg.S3SSL)
	assert.Equal(t, "key", cfg.S3AccessKeyID)
	assert.Equal(t, "secret", cfg.S3SecretAccessKey)
	assert.Equal(t, 0.25, cfg.NoDataMinFraction)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.RetryPause)
	assert.Equal(t, NotifyKafka, cfg.NotifyBackend)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "/data/runs.db", cfg.RunsDB)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"SHUTDOWN_TIMEOUT", "not-a-duration"},
		{"POLL_INTERVAL", "soon"},
		{"RETRY_PAUSE", "-1s"},
		{"ENFUSER_S3_SSL", "maybe"},
		{"NODATA_VALUE", "one"},
		{"NODATA_MIN_CELLS", "-5"},
		{"NODATA_MIN_FRACTION", "1.5"},
		{"FILL_MAX_SEARCH_DISTANCE", "0"},
		{"NOTIFY_BACKEND", "carrier-pigeon"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_KafkaBackendRequiresBrokers(t *testing.T) {
	t.Setenv("NOTIFY_BACKEND", "kafka")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}

func TestLoad_AMQPBackendRequiresURL(t *testing.T) {
	t.Setenv("NOTIFY_BACKEND", "amqp")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AMQP_URL")
}

func TestLoad_PartialCredentials(t *testing.T) {
	t.Setenv("ENFUSER_S3_ACCESS_KEY_ID", "key")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENFUSER_S3_SECRET_ACCESS_KEY")
}

func TestLoadSecrets_ExportsFilesAndEnvFile(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AQI_TEST_SECRET"), []byte("s3cret\n"), 0o600))
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("AQI_TEST_FROM_ENV=hello\nAQI_TEST_SECRET=overridden\n"), 0o600))

	// Registered so t restores the environment afterwards.
	t.Setenv("AQI_TEST_SECRET", "")
	t.Setenv("AQI_TEST_FROM_ENV", "")
	require.NoError(t, os.Unsetenv("AQI_TEST_FROM_ENV"))

	require.NoError(t, LoadSecrets(dir, envFile, logger))

	assert.Equal(t, "overridden", os.Getenv("AQI_TEST_SECRET"))
	assert.Equal(t, "hello", os.Getenv("AQI_TEST_FROM_ENV"))
}

func TestLoadSecrets_SecretKeptWithoutEnvEntry(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AQI_TEST_SECRET"), []byte("s3cret\n"), 0o600))
	t.Setenv("AQI_TEST_SECRET", "")

	require.NoError(t, LoadSecrets(dir, "", logger))
	assert.Equal(t, "s3cret", os.Getenv("AQI_TEST_SECRET"))
}

func TestLoadSecrets_EnvFileOverridesExistingEnvironment(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("LOG_LEVEL=debug\n"), 0o600))
	t.Setenv("LOG_LEVEL", "error")

	require.NoError(t, LoadSecrets(filepath.Join(t.TempDir(), "none"), envFile, logger))
	assert.Equal(t, "debug", os.Getenv("LOG_LEVEL"))
}

func TestLoadSecrets_MissingSourcesAreNotErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	missing := filepath.Join(t.TempDir(), "nope")
	assert.NoError(t, LoadSecrets(missing, filepath.Join(missing, ".env"), logger))
}
