package s3

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DigitalGeographyLab/hope-graph-updater/internal/config"
)

const testBucket = "enfusernow2"

// fakeS3 serves a single object with path-style addressing.
func fakeS3(t *testing.T, key string, body []byte) *httptest.Server {
	t.Helper()
	modified := time.Date(2020, 10, 10, 8, 5, 0, 0, time.UTC).Format(http.TimeFormat)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/"+testBucket+"/"+key {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method != http.MethodHead {
				io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`) //nolint:errcheck
			}
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.Header().Set("Last-Modified", modified)
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			w.Write(body) //nolint:errcheck
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestStore(t *testing.T, srv *httptest.Server) *Store {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	store, err := NewStore(&config.Config{
		S3Endpoint: u.Host,
		S3Bucket:   testBucket,
		S3Region:   "eu-central-1",
		S3SSL:      false,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return store
}

func TestDownload_WritesObject(t *testing.T) {
	key := "Finland/pks/allPollutants_2020-10-10T08.zip"
	payload := []byte("PK\x03\x04 not really a zip")
	store := newTestStore(t, fakeS3(t, key, payload))

	dest := filepath.Join(t.TempDir(), "allPollutants_2020-10-10T08.zip")
	require.NoError(t, store.Download(context.Background(), key, dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDownload_MissingKey(t *testing.T) {
	store := newTestStore(t, fakeS3(t, "Finland/pks/other.zip", []byte("x")))

	dest := filepath.Join(t.TempDir(), "missing.zip")
	err := store.Download(context.Background(), "Finland/pks/allPollutants_2020-10-10T09.zip", dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allPollutants_2020-10-10T09.zip")

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}
