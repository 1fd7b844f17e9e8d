package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DigitalGeographyLab/hope-graph-updater/internal/domain"
)

type fakeWriter struct {
	failures int
	calls    int
	sent     []kafkago.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("leader not available")
	}
	f.sent = append(f.sent, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func testUpdate() domain.AqiUpdate {
	return domain.AqiUpdate{
		HourKey:        "2020-10-10T08",
		CSV:            "aqi_2020-10-10T08.csv",
		MapJSON:        "aqi_map.json",
		EdgeCount:      3,
		ValidEdgeCount: 2,
		MapEntries:     2,
		ProducedAt:     time.Date(2020, 10, 10, 8, 3, 0, 0, time.UTC),
	}
}

func testNotifier(w *fakeWriter, retries uint64) *Notifier {
	return &Notifier{writer: w, logger: slog.New(slog.NewTextHandler(io.Discard, nil)), maxRetries: retries}
}

func TestSerializeToMessage(t *testing.T) {
	update := testUpdate()

	msg, err := serializeToMessage(update)
	require.NoError(t, err)

	assert.Equal(t, []byte("2020-10-10T08"), msg.Key)
	assert.Contains(t, string(msg.Value), `"csv":"aqi_2020-10-10T08.csv"`)
	assert.Contains(t, string(msg.Value), `"valid_edge_count":2`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, []byte("aqi_update"), msg.Headers[0].Value)
	assert.Equal(t, "produced_at", msg.Headers[1].Key)
	assert.Equal(t, []byte("2020-10-10T08:03:00Z"), msg.Headers[1].Value)
}

func TestNotify_RetriesTransientErrors(t *testing.T) {
	w := &fakeWriter{failures: 1}
	require.NoError(t, testNotifier(w, 3).Notify(context.Background(), testUpdate()))
	assert.Equal(t, 2, w.calls)
	assert.Len(t, w.sent, 1)
}

func TestNotify_GivesUp(t *testing.T) {
	w := &fakeWriter{failures: 100}
	err := testNotifier(w, 1).Notify(context.Background(), testUpdate())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2020-10-10T08")
	assert.Equal(t, 2, w.calls)
}
