//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amqpadapter "github.com/DigitalGeographyLab/hope-graph-updater/internal/adapter/amqp"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/adapter/kafka"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/config"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/domain"
)

func sampleUpdate() domain.AqiUpdate {
	return domain.AqiUpdate{
		HourKey:        "2020-10-10T08",
		CSV:            "aqi_2020-10-10T08.csv",
		MapJSON:        domain.MapFileName,
		EdgeCount:      120,
		ValidEdgeCount: 118,
		MapEntries:     40,
		ProducedAt:     time.Date(2020, 10, 10, 8, 3, 0, 0, time.UTC),
	}
}

func TestKafkaNotifierRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	const topic = "aqi-updates"
	createTopic(t, broker, topic)

	n := kafka.NewNotifier(&config.Config{KafkaBrokers: []string{broker}, KafkaTopic: topic}, discardLogger())
	t.Cleanup(func() { _ = n.Close() })

	want := sampleUpdate()
	require.NoError(t, n.Notify(ctx, want))

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   []string{broker},
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	t.Cleanup(func() { _ = reader.Close() })

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()
	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err, "read update topic")

	assert.Equal(t, want.HourKey, string(msg.Key))
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "aqi_update", headers["event_type"])
	assert.Equal(t, "2020-10-10T08:03:00Z", headers["produced_at"])

	var got domain.AqiUpdate
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, want, got)
}

func TestAMQPNotifierRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	url := startRabbitMQ(ctx, t)
	const queue = "aqi-updates"

	n := amqpadapter.NewNotifier(&config.Config{AMQPURL: url, AMQPQueue: queue}, discardLogger())
	want := sampleUpdate()
	require.NoError(t, n.Notify(ctx, want))

	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	ch, err := conn.Channel()
	require.NoError(t, err)

	d, ok, err := ch.Get(queue, true)
	require.NoError(t, err)
	require.True(t, ok, "queue should hold the update")

	assert.Equal(t, want.HourKey, d.MessageId)
	assert.Equal(t, "application/json", d.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), d.DeliveryMode)

	var got domain.AqiUpdate
	require.NoError(t, json.Unmarshal(d.Body, &got))
	assert.Equal(t, want, got)
}
