package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/DigitalGeographyLab/hope-graph-updater/internal/config"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/domain"
)

const eventType = "aqi_update"

// messageWriter is the subset of kafkago.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Notifier publishes AQI update announcements to a Kafka topic.
type Notifier struct {
	writer     messageWriter
	logger     *slog.Logger
	maxRetries uint64
}

// NewNotifier creates a Kafka producer for the configured update topic.
func NewNotifier(cfg *config.Config, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Notifier{writer: w, logger: logger, maxRetries: 3}
}

// Notify publishes update, retrying transient broker errors with
// exponential backoff.
func (n *Notifier) Notify(ctx context.Context, update domain.AqiUpdate) error {
	msg, err := serializeToMessage(update)
	if err != nil {
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), n.maxRetries), ctx)
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		if err := n.writer.WriteMessages(ctx, msg); err != nil {
			n.logger.Warn("kafka publish failed", "error", err, "attempt", attempt, "hour_key", update.HourKey)
			return err
		}
		return nil
	}, b)
	if err != nil {
		return fmt.Errorf("publish aqi update %s: %w", update.HourKey, err)
	}
	return nil
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// serializeToMessage marshals an AqiUpdate into a Kafka message keyed by
// its hour key.
func serializeToMessage(update domain.AqiUpdate) (kafkago.Message, error) {
	data, err := json.Marshal(update)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize aqi update: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(update.HourKey),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "produced_at", Value: []byte(update.ProducedAt.Format(time.RFC3339))},
		},
	}, nil
}
