// Package amqp publishes AQI update announcements to a RabbitMQ queue.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/DigitalGeographyLab/hope-graph-updater/internal/config"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/domain"
)

type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func(url string) (channel, io.Closer, error)

// Notifier publishes to a durable queue, opening a connection per update.
type Notifier struct {
	url        string
	queue      string
	dial       dialFunc
	logger     *slog.Logger
	maxRetries uint64
}

// NewNotifier creates a notifier for AMQP_URL and AMQP_QUEUE.
func NewNotifier(cfg *config.Config, logger *slog.Logger) *Notifier {
	return &Notifier{
		url:        cfg.AMQPURL,
		queue:      cfg.AMQPQueue,
		dial:       dial,
		logger:     logger,
		maxRetries: 3,
	}
}

func dial(url string) (channel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, conn, nil
}

// Notify publishes update as a persistent JSON message.
func (n *Notifier) Notify(ctx context.Context, update domain.AqiUpdate) error {
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("serialize aqi update: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    update.HourKey,
		Timestamp:    update.ProducedAt,
		Type:         "aqi_update",
		Body:         body,
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), n.maxRetries), ctx)
	err = backoff.Retry(func() error {
		if err := n.publish(ctx, msg); err != nil {
			n.logger.Warn("amqp publish failed", "error", err, "queue", n.queue, "hour_key", update.HourKey)
			return err
		}
		return nil
	}, b)
	if err != nil {
		return fmt.Errorf("publish aqi update %s: %w", update.HourKey, err)
	}
	return nil
}

func (n *Notifier) publish(ctx context.Context, msg amqp.Publishing) error {
	ch, conn, err := n.dial(n.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	defer ch.Close()

	if _, err := ch.QueueDeclare(n.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	return ch.PublishWithContext(ctx, "", n.queue, false, false, msg)
}

// Close is a no-op; connections are closed after each publish.
func (n *Notifier) Close() error { return nil }
