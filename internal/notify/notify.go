// Package notify publishes run summaries to a durable AMQP queue.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultQueue is the queue run summaries are published to.
const DefaultQueue = "stridesync.runs"

// Config holds the broker settings. An empty URL disables publishing.
type Config struct {
	AMQPURL string `koanf:"amqp_url" validate:"omitempty,url"`
	Queue   string `koanf:"queue"`
}

// Channel is the subset of *amqp.Channel used to publish.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// DialFunc opens a channel and returns the connection that owns it.
type DialFunc func(url string) (Channel, io.Closer, error)

// Publisher sends JSON messages, opening a connection per publish.
type Publisher struct {
	url    string
	queue  string
	logger *slog.Logger

	Dial DialFunc
}

// New creates a Publisher.
func New(cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	queue := cfg.Queue
	if queue == "" {
		queue = DefaultQueue
	}
	return &Publisher{url: cfg.AMQPURL, queue: queue, logger: logger, Dial: dialAMQP}
}

func dialAMQP(url string) (Channel, io.Closer, error) {
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

// Publish declares the durable queue and publishes msg as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	ch, conn, err := p.Dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer func() {
		_ = ch.Close()
		_ = conn.Close()
	}()

	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", p.queue, err)
	}

	err = ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.queue, err)
	}
	p.logger.Debug("published run summary", slog.String("queue", p.queue), slog.Int("bytes", len(body)))
	return nil
}
