// Package kafka streams ingest events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"NewsIngest/internal/domain"
	"NewsIngest/internal/ports"
)

// Config holds Kafka producer configuration.
type Config struct {
	Brokers []string
	Topic   string
}

// Sink publishes every appended event as one JSON message keyed by source id.
type Sink struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

var _ ports.EventSink = (*Sink)(nil)

// message is the wire shape of one event.
type message struct {
	SourceID  string    `json:"source_id"`
	URL       string    `json:"url,omitempty"`
	Domain    string    `json:"domain,omitempty"`
	Title     string    `json:"title,omitempty"`
	Reason    string    `json:"reason"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewProducerConfig returns the sarama settings used for the event stream.
func NewProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	return cfg
}

// NewSink dials the brokers.
func NewSink(cfg Config, logger *slog.Logger) (*Sink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka brokers and topic are required")
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewSinkWithProducer(producer, cfg.Topic, logger), nil
}

// NewSinkWithProducer wraps an existing producer.
func NewSinkWithProducer(producer sarama.SyncProducer, topic string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{producer: producer, topic: topic, logger: logger.With("component", "kafka_sink")}
}

// Append sends one event and waits for the broker acknowledgement.
func (s *Sink) Append(ctx context.Context, ev domain.IngestEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	created := ev.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	payload, err := json.Marshal(message{
		SourceID:  ev.SourceID,
		URL:       ev.URL,
		Domain:    ev.Domain,
		Title:     ev.Title,
		Reason:    string(ev.Reason),
		Detail:    ev.Detail,
		CreatedAt: created,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	partition, offset, err := s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(ev.SourceID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	s.logger.Debug("event published", "reason", ev.Reason, "partition", partition, "offset", offset)
	return nil
}

// Close flushes and closes the producer.
func (s *Sink) Close() error {
	return s.producer.Close()
}
