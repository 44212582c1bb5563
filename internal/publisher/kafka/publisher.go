// Package kafka publishes tracker notifications to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/JakeFAU/progress-tracker/internal/publisher"
)

// Config configures the synchronous producer.
type Config struct {
	Brokers  []string
	ClientID string
	Timeout  time.Duration
}

// Publisher wraps a sarama SyncProducer.
type Publisher struct {
	producer sarama.SyncProducer
}

// New dials the brokers and returns a Publisher that waits for all in-sync
// replicas to acknowledge every message.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	sc.Producer.Return.Successes = true
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	if cfg.Timeout > 0 {
		sc.Producer.Timeout = cfg.Timeout
	}
	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewWithProducer(p), nil
}

// NewWithProducer wraps an existing producer; used by tests with sarama mocks.
func NewWithProducer(p sarama.SyncProducer) *Publisher {
	return &Publisher{producer: p}
}

// Publish marshals payload to JSON and sends it to topic. Payloads that carry
// a partition key are keyed by it so one tracker's messages stay ordered. The
// returned identifier is "partition:offset".
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.producer == nil {
		return "", errors.New("kafka publisher is not configured")
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(data),
	}
	if keyed, ok := payload.(publisher.Keyed); ok {
		msg.Key = sarama.StringEncoder(keyed.PartitionKey())
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return fmt.Sprintf("%d:%d", partition, offset), nil
}

// Close flushes and shuts down the producer.
func (p *Publisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
