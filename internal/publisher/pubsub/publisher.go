// Package pubsub publishes tracker notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/progress-tracker/internal/publisher"
)

// Publisher wraps a Pub/Sub topic publisher. The topic argument of Publish is
// ignored because a Pub/Sub publisher is bound to one topic.
type Publisher struct {
	publisher *pubsub.Publisher
}

// New creates a Publisher for the provided topic publisher.
func New(p *pubsub.Publisher) *Publisher {
	return &Publisher{publisher: p}
}

// Publish marshals the payload to JSON, injects the trace context into the
// message attributes, and waits for the server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, _ string, payload any) (string, error) {
	if p.publisher == nil {
		return "", errors.New("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string)}
	if keyed, ok := payload.(publisher.Keyed); ok {
		msg.Attributes["tracker_id"] = keyed.PartitionKey()
	}
	otel.GetTextMapPropagator().Inject(ctx, &attributeCarrier{attrs: msg.Attributes})

	id, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// attributeCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type attributeCarrier struct {
	attrs map[string]string
}

func (c *attributeCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *attributeCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
