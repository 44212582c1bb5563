// Package redis publishes tracker notifications over Redis pub/sub channels.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"
)

// Publisher wraps a Redis client and issues PUBLISH commands.
type Publisher struct {
	client goredis.UniversalClient
}

// New returns a Publisher backed by client. The client is owned by the caller.
func New(client goredis.UniversalClient) *Publisher {
	return &Publisher{client: client}
}

// Publish marshals payload to JSON and publishes it to channel. The returned
// identifier is the number of subscribers that received the message.
func (p *Publisher) Publish(ctx context.Context, channel string, payload any) (string, error) {
	if p.client == nil {
		return "", errors.New("redis publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	receivers, err := p.client.Publish(ctx, channel, data).Result()
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", channel, err)
	}
	return strconv.FormatInt(receivers, 10), nil
}
