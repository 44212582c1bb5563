// Package memory contains an in-process publisher for tests and single-node
// deployments without a broker.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

const defaultSubscriberBuffer = 64

// Publisher broadcasts payloads to the subscribers attached at publish time.
// Nothing is retained: a message published with no subscriber is discarded,
// and a subscriber whose buffer is full misses it.
type Publisher struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	seq    atomic.Uint64
	missed atomic.Uint64
	closed bool
}

// PublishedMessage is one delivery to a subscriber.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

type subscription struct {
	ch chan PublishedMessage
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{subs: make(map[string]map[*subscription]struct{})}
}

// Publish fans the message out to current subscribers of topic without
// blocking and returns a sequence-based ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	id := fmt.Sprintf("memory-%d", p.seq.Add(1))
	msg := PublishedMessage{ID: id, Topic: topic, Payload: payload}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return "", fmt.Errorf("publish to %s: publisher closed", topic)
	}
	for sub := range p.subs[topic] {
		select {
		case sub.ch <- msg:
		default:
			p.missed.Add(1)
		}
	}
	return id, nil
}

// Subscribe attaches a receiver to topic. The returned cancel func detaches
// it and closes the channel; it is safe to call more than once.
func (p *Publisher) Subscribe(topic string, buffer int) (<-chan PublishedMessage, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	sub := &subscription{ch: make(chan PublishedMessage, buffer)}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	if p.subs[topic] == nil {
		p.subs[topic] = make(map[*subscription]struct{})
	}
	p.subs[topic][sub] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if _, ok := p.subs[topic][sub]; !ok {
				return
			}
			delete(p.subs[topic], sub)
			if len(p.subs[topic]) == 0 {
				delete(p.subs, topic)
			}
			close(sub.ch)
		})
	}
}

// Subscribers reports how many receivers are attached to topic.
func (p *Publisher) Subscribers(topic string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs[topic])
}

// Missed counts deliveries skipped because a subscriber buffer was full.
func (p *Publisher) Missed() uint64 {
	return p.missed.Load()
}

// Close detaches every subscriber and rejects later publishes.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for topic, subs := range p.subs {
		for sub := range subs {
			close(sub.ch)
		}
		delete(p.subs, topic)
	}
	return nil
}
