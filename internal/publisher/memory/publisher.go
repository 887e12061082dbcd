// Package memory keeps crawl notices in process. It is the default publisher
// when Pub/Sub is not configured, and a probe for tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

const defaultLimit = 1000

// Publisher stores published payloads for inspection, keeping the most
// recent ones up to a limit.
type Publisher struct {
	mu       sync.RWMutex
	limit    int
	total    int
	messages []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID         string
	Topic      string
	Payload    any
	Attributes map[string]string
}

// New returns a memory Publisher retaining the default number of messages.
func New() *Publisher {
	return NewWithLimit(defaultLimit)
}

// NewWithLimit returns a memory Publisher retaining at most limit messages.
func NewWithLimit(limit int) *Publisher {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Publisher{limit: limit}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	var attrs map[string]string
	if a, ok := payload.(interface{ Attributes() map[string]string }); ok {
		attrs = maps.Clone(a.Attributes())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total++
	id := fmt.Sprintf("memory-%d", p.total)
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload, Attributes: attrs})
	if over := len(p.messages) - p.limit; over > 0 {
		p.messages = append(p.messages[:0:0], p.messages[over:]...)
	}
	return id, nil
}

// Messages returns the retained publishes, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Total returns the number of publishes since creation.
func (p *Publisher) Total() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.total
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}
