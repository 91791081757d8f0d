// Package memory keeps published hit events in process. It backs dry runs,
// where hits are logged instead of reaching Pub/Sub, and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Publisher records hit payloads per topic.
type Publisher struct {
	logger *zap.Logger

	mu       sync.RWMutex
	messages []Message
}

// Message captures one publish call.
type Message struct {
	ID      string
	Topic   string
	Payload any
}

// New returns a memory Publisher. A nil logger disables logging.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger}
}

// Publish records the payload and returns a sequential dry-run ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.mu.Lock()
	id := fmt.Sprintf("dryrun-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Payload: payload})
	p.mu.Unlock()

	p.logger.Info("dry run: hit not published",
		zap.String("topic", topic),
		zap.String("message_id", id),
		zap.Any("payload", payload),
	)
	return id, nil
}

// Messages returns a copy of every recorded publish in order.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Message(nil), p.messages...)
}

// Count returns how many payloads were published to topic.
func (p *Publisher) Count(topic string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, m := range p.messages {
		if m.Topic == topic {
			n++
		}
	}
	return n
}
