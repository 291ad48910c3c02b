package memory

import (
	"context"
	"sync"

	interfaces "github.com/sheikh-saqib/rebase-ledger-system/internal/interfaces"
	"go.uber.org/zap"
)

// Published is one event seen by the Publisher.
type Published struct {
	Topic string
	Event any
}

// Publisher keeps published events in memory and logs them. It is the
// publisher used when no broker is configured.
type Publisher struct {
	mu     sync.Mutex
	events []Published
	logger *zap.Logger
}

func NewPublisher(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger.Named("events")}
}

func (p *Publisher) Publish(ctx context.Context, topic string, event any) error {
	p.mu.Lock()
	p.events = append(p.events, Published{Topic: topic, Event: event})
	p.mu.Unlock()

	p.logger.Debug("event published", zap.String("topic", topic), zap.Any("event", event))
	return nil
}

// Events returns a copy of everything published so far.
func (p *Publisher) Events() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()

	copied := make([]Published, len(p.events))
	copy(copied, p.events)
	return copied
}

// ByTopic returns the events published on topic.
func (p *Publisher) ByTopic(topic string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []any
	for _, e := range p.events {
		if e.Topic == topic {
			out = append(out, e.Event)
		}
	}
	return out
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
