package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 1024

// Publisher delivers a payload to everyone listening on topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Queue is a topic pub/sub used to fan out campaign log entries to live streams.
type Queue interface {
	Publisher
	// Subscribe returns a channel of payloads and a cancel func that closes it.
	Subscribe(topic string, buffer int) (<-chan any, func())
}

// InMemoryQueue is an in-process Queue. Publishing never blocks: a
// subscriber whose buffer is full misses the payload.
type InMemoryQueue struct {
	mu          sync.Mutex
	subscribers map[string]map[string]chan any
	log         zerolog.Logger
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(log zerolog.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		subscribers: make(map[string]map[string]chan any),
		log:         log,
	}
}

var _ Queue = (*InMemoryQueue)(nil)

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	for id, ch := range q.subscribers[topic] {
		select {
		case ch <- payload:
		default:
			q.log.Warn().
				Str("topic", topic).
				Str("subscriber", id).
				Msg("dropping payload for slow subscriber")
		}
	}
	return nil
}

// Subscribe adds a listener for a topic
func (q *InMemoryQueue) Subscribe(topic string, buffer int) (<-chan any, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	id := uuid.NewString()
	ch := make(chan any, buffer)

	q.mu.Lock()
	if q.subscribers[topic] == nil {
		q.subscribers[topic] = make(map[string]chan any)
	}
	q.subscribers[topic][id] = ch
	q.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			delete(q.subscribers[topic], id)
			if len(q.subscribers[topic]) == 0 {
				delete(q.subscribers, topic)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers reports how many listeners a topic has.
func (q *InMemoryQueue) Subscribers(topic string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.subscribers[topic])
}
