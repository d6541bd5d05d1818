package memory

import (
	"strings"
	"sync"

	"golang-message-queue/internal/domain"
)

// Scheme prefixes every in-memory address.
const Scheme = "mem://"

// Broker is a process-local message broker. Every Transport created from the
// same Broker sees the same queues.
type Broker struct {
	mu     sync.Mutex
	queues map[string]*queue
	topics map[string]map[string]struct{} // topic address -> subscriber queue keys
}

type queue struct {
	msgs  []domain.Message
	ready chan struct{}
}

// NewBroker returns an empty Broker.
func NewBroker() *Broker {
	return &Broker{
		queues: make(map[string]*queue),
		topics: make(map[string]map[string]struct{}),
	}
}

// Depth returns the number of messages waiting in the queue at key.
func (b *Broker) Depth(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[key]; ok {
		return len(q.msgs)
	}
	return 0
}

// declareLocked creates the queue at key if needed. b.mu must be held.
func (b *Broker) declareLocked(key string) *queue {
	q, ok := b.queues[key]
	if !ok {
		q = &queue{ready: make(chan struct{}, 1)}
		b.queues[key] = q
	}
	return q
}

func (b *Broker) declare(key string) {
	b.mu.Lock()
	b.declareLocked(key)
	b.mu.Unlock()
}

func (b *Broker) subscribe(topic, key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.declareLocked(key)
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[string]struct{})
		b.topics[topic] = subs
	}
	subs[key] = struct{}{}
}

func (b *Broker) enqueue(key string, msg domain.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushLocked(b.declareLocked(key), msg)
}

// publish copies msg to every subscriber of topic and returns how many
// queues received it.
func (b *Broker) publish(topic string, msg domain.Message) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	for key := range subs {
		b.pushLocked(b.declareLocked(key), msg)
	}
	return len(subs)
}

// requeue puts msgs back at the head of the queue at key, in order.
func (b *Broker) requeue(key string, msgs ...domain.Message) {
	if len(msgs) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[key]
	if !ok {
		return
	}
	q.msgs = append(append([]domain.Message(nil), msgs...), q.msgs...)
	b.signal(q)
}

func (b *Broker) pushLocked(q *queue, msg domain.Message) {
	q.msgs = append(q.msgs, msg)
	b.signal(q)
}

func (b *Broker) signal(q *queue) {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// drain takes up to limit messages from the head of the queue at key. The
// returned channel is signalled when a message arrives; ok is false when the
// queue does not exist.
func (b *Broker) drain(key string, limit int) (msgs []domain.Message, ready <-chan struct{}, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[key]
	if !ok {
		return nil, nil, false
	}
	n := min(limit, len(q.msgs))
	msgs = append([]domain.Message(nil), q.msgs[:n]...)
	q.msgs = q.msgs[n:]
	if len(q.msgs) == 0 {
		q.msgs = nil
	}
	return msgs, q.ready, true
}

func (b *Broker) remove(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, key)
	for topic, subs := range b.topics {
		delete(subs, key)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
}

func (b *Broker) exists(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[key]
	return ok
}

func address(name string) string {
	if strings.HasPrefix(name, Scheme) {
		return name
	}
	return Scheme + name
}
