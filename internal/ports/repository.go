package ports

import (
	"context"
	"time"

	"golang-message-queue/internal/domain"
)

// Delivery is a message claimed from a table-backed queue. Tag identifies
// the claimed row for Ack and Release.
type Delivery struct {
	Tag     int64
	Message domain.Message
}

// QueueRepository defines persistence operations for table-backed queues.
type QueueRepository interface {
	// DeclareQueue registers a queue; declaring an existing queue is a no-op.
	DeclareQueue(ctx context.Context, name string, temporary bool) error

	// Subscribe declares queue and binds it to topic.
	Subscribe(ctx context.Context, topic, queue string) error

	// Enqueue appends msg to queue.
	Enqueue(ctx context.Context, queue string, msg domain.Message) error

	// Publish copies msg to every queue bound to topic in a single
	// transaction and returns how many queues received it.
	Publish(ctx context.Context, topic string, msg domain.Message) (int, error)

	// Claim leases up to limit visible messages of queue, oldest first. A
	// claimed message stays invisible to other consumers for lease.
	Claim(ctx context.Context, queue string, limit int, lease time.Duration) ([]Delivery, error)

	// Ack removes a claimed message.
	Ack(ctx context.Context, tag int64) error

	// Release makes a claimed message visible again and counts the attempt.
	Release(ctx context.Context, tag int64) error

	// DropQueue deletes queue, its messages and its topic bindings.
	DropQueue(ctx context.Context, name string) error
}
