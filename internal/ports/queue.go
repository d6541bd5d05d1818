package ports

import (
	"context"
	"time"

	"golang-message-queue/internal/domain"
	"golang-message-queue/internal/endpoint"
)

// MessageSender sends messages to a queue.
type MessageSender interface {
	// Send delivers a single domain.Message to the queue.
	Send(ctx context.Context, msg domain.Message) error
}

// MessageReceiver receives messages from a queue.
type MessageReceiver interface {
	// Receive passes each available message to handler and returns once
	// they are handled, waiting at most maxWait for the first one.
	Receive(ctx context.Context, handler endpoint.Handler, maxWait time.Duration) error
}

// MessageListener drives a background receive loop.
type MessageListener interface {
	// Listen starts the loop and returns immediately.
	Listen(ctx context.Context, handler endpoint.Handler)

	// Wait blocks until the loop exits.
	Wait() error
}

// Requester sends requests and opens temporary queues for their replies.
type Requester interface {
	MessageSender
	ResponseQueue(ctx context.Context) (*endpoint.Endpoint, error)
}

// Replier listens for requests and opens queues to answer them.
type Replier interface {
	MessageListener
	ReplyQueue(ctx context.Context, msg domain.Message) (*endpoint.Endpoint, error)
}

// Responder computes the reply to a request message.
type Responder interface {
	Respond(ctx context.Context, req domain.Message) (domain.Message, error)
}
