package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang-message-queue/internal/domain"
	"golang-message-queue/internal/endpoint"
)

// PropertySubscription names the subscriber queue of an inbound
// PublishSubscribe endpoint.
const PropertySubscription = "subscription"

// maxBatch bounds the messages, and so the async handler goroutines, one
// Receive call takes.
const maxBatch = 100

// ErrQueueNotFound is returned when receiving from a deleted queue.
var ErrQueueNotFound = errors.New("queue not found")

// Transport implements endpoint.Transport on top of a Broker.
type Transport struct {
	broker *Broker
	key    string // queue this endpoint reads from
}

// Factory returns an endpoint.Factory producing transports bound to b.
func (b *Broker) Factory() endpoint.Factory {
	return func() (endpoint.Transport, error) {
		return &Transport{broker: b}, nil
	}
}

// GetAddress prefixes name with Scheme unless it already carries it.
func (t *Transport) GetAddress(name string) (string, error) {
	return address(name), nil
}

// Setup declares the endpoint's queue. Inbound PublishSubscribe endpoints
// require a "subscription" property and get their own queue bound to the
// topic.
func (t *Transport) Setup(ctx context.Context, ep *endpoint.Endpoint) error {
	if ep.Pattern() == domain.PatternPublishSubscribe {
		if ep.Direction() == domain.DirectionOutbound {
			return nil
		}
		if err := endpoint.RequireProperty[string](ep, PropertySubscription); err != nil {
			return err
		}
		sub := endpoint.GetPropertyValue[string](ep.Properties(), PropertySubscription)
		t.key = ep.Address() + "#" + sub
		t.broker.subscribe(ep.Address(), t.key)
		return nil
	}

	t.key = ep.Address()
	t.broker.declare(t.key)
	return nil
}

// Send enqueues msg, or fans it out to every subscriber for PublishSubscribe.
func (t *Transport) Send(ctx context.Context, ep *endpoint.Endpoint, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ep.Pattern() == domain.PatternPublishSubscribe {
		n := t.broker.publish(ep.Address(), msg)
		ep.Logger().Debug("published", "msg_id", msg.ID, "subscribers", n)
		return nil
	}
	t.broker.enqueue(ep.Address(), msg)
	return nil
}

// Receive dispatches up to maxBatch queued messages. With maxWait > 0 it
// waits up to maxWait for the first one to arrive. A message whose handler
// fails goes back to the head of the queue.
func (t *Transport) Receive(ctx context.Context, ep *endpoint.Endpoint, handler endpoint.Handler, processAsync bool, maxWait time.Duration) error {
	var deadline <-chan time.Time
	if maxWait > 0 {
		timer := time.NewTimer(maxWait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		msgs, ready, ok := t.broker.drain(t.key, maxBatch)
		if !ok {
			return fmt.Errorf("%w: %s", ErrQueueNotFound, t.key)
		}
		if len(msgs) > 0 {
			return t.dispatch(ctx, ep, handler, msgs, processAsync)
		}
		if deadline == nil {
			return nil
		}

		select {
		case <-ready:
		case <-deadline:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *Transport) dispatch(ctx context.Context, ep *endpoint.Endpoint, handler endpoint.Handler, msgs []domain.Message, processAsync bool) error {
	for i, msg := range msgs {
		var settle func(error)
		if processAsync {
			settle = func(err error) {
				if err != nil {
					t.broker.requeue(t.key, msg)
				}
			}
		}
		if err := ep.Dispatch(ctx, handler, msg, processAsync, settle); err != nil {
			t.broker.requeue(t.key, msgs[i:]...)
			return fmt.Errorf("handle message %s: %w", msg.ID, err)
		}
	}
	return nil
}

// DeleteQueue drops the endpoint's queue and any topic binding.
func (t *Transport) DeleteQueue(ctx context.Context, ep *endpoint.Endpoint) error {
	if t.key == "" || !t.broker.exists(t.key) {
		return nil
	}
	t.broker.remove(t.key)
	return nil
}

// Close is a no-op: queues belong to the Broker, not the transport.
func (t *Transport) Close() error {
	return nil
}
