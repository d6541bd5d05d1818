// Package postgres implements endpoint.Transport on a PostgreSQL table.
// Consumers claim rows with SELECT ... FOR UPDATE SKIP LOCKED, so any number
// of processes can read the same queue.
package postgres

import (
	"context"
	"fmt"
	"time"

	"golang-message-queue/internal/domain"
	"golang-message-queue/internal/endpoint"
	"golang-message-queue/internal/ports"
)

// PropertySubscription names the subscriber queue of an inbound
// PublishSubscribe endpoint.
const PropertySubscription = "subscription"

const (
	maxNameLength = 255
	maxBatch      = 100
	claimInterval = 50 * time.Millisecond

	// DefaultLease is how long a claimed message stays hidden from other
	// consumers before it is redelivered.
	DefaultLease = 5 * time.Minute
)

// Transport implements endpoint.Transport over a ports.QueueRepository.
type Transport struct {
	repo  ports.QueueRepository
	lease time.Duration
	queue string // queue Receive claims from
}

// Factory returns an endpoint.Factory whose transports share repo.
func Factory(repo ports.QueueRepository, lease time.Duration) endpoint.Factory {
	if lease <= 0 {
		lease = DefaultLease
	}
	return func() (endpoint.Transport, error) {
		return &Transport{repo: repo, lease: lease}, nil
	}
}

// GetAddress returns name, the queue or topic name.
func (t *Transport) GetAddress(name string) (string, error) {
	if len(name) > maxNameLength {
		return "", fmt.Errorf("queue name longer than %d bytes: %q", maxNameLength, name)
	}
	return name, nil
}

// Setup registers inbound queues. Inbound PublishSubscribe endpoints require
// a "subscription" property naming their queue, bound to the topic.
func (t *Transport) Setup(ctx context.Context, ep *endpoint.Endpoint) error {
	if ep.Direction() == domain.DirectionOutbound {
		t.queue = ep.Address()
		return nil
	}

	if ep.Pattern() == domain.PatternPublishSubscribe {
		if err := endpoint.RequireProperty[string](ep, PropertySubscription); err != nil {
			return err
		}
		sub := endpoint.GetPropertyValue[string](ep.Properties(), PropertySubscription)
		t.queue = ep.Address() + "." + sub
		return t.repo.Subscribe(ctx, ep.Address(), t.queue)
	}

	t.queue = ep.Address()
	return t.repo.DeclareQueue(ctx, t.queue, ep.IsTemporary())
}

// Send inserts msg, or one copy per subscriber for PublishSubscribe.
func (t *Transport) Send(ctx context.Context, ep *endpoint.Endpoint, msg domain.Message) error {
	if ep.Pattern() == domain.PatternPublishSubscribe {
		n, err := t.repo.Publish(ctx, ep.Address(), msg)
		if err != nil {
			return err
		}
		ep.Logger().Debug("published", "msg_id", msg.ID, "subscribers", n)
		return nil
	}
	return t.repo.Enqueue(ctx, ep.Address(), msg)
}

// Receive claims a batch of visible messages, polling until one arrives or
// maxWait passes. Handled messages are deleted; failed ones become visible
// again.
func (t *Transport) Receive(ctx context.Context, ep *endpoint.Endpoint, handler endpoint.Handler, processAsync bool, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)

	for {
		deliveries, err := t.repo.Claim(ctx, t.queue, maxBatch, t.lease)
		if err != nil {
			return fmt.Errorf("claim from %s: %w", t.queue, err)
		}
		if len(deliveries) > 0 {
			return t.dispatch(ctx, ep, handler, deliveries, processAsync)
		}
		if maxWait <= 0 || !time.Now().Before(deadline) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(min(claimInterval, time.Until(deadline))):
		}
	}
}

func (t *Transport) dispatch(ctx context.Context, ep *endpoint.Endpoint, handler endpoint.Handler, deliveries []ports.Delivery, processAsync bool) error {
	for i, d := range deliveries {
		if err := ep.Dispatch(ctx, handler, d.Message, processAsync, t.settle(ctx, ep, d.Tag)); err != nil {
			// the rest of the batch is still leased
			for _, rest := range deliveries[i+1:] {
				t.settle(ctx, ep, rest.Tag)(err)
			}
			return fmt.Errorf("handle message %s: %w", d.Message.ID, err)
		}
	}
	return nil
}

func (t *Transport) settle(ctx context.Context, ep *endpoint.Endpoint, tag int64) func(error) {
	return func(handlerErr error) {
		ctx := context.WithoutCancel(ctx)

		var err error
		if handlerErr == nil {
			err = t.repo.Ack(ctx, tag)
		} else {
			err = t.repo.Release(ctx, tag)
		}
		if err != nil {
			ep.Logger().Error("settle queue message", "tag", tag, "err", err)
		}
	}
}

// DeleteQueue drops the endpoint's queue. Outbound endpoints own no queue.
func (t *Transport) DeleteQueue(ctx context.Context, ep *endpoint.Endpoint) error {
	if ep.Direction() == domain.DirectionOutbound {
		return nil
	}
	return t.repo.DropQueue(ctx, t.queue)
}

// Close is a no-op: the repository is shared between endpoints.
func (t *Transport) Close() error {
	return nil
}
