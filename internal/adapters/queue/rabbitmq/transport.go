package rabbitmq

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang-message-queue/internal/domain"
	"golang-message-queue/internal/endpoint"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Recognised endpoint properties.
const (
	PropertyDurable      = "durable"       // bool, defaults to true
	PropertyExchange     = "exchange"      // string, direct exchange bound to point-to-point queues
	PropertyExchangeType = "exchange_type" // string, PublishSubscribe exchange kind, defaults to fanout
	PropertyRoutingKey   = "routing_key"   // string, PublishSubscribe routing/binding key
	PropertySubscription = "subscription"  // string, subscriber queue of a PublishSubscribe inbound endpoint
)

const (
	maxNameLength = 255 // AMQP short string
	maxBatch      = 100 // deliveries taken by one Receive call
	getInterval   = 50 * time.Millisecond
)

// channel is the subset of *amqp.Channel the transport uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	ExchangeDelete(name string, ifUnused, noWait bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Close() error
}

// Transport implements endpoint.Transport using RabbitMQ. Each transport
// owns one connection and one channel.
type Transport struct {
	conn io.Closer
	ch   channel
	mu   sync.Mutex // serialises channel use

	exchange string // exchange Send publishes to
	key      string // routing key Send publishes with
	queue    string // queue Receive reads from
	durable  bool
}

// New dials RabbitMQ and opens a channel.
func New(amqpURL string) (*Transport, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return &Transport{conn: conn, ch: ch}, nil
}

// Factory returns an endpoint.Factory dialling amqpURL for every endpoint.
func Factory(amqpURL string) endpoint.Factory {
	return func() (endpoint.Transport, error) {
		return New(amqpURL)
	}
}

// GetAddress returns name, the queue or exchange name, after checking it
// fits an AMQP short string.
func (t *Transport) GetAddress(name string) (string, error) {
	if len(name) > maxNameLength {
		return "", fmt.Errorf("rabbitmq name longer than %d bytes: %q", maxNameLength, name)
	}
	return name, nil
}

// Setup declares the topology for the endpoint's pattern and direction.
//
// Point-to-point patterns use a queue named after the address, optionally
// bound to a direct exchange. PublishSubscribe uses an exchange named after
// the address; inbound endpoints bind a subscriber queue to it.
func (t *Transport) Setup(ctx context.Context, ep *endpoint.Endpoint) error {
	props := ep.Properties()
	durable, ok := endpoint.LookupProperty[bool](props, PropertyDurable)
	if !ok {
		durable = true
	}
	t.durable = durable && !ep.IsTemporary()

	t.mu.Lock()
	defer t.mu.Unlock()

	if ep.Pattern() == domain.PatternPublishSubscribe {
		return t.declareTopic(ep, props)
	}
	return t.declareQueue(ep, props)
}

func (t *Transport) declareQueue(ep *endpoint.Endpoint, props endpoint.Properties) error {
	name := ep.Address()
	t.key = name

	// outbound request/response endpoints publish to queues their consumers
	// declare
	declare := ep.Direction() == domain.DirectionInbound || ep.Pattern() != domain.PatternRequestResponse
	if declare {
		if _, err := t.ch.QueueDeclare(name, t.durable, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue: %w", err)
		}
		t.queue = name
	}

	exchange := endpoint.GetPropertyValue[string](props, PropertyExchange)
	if exchange == "" {
		return nil
	}
	if err := t.ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if declare {
		if err := t.ch.QueueBind(name, name, exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue: %w", err)
		}
	}
	t.exchange = exchange
	return nil
}

func (t *Transport) declareTopic(ep *endpoint.Endpoint, props endpoint.Properties) error {
	kind := endpoint.GetPropertyValue[string](props, PropertyExchangeType)
	if kind == "" {
		kind = amqp.ExchangeFanout
	}
	if err := t.ch.ExchangeDeclare(ep.Address(), kind, t.durable, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	t.exchange = ep.Address()
	t.key = endpoint.GetPropertyValue[string](props, PropertyRoutingKey)

	if ep.Direction() == domain.DirectionOutbound {
		return nil
	}

	// Durable subscriptions need a stable queue name; temporary ones may
	// let the broker pick one.
	if !ep.IsTemporary() {
		if err := endpoint.RequireProperty[string](ep, PropertySubscription); err != nil {
			return err
		}
	}
	sub := endpoint.GetPropertyValue[string](props, PropertySubscription)
	q, err := t.ch.QueueDeclare(sub, t.durable, false, sub == "", false, nil)
	if err != nil {
		return fmt.Errorf("declare subscriber queue: %w", err)
	}
	if err := t.ch.QueueBind(q.Name, t.key, t.exchange, false, nil); err != nil {
		return fmt.Errorf("bind subscriber queue: %w", err)
	}
	t.queue = q.Name
	return nil
}

// Send publishes msg to the endpoint's exchange.
func (t *Transport) Send(ctx context.Context, ep *endpoint.Endpoint, msg domain.Message) error {
	pub := toPublishing(msg)
	if t.durable {
		pub.DeliveryMode = amqp.Persistent
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ch.PublishWithContext(ctx, t.exchange, t.key, false, false, pub); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Receive pulls deliveries with basic.get until the queue is empty or
// maxBatch is reached. Deliveries are acked when the handler succeeds and
// requeued when it fails.
func (t *Transport) Receive(ctx context.Context, ep *endpoint.Endpoint, handler endpoint.Handler, processAsync bool, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)

	for received := 0; received < maxBatch; {
		t.mu.Lock()
		d, ok, err := t.ch.Get(t.queue, false)
		t.mu.Unlock()
		if err != nil {
			return fmt.Errorf("get from %s: %w", t.queue, err)
		}

		if !ok {
			if received > 0 || maxWait <= 0 || !time.Now().Before(deadline) {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(min(getInterval, time.Until(deadline))):
			}
			continue
		}

		received++
		if err := ep.Dispatch(ctx, handler, fromDelivery(d), processAsync, t.settle(ep, d)); err != nil {
			return fmt.Errorf("handle delivery %d: %w", d.DeliveryTag, err)
		}
	}
	return nil
}

func (t *Transport) settle(ep *endpoint.Endpoint, d amqp.Delivery) func(error) {
	return func(handlerErr error) {
		t.mu.Lock()
		defer t.mu.Unlock()

		var err error
		if handlerErr == nil {
			err = d.Ack(false)
		} else {
			err = d.Nack(false, true) // requeue for retry
		}
		if err != nil {
			ep.Logger().Error("settle delivery", "delivery_tag", d.DeliveryTag, "err", err)
		}
	}
}

// DeleteQueue deletes the queue the endpoint reads from, or the exchange of
// an outbound PublishSubscribe endpoint.
func (t *Transport) DeleteQueue(ctx context.Context, ep *endpoint.Endpoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.queue != "" {
		n, err := t.ch.QueueDelete(t.queue, false, false, false)
		if err != nil {
			return fmt.Errorf("delete queue %s: %w", t.queue, err)
		}
		ep.Logger().Info("queue deleted", "queue", t.queue, "purged", n)
		return nil
	}
	if ep.Pattern() == domain.PatternPublishSubscribe && t.exchange != "" {
		if err := t.ch.ExchangeDelete(t.exchange, false, false); err != nil {
			return fmt.Errorf("delete exchange %s: %w", t.exchange, err)
		}
	}
	return nil
}

// Close cleanly shuts down the channel and connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ch != nil {
		_ = t.ch.Close()
	}
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
