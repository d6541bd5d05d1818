// Package queue selects the transport an endpoint.Factory builds on.
package queue

import (
	"context"
	"fmt"

	"golang-message-queue/internal/adapters/db/postgres"
	"golang-message-queue/internal/adapters/queue/memory"
	pgqueue "golang-message-queue/internal/adapters/queue/postgres"
	"golang-message-queue/internal/adapters/queue/rabbitmq"
	"golang-message-queue/internal/adapters/queue/sqs"
	"golang-message-queue/internal/config"
	"golang-message-queue/internal/domain"
	"golang-message-queue/internal/endpoint"
)

// Factory returns an endpoint.Factory for conf.Transport. The close function
// releases what the factory's endpoints share, e.g. a database pool; call it
// after every endpoint is closed.
func Factory(ctx context.Context, conf config.Config) (endpoint.Factory, func() error, error) {
	noop := func() error { return nil }

	switch conf.Transport {
	case config.TransportMemory:
		return memory.NewBroker().Factory(), noop, nil

	case config.TransportRabbitMQ:
		return rabbitmq.Factory(conf.AMQPURL), noop, nil

	case config.TransportSQS:
		cfg := sqs.Config{
			Region:            conf.SQSRegion,
			Endpoint:          conf.SQSEndpoint,
			Namespace:         conf.SQSNamespace,
			VisibilityTimeout: conf.SQSVisibilityTimeout,
		}
		client, err := sqs.NewClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return sqs.Factory(client, cfg), noop, nil

	case config.TransportPostgres:
		repo, err := postgres.New(conf.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pgqueue.Factory(repo, conf.QueueLease), repo.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport %q", conf.Transport)
	}
}

// Open builds an endpoint over factory and initialises it on the configured
// queue in direction.
func Open(ctx context.Context, factory endpoint.Factory, conf config.Config, direction domain.Direction, opts ...endpoint.Option) (*endpoint.Endpoint, error) {
	props, err := conf.Properties()
	if err != nil {
		return nil, err
	}

	opts = append([]endpoint.Option{endpoint.WithPollingInterval(conf.PollingInterval)}, opts...)
	ep, err := endpoint.New(factory, opts...)
	if err != nil {
		return nil, err
	}

	if direction == domain.DirectionInbound {
		err = ep.InitialiseInbound(ctx, conf.QueueName, conf.QueuePattern, conf.QueueTemporary, props)
	} else {
		err = ep.InitialiseOutbound(ctx, conf.QueueName, conf.QueuePattern, conf.QueueTemporary, props)
	}
	if err != nil {
		_ = ep.Close(ctx)
		return nil, fmt.Errorf("initialise %s endpoint on %s: %w", direction, conf.QueueName, err)
	}
	return ep, nil
}
