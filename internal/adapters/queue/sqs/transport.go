// Package sqs implements endpoint.Transport on Amazon SQS.
//
// Queue names get a "mq-{namespace}-" prefix so several environments can
// share an account. Reply addresses travel as prefixed names and resolve to
// themselves.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang-message-queue/internal/domain"
	"golang-message-queue/internal/endpoint"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

const (
	maxNameLength     = 80
	maxWaitSeconds    = 20 // SQS long-polling ceiling
	maxBatch          = 10
	maxAttributes     = 10
	namePrefix        = "mq-"
	defaultVisibility = 300
)

// sqsClient is the subset of *sqs.Client the transport uses.
type sqsClient interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	DeleteQueue(ctx context.Context, params *sqs.DeleteQueueInput, optFns ...func(*sqs.Options)) (*sqs.DeleteQueueOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Config holds SQS connection settings.
type Config struct {
	Region            string
	Endpoint          string // custom endpoint, e.g. LocalStack
	Namespace         string
	VisibilityTimeout int32 // seconds; defaults to 300
}

// Transport implements endpoint.Transport for one SQS queue.
type Transport struct {
	client            sqsClient
	namespace         string
	baseURL           string
	visibilityTimeout int32

	mu       sync.Mutex
	queueURL string
}

// NewClient loads the default AWS configuration and builds an SQS client.
func NewClient(ctx context.Context, cfg Config) (*sqs.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Endpoint == "" {
		return sqs.NewFromConfig(awsCfg), nil
	}
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
	}), nil
}

// Factory returns an endpoint.Factory whose transports share client.
func Factory(client *sqs.Client, cfg Config) endpoint.Factory {
	return func() (endpoint.Transport, error) {
		return newTransport(client, cfg), nil
	}
}

func newTransport(client sqsClient, cfg Config) *Transport {
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = defaultVisibility
	}
	return &Transport{
		client:            client,
		namespace:         cfg.Namespace,
		baseURL:           cfg.Endpoint,
		visibilityTimeout: visibility,
	}
}

func (t *Transport) prefix() string {
	if t.namespace == "" {
		return namePrefix
	}
	return namePrefix + t.namespace + "-"
}

// GetAddress returns the prefixed queue name.
func (t *Transport) GetAddress(name string) (string, error) {
	addr := name
	if !strings.HasPrefix(name, t.prefix()) {
		addr = t.prefix() + name
	}
	if len(addr) > maxNameLength {
		return "", fmt.Errorf("sqs queue name longer than %d characters: %q", maxNameLength, addr)
	}
	return addr, nil
}

// Setup resolves the queue URL. Temporary queues are created on demand;
// PublishSubscribe has no SQS equivalent.
func (t *Transport) Setup(ctx context.Context, ep *endpoint.Endpoint) error {
	if ep.Pattern() == domain.PatternPublishSubscribe {
		return fmt.Errorf("%w: %s over sqs", domain.ErrPatternUnsupported, ep.Pattern())
	}

	var (
		url string
		err error
	)
	if ep.IsTemporary() && ep.Direction() == domain.DirectionInbound {
		url, err = t.createQueue(ctx, ep.Address())
	} else {
		url, err = t.resolveQueueURL(ctx, ep.Address())
	}
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.queueURL = url
	t.mu.Unlock()
	return nil
}

func (t *Transport) createQueue(ctx context.Context, name string) (string, error) {
	out, err := t.client.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("create queue %s: %w", name, err)
	}
	return t.rewriteURL(aws.ToString(out.QueueUrl)), nil
}

func (t *Transport) resolveQueueURL(ctx context.Context, name string) (string, error) {
	out, err := t.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("resolve queue url for %s: %w", name, err)
	}
	return t.rewriteURL(aws.ToString(out.QueueUrl)), nil
}

// rewriteURL points a returned queue URL at the configured endpoint. LocalStack
// answers with virtual-host URLs that do not resolve inside container networks.
func (t *Transport) rewriteURL(queueURL string) string {
	if t.baseURL == "" {
		return queueURL
	}
	parts := strings.Split(queueURL, "/")
	if len(parts) < 5 {
		slog.Warn("unable to rewrite sqs queue url", "url", queueURL)
		return queueURL
	}
	account, queue := parts[len(parts)-2], parts[len(parts)-1]
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(t.baseURL, "/"), account, queue)
}

func (t *Transport) url() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queueURL
}

// Send sends msg with its metadata as message attributes.
func (t *Transport) Send(ctx context.Context, ep *endpoint.Endpoint, msg domain.Message) error {
	attrs, err := toAttributes(msg)
	if err != nil {
		return err
	}
	_, err = t.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(t.url()),
		MessageBody:       aws.String(string(msg.Body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("send to %s: %w", ep.Address(), err)
	}
	return nil
}

// Receive makes one ReceiveMessage call, long polling for maxWait truncated
// to whole seconds (at most 20) and never running past maxWait. Handled
// messages are deleted; failed ones become visible again immediately.
func (t *Transport) Receive(ctx context.Context, ep *endpoint.Endpoint, handler endpoint.Handler, processAsync bool, maxWait time.Duration) error {
	queueURL := t.url()

	pollCtx := ctx
	if maxWait > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, maxWait)
		defer cancel()
	}
	out, err := t.client.ReceiveMessage(pollCtx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(queueURL),
		MaxNumberOfMessages:   maxBatch,
		WaitTimeSeconds:       waitSeconds(maxWait),
		VisibilityTimeout:     t.visibilityTimeout,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		if ctx.Err() == nil && errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
			return nil // maxWait elapsed with nothing received
		}
		return fmt.Errorf("receive from %s: %w", ep.Address(), err)
	}

	for _, m := range out.Messages {
		handle := aws.ToString(m.ReceiptHandle)
		if err := ep.Dispatch(ctx, handler, fromSQS(m), processAsync, t.settle(ctx, ep, queueURL, handle)); err != nil {
			return fmt.Errorf("handle message %s: %w", aws.ToString(m.MessageId), err)
		}
	}
	return nil
}

func (t *Transport) settle(ctx context.Context, ep *endpoint.Endpoint, queueURL, receiptHandle string) func(error) {
	return func(handlerErr error) {
		// the receive context may already be cancelled by the time an async
		// handler finishes
		ctx := context.WithoutCancel(ctx)

		var err error
		if handlerErr == nil {
			_, err = t.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(queueURL),
				ReceiptHandle: aws.String(receiptHandle),
			})
		} else {
			_, err = t.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
				QueueUrl:          aws.String(queueURL),
				ReceiptHandle:     aws.String(receiptHandle),
				VisibilityTimeout: 0,
			})
		}
		if err != nil {
			ep.Logger().Error("settle sqs message", "err", err)
		}
	}
}

func waitSeconds(maxWait time.Duration) int32 {
	if maxWait <= 0 {
		return 0
	}
	if maxWait >= maxWaitSeconds*time.Second {
		return maxWaitSeconds
	}
	return int32(maxWait / time.Second)
}

// DeleteQueue deletes the SQS queue.
func (t *Transport) DeleteQueue(ctx context.Context, ep *endpoint.Endpoint) error {
	queueURL := t.url()
	if queueURL == "" {
		return nil
	}
	if _, err := t.client.DeleteQueue(ctx, &sqs.DeleteQueueInput{QueueUrl: aws.String(queueURL)}); err != nil {
		return fmt.Errorf("delete queue %s: %w", ep.Address(), err)
	}
	return nil
}

// Close is a no-op; the SQS client holds no per-endpoint connection.
func (t *Transport) Close() error {
	return nil
}
