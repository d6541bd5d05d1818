package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang-message-queue/internal/domain"
	"golang-message-queue/internal/ports"
)

// Service errors
var (
	ErrNoInbound      = errors.New("service has no inbound queue")
	ErrRequestTimeout = errors.New("no reply before timeout")
)

// QueueService is the central application service that sends messages,
// receives them on demand and runs request/response exchanges.
type QueueService struct {
	out ports.Requester
	in  ports.MessageReceiver
	log *slog.Logger
}

// NewQueueService wires the service with its endpoints. in may be nil for
// services that only send.
func NewQueueService(out ports.Requester, in ports.MessageReceiver, log *slog.Logger) *QueueService {
	return &QueueService{out: out, in: in, log: log}
}

// SendRequest is the input for sending a message.
type SendRequest struct {
	ContentType   string
	Body          []byte
	Headers       map[string]string
	CorrelationID string
}

func (r SendRequest) message() domain.Message {
	msg := domain.NewMessage(r.ContentType, r.Body)
	msg.Headers = r.Headers
	msg.CorrelationID = r.CorrelationID
	return msg
}

// Send builds a message from req and sends it to the outbound queue.
func (s *QueueService) Send(ctx context.Context, req SendRequest) (domain.Message, error) {
	msg := req.message()
	if err := s.out.Send(ctx, msg); err != nil {
		return domain.Message{}, fmt.Errorf("send: %w", err)
	}

	s.log.Info("message sent", "msg_id", msg.ID)
	return msg, nil
}

// Receive returns the messages available on the inbound queue, waiting up to
// maxWait for the first one.
func (s *QueueService) Receive(ctx context.Context, maxWait time.Duration) ([]domain.Message, error) {
	if s.in == nil {
		return nil, ErrNoInbound
	}

	var msgs []domain.Message
	err := s.in.Receive(ctx, func(ctx context.Context, msg domain.Message) error {
		msgs = append(msgs, msg)
		return nil
	}, maxWait)
	if err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}
	return msgs, nil
}

// Request sends req with the address of a temporary response queue and
// waits up to timeout for the reply correlated with it.
func (s *QueueService) Request(ctx context.Context, req SendRequest, timeout time.Duration) (domain.Message, error) {
	responses, err := s.out.ResponseQueue(ctx)
	if err != nil {
		return domain.Message{}, fmt.Errorf("open response queue: %w", err)
	}
	defer func() {
		if err := responses.Close(context.WithoutCancel(ctx)); err != nil {
			s.log.Error("close response queue", "address", responses.Address(), "err", err)
		}
	}()

	msg := req.message()
	msg.ResponseAddress = responses.Address()
	if err := s.out.Send(ctx, msg); err != nil {
		return domain.Message{}, fmt.Errorf("send request: %w", err)
	}
	s.log.Info("request sent", "msg_id", msg.ID, "response_address", msg.ResponseAddress)

	want := msg.ID.String()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return domain.Message{}, fmt.Errorf("%w: request %s", ErrRequestTimeout, msg.ID)
		}

		var reply *domain.Message
		err := responses.Receive(ctx, func(ctx context.Context, m domain.Message) error {
			if reply == nil && m.CorrelationID == want {
				reply = &m
				return nil
			}
			s.log.Warn("discarding uncorrelated reply", "msg_id", m.ID, "correlation_id", m.CorrelationID)
			return nil
		}, remaining)
		if err != nil {
			return domain.Message{}, fmt.Errorf("receive reply: %w", err)
		}
		if reply != nil {
			return *reply, nil
		}
	}
}
