package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang-message-queue/internal/domain"
	"golang-message-queue/internal/ports"
)

// ResponderFunc adapts a function to ports.Responder.
type ResponderFunc func(ctx context.Context, req domain.Message) (domain.Message, error)

func (f ResponderFunc) Respond(ctx context.Context, req domain.Message) (domain.Message, error) {
	return f(ctx, req)
}

// Echo replies with the request's body and content type.
var Echo = ResponderFunc(func(ctx context.Context, req domain.Message) (domain.Message, error) {
	return domain.NewReply(req, req.ContentType, req.Body), nil
})

// Server answers requests arriving on an inbound queue.
type Server struct {
	in        ports.Replier
	responder ports.Responder
	log       *slog.Logger
}

// NewServer wires a Server.
func NewServer(in ports.Replier, responder ports.Responder, log *slog.Logger) *Server {
	return &Server{in: in, responder: responder, log: log}
}

// Serve listens until ctx is cancelled, sending every reply to the request's
// response address. Requests without one are handled and not answered.
func (s *Server) Serve(ctx context.Context) error {
	s.in.Listen(ctx, s.handle)
	return s.in.Wait()
}

func (s *Server) handle(ctx context.Context, req domain.Message) error {
	reply, err := s.responder.Respond(ctx, req)
	if err != nil {
		return fmt.Errorf("respond to %s: %w", req.ID, err)
	}
	if req.ResponseAddress == "" {
		s.log.Warn("request without response address", "msg_id", req.ID)
		return nil
	}
	if reply.CorrelationID == "" {
		reply.CorrelationID = req.ID.String()
	}

	out, err := s.in.ReplyQueue(ctx, req)
	if err != nil {
		return fmt.Errorf("open reply queue: %w", err)
	}
	defer func() {
		if err := out.Close(context.WithoutCancel(ctx)); err != nil {
			s.log.Error("close reply queue", "address", out.Address(), "err", err)
		}
	}()

	if err := out.Send(ctx, reply); err != nil {
		return fmt.Errorf("send reply to %s: %w", req.ResponseAddress, err)
	}

	s.log.Info("reply sent", "msg_id", reply.ID, "correlation_id", reply.CorrelationID)
	return nil
}
