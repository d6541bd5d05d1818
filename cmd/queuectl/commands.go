package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang-message-queue/internal/adapters/queue"
	"golang-message-queue/internal/app"
	cfg "golang-message-queue/internal/config"
	"golang-message-queue/internal/domain"
	"golang-message-queue/internal/endpoint"

	cli "github.com/urfave/cli/v2"
)

// session holds what every command needs to open endpoints.
type session struct {
	conf    cfg.Config
	log     *slog.Logger
	factory endpoint.Factory
	closeFn func() error
}

func newSession(c *cli.Context) (*session, error) {
	conf, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	factory, closeFn, err := queue.Factory(c.Context, conf)
	if err != nil {
		return nil, err
	}
	return &session{conf: conf, log: newLogger(conf), factory: factory, closeFn: closeFn}, nil
}

func (s *session) open(ctx context.Context, direction domain.Direction) (*endpoint.Endpoint, error) {
	return queue.Open(ctx, s.factory, s.conf, direction, endpoint.WithLogger(s.log))
}

func (s *session) Close() {
	if err := s.closeFn(); err != nil {
		s.log.Warn("close transport", "err", err)
	}
}

func printMessage(w io.Writer, msg domain.Message) {
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", msg.ID, msg.CorrelationID, msg.ContentType, msg.Body)
}

func send(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("send takes exactly one argument, the message body")
	}
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	out, err := s.open(c.Context, domain.DirectionOutbound)
	if err != nil {
		return err
	}
	defer out.Close(context.WithoutCancel(c.Context))

	svc := app.NewQueueService(out, nil, s.log)
	msg, err := svc.Send(c.Context, app.SendRequest{
		ContentType:   c.String("content-type"),
		Body:          []byte(c.Args().First()),
		CorrelationID: c.String("correlation-id"),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, msg.ID)
	return nil
}

func receive(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	in, err := s.open(c.Context, domain.DirectionInbound)
	if err != nil {
		return err
	}
	defer in.Close(context.WithoutCancel(c.Context))

	svc := app.NewQueueService(nil, in, s.log)
	msgs, err := svc.Receive(c.Context, c.Duration("wait"))
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		printMessage(c.App.Writer, msg)
	}
	return nil
}

func listen(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	in, err := s.open(c.Context, domain.DirectionInbound)
	if err != nil {
		return err
	}
	defer in.Close(context.Background())

	in.Listen(c.Context, func(ctx context.Context, msg domain.Message) error {
		printMessage(c.App.Writer, msg)
		return nil
	})
	if err := in.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func request(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("request takes exactly one argument, the request body")
	}
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	out, err := s.open(c.Context, domain.DirectionOutbound)
	if err != nil {
		return err
	}
	defer out.Close(context.WithoutCancel(c.Context))

	svc := app.NewQueueService(out, nil, s.log)
	reply, err := svc.Request(c.Context, app.SendRequest{
		ContentType: c.String("content-type"),
		Body:        []byte(c.Args().First()),
	}, c.Duration("timeout"))
	if err != nil {
		return err
	}
	printMessage(c.App.Writer, reply)
	return nil
}

func serve(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	in, err := s.open(c.Context, domain.DirectionInbound)
	if err != nil {
		return err
	}
	defer in.Close(context.Background())

	err = app.NewServer(in, app.Echo, s.log).Serve(c.Context)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
