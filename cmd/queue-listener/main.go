package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang-message-queue/internal/adapters/queue"
	"golang-message-queue/internal/app"
	"golang-message-queue/internal/domain"
	"golang-message-queue/internal/endpoint"

	cfg "golang-message-queue/internal/config"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	conf, err := cfg.FromEnv()
	if err != nil {
		log.Error("load config", "err", err)
		os.Exit(1)
	}
	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: conf.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Adapters ─────────────────────────────────────────────────────────────
	factory, closeFactory, err := queue.Factory(ctx, conf)
	if err != nil {
		log.Error("set up transport", "transport", conf.Transport, "err", err)
		os.Exit(1)
	}
	defer closeFactory()

	in, err := queue.Open(ctx, factory, conf, domain.DirectionInbound,
		endpoint.WithLogger(log),
		endpoint.WithMetrics(endpoint.NewMetrics(conf.MetricsNamespace)),
	)
	if err != nil {
		log.Error("open inbound queue", "queue", conf.QueueName, "err", err)
		os.Exit(1)
	}
	defer in.Close(context.Background())

	log.Info("queue-listener started",
		"transport", conf.Transport,
		"queue", in.Address(),
		"pattern", conf.QueuePattern.String(),
	)

	// ── Listen ───────────────────────────────────────────────────────────────
	if conf.QueuePattern == domain.PatternRequestResponse {
		err = app.NewServer(in, app.Echo, log).Serve(ctx)
	} else {
		in.Listen(ctx, func(ctx context.Context, msg domain.Message) error {
			log.Info("message received",
				"msg_id", msg.ID,
				"correlation_id", msg.CorrelationID,
				"content_type", msg.ContentType,
				"size", len(msg.Body),
			)
			return nil
		})
		err = in.Wait()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("listener error", "err", err)
		os.Exit(1)
	}

	log.Info("shutting down queue-listener")
}
