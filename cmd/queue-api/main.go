package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang-message-queue/internal/adapters/queue"
	"golang-message-queue/internal/app"
	cfg "golang-message-queue/internal/config"
	"golang-message-queue/internal/domain"
	"golang-message-queue/internal/endpoint"
	"golang-message-queue/internal/middleware"
	"golang-message-queue/internal/ports"
	"golang-message-queue/internal/transport"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
	if err := run(log); err != nil {
		log.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	conf, err := cfg.FromEnv()
	if err != nil {
		return err
	}
	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true, Level: conf.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	factory, closeFactory, err := queue.Factory(ctx, conf)
	if err != nil {
		return fmt.Errorf("failed to set up %s transport: %w", conf.Transport, err)
	}
	defer closeFactory()

	metrics := endpoint.NewMetrics(conf.MetricsNamespace)
	opts := []endpoint.Option{endpoint.WithLogger(log), endpoint.WithMetrics(metrics)}

	out, err := queue.Open(ctx, factory, conf, domain.DirectionOutbound, opts...)
	if err != nil {
		return err
	}
	defer out.Close(context.WithoutCancel(ctx))

	// A PublishSubscribe topic has a queue to receive from only when a
	// subscription is configured.
	var (
		in     ports.MessageReceiver
		cfgErr *endpoint.ConfigurationError
	)
	inbound, err := queue.Open(ctx, factory, conf, domain.DirectionInbound, opts...)
	switch {
	case err == nil:
		defer inbound.Close(context.WithoutCancel(ctx))
		in = inbound
	case errors.As(err, &cfgErr) && cfgErr.Pattern == domain.PatternPublishSubscribe:
		log.Warn("receiving disabled", "queue", conf.QueueName, "missing_property", cfgErr.Property)
	default:
		return err
	}

	svc := app.NewQueueService(out, in, log)

	fiberApp := fiber.New(fiber.Config{
		AppName:               "queue-api",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// long enough for the slowest request/reply round trip
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  120 * time.Second,
		// OWASP: Disable server header to reduce information disclosure
		ServerHeader: "",
		// OWASP: Limit body size to prevent memory exhaustion attacks
		BodyLimit: 1 * 1024 * 1024, // 1MB
	})

	// ═══════════════════════════════════════════════════════════
	// Global Middleware
	// ═══════════════════════════════════════════════════════════

	// 1. Panic Recovery
	fiberApp.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 2. Request Logging
	fiberApp.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} - ${method} ${path} ${latency}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	// 3. Request ID
	fiberApp.Use(middleware.RequestID())

	// 4. Security Headers
	fiberApp.Use(middleware.SecurityHeaders())

	// 5. CORS
	fiberApp.Use(middleware.CORS(conf.AllowedOrigins))

	// 6. Rate Limiting: 100 requests per minute per IP
	fiberApp.Use(middleware.RateLimit(100, 1*time.Minute))

	// ═══════════════════════════════════════════════════════════
	// Routes
	// ═══════════════════════════════════════════════════════════

	fiberApp.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})
	fiberApp.Get("/metrics", transport.MetricsHandler(metrics.Registry()))

	handler := transport.NewHandler(svc, log)
	api := fiberApp.Group("/api")
	handler.Register(api)

	errChan := make(chan error, 1)
	go func() {
		log.Info("queue-api started",
			"addr", conf.HTTPAddr,
			"transport", conf.Transport,
			"queue", out.Address(),
			"pattern", conf.QueuePattern.String(),
		)
		if err := fiberApp.Listen(conf.HTTPAddr); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := fiberApp.ShutdownWithContext(shutdownCtx); err != nil {
		return errors.New("failed to shutdown gracefully: " + err.Error())
	}

	log.Info("queue-api stopped gracefully")
	return nil
}
