package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	cfg "golang-message-queue/internal/config"
	"golang-message-queue/internal/domain"

	cli "github.com/urfave/cli/v2"
)

// nolint: gochecknoglobals
var (
	version = "dev"
	commit  = "main"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := getCliApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func getCliApp() *cli.App {
	return &cli.App{
		Name:    "queuectl",
		Usage:   "Send, receive and exchange messages on a queue",
		Version: version + " (" + commit + ")",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "transport",
				Usage: "memory, rabbitmq, sqs or postgres; overrides TRANSPORT",
			},
			&cli.StringFlag{
				Name:    "queue",
				Aliases: []string{"q"},
				Usage:   "Queue name; overrides QUEUE_NAME",
			},
			&cli.StringFlag{
				Name:    "pattern",
				Aliases: []string{"p"},
				Usage:   "FireAndForget, RequestResponse or PublishSubscribe; overrides QUEUE_PATTERN",
			},
			&cli.BoolFlag{
				Name:  "temporary",
				Usage: "Delete the queue when the endpoint closes",
			},
			&cli.StringFlag{
				Name:  "properties",
				Usage: "YAML file of endpoint properties; overrides PROPERTIES_FILE",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error; overrides LOG_LEVEL",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "send",
				Usage:     "Send one message",
				ArgsUsage: "<body>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "content-type", Value: "text/plain"},
					&cli.StringFlag{Name: "correlation-id"},
				},
				Action: send,
			},
			{
				Name:  "receive",
				Usage: "Receive waiting messages once and print them",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "wait", Usage: "How long to wait for a message", Value: 5 * time.Second},
				},
				Action: receive,
			},
			{
				Name:   "listen",
				Usage:  "Print messages as they arrive until interrupted",
				Action: listen,
			},
			{
				Name:      "request",
				Usage:     "Send a request and print the reply",
				ArgsUsage: "<body>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "content-type", Value: "text/plain"},
					&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second},
				},
				Action: request,
			},
			{
				Name:  "serve",
				Usage: "Answer requests by echoing them back until interrupted",
				Action: serve,
			},
			{
				Name:  "bench",
				Usage: "Send messages concurrently and report throughput",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "messages", Aliases: []string{"n"}, Value: 1000},
					&cli.IntFlag{Name: "concurrency", Aliases: []string{"c"}, Value: 50},
					&cli.IntFlag{Name: "size", Usage: "Body size in bytes", Value: 256},
				},
				Action: bench,
			},
		},
	}
}

// loadConfig reads the environment and applies the global flags on top.
func loadConfig(c *cli.Context) (cfg.Config, error) {
	conf, err := cfg.FromEnv()
	if err != nil {
		return cfg.Config{}, err
	}

	if c.IsSet("transport") {
		conf.Transport = c.String("transport")
	}
	if c.IsSet("queue") {
		conf.QueueName = c.String("queue")
	}
	if c.IsSet("pattern") {
		if conf.QueuePattern, err = domain.ParsePattern(c.String("pattern")); err != nil {
			return cfg.Config{}, err
		}
	}
	if c.IsSet("temporary") {
		conf.QueueTemporary = c.Bool("temporary")
	}
	if c.IsSet("properties") {
		conf.PropertiesFile = c.String("properties")
	}
	if c.IsSet("log-level") {
		if err := conf.LogLevel.UnmarshalText([]byte(c.String("log-level"))); err != nil {
			return cfg.Config{}, err
		}
	}
	return conf, conf.Validate()
}

func newLogger(conf cfg.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: conf.LogLevel}))
}
