package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"golang-message-queue/internal/adapters/queue/memory"
	cfg "golang-message-queue/internal/config"
	"golang-message-queue/internal/domain"
	"golang-message-queue/internal/endpoint"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cli "github.com/urfave/cli/v2"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	app := getCliApp()
	app.Writer = &buf
	app.ErrWriter = &buf
	err := app.Run(append([]string{"queuectl"}, args...))
	return buf.String(), err
}

func TestSendPrintsMessageID(t *testing.T) {
	out, err := runApp(t, "--transport", "memory", "--queue", "jobs", "send", "hello")
	require.NoError(t, err)

	_, err = uuid.Parse(strings.TrimSpace(out))
	assert.NoError(t, err)
}

func TestSendRequiresBody(t *testing.T) {
	_, err := runApp(t, "--transport", "memory", "send")
	assert.Error(t, err)
}

func TestReceiveEmptyQueue(t *testing.T) {
	out, err := runApp(t, "--transport", "memory", "--queue", "jobs", "receive", "--wait", "0s")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestUnknownPattern(t *testing.T) {
	_, err := runApp(t, "--transport", "memory", "--pattern", "Broadcast", "send", "hi")
	assert.ErrorIs(t, err, domain.ErrUnknownPattern)
}

func TestUnknownTransport(t *testing.T) {
	_, err := runApp(t, "--transport", "kafka", "send", "hi")
	assert.ErrorContains(t, err, "kafka")
}

// loadWithFlags runs only the global flags through loadConfig.
func loadWithFlags(t *testing.T, args ...string) cfg.Config {
	t.Helper()
	var conf cfg.Config
	app := getCliApp()
	app.Commands = nil
	app.Action = func(c *cli.Context) error {
		var err error
		conf, err = loadConfig(c)
		return err
	}
	require.NoError(t, app.Run(append([]string{"queuectl"}, args...)))
	return conf
}

func TestLogLevelFromEnvironment(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")

	conf := loadWithFlags(t, "--transport", "memory")
	assert.Equal(t, slog.LevelDebug, conf.LogLevel)

	conf = loadWithFlags(t, "--transport", "memory", "--log-level", "error")
	assert.Equal(t, slog.LevelError, conf.LogLevel)
}

func TestBenchRejectsNegativeArguments(t *testing.T) {
	for _, arg := range []string{"--size=-1", "--messages=-5", "--concurrency=0"} {
		_, err := runApp(t, "--transport", "memory", "bench", arg)
		assert.Error(t, err, arg)
	}
}

func TestRunBench(t *testing.T) {
	ctx := context.Background()
	broker := memory.NewBroker()

	out, err := endpoint.New(broker.Factory())
	require.NoError(t, err)
	require.NoError(t, out.InitialiseOutbound(ctx, "bench", domain.PatternFireAndForget, false, nil))

	result := runBench(ctx, out, 40, 8, 16)

	assert.Equal(t, 40, result.TotalMessages)
	assert.Equal(t, int32(40), result.SuccessCount)
	assert.Zero(t, result.FailureCount)
	assert.Equal(t, 40, broker.Depth(out.Address()))
	assert.LessOrEqual(t, result.MinSendTime, result.MaxSendTime)
}

type flakySender struct {
	calls atomic.Int32
}

func (f *flakySender) Send(ctx context.Context, msg domain.Message) error {
	if f.calls.Add(1)%2 == 0 {
		return errors.New("broker unavailable")
	}
	return nil
}

func TestRunBenchCountsFailures(t *testing.T) {
	result := runBench(context.Background(), &flakySender{}, 10, 3, 1)

	assert.Equal(t, int32(5), result.SuccessCount)
	assert.Equal(t, int32(5), result.FailureCount)
	assert.Equal(t, 5, result.Errors["broker unavailable"])

	var buf bytes.Buffer
	printResults(&buf, result)
	assert.Contains(t, buf.String(), "broker unavailable: 5 times")
}
