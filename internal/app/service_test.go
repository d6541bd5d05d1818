package app

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"golang-message-queue/internal/adapters/queue/memory"
	"golang-message-queue/internal/domain"
	"golang-message-queue/internal/endpoint"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLog = slog.New(slog.DiscardHandler)

type fixture struct {
	broker *memory.Broker
	out    *endpoint.Endpoint
	in     *endpoint.Endpoint
}

func newFixture(t *testing.T, pattern domain.Pattern) fixture {
	t.Helper()
	ctx := context.Background()
	b := memory.NewBroker()

	out, err := endpoint.New(b.Factory(), endpoint.WithLogger(testLog), endpoint.WithPollingInterval(5*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, out.InitialiseOutbound(ctx, "rpc", pattern, false, nil))

	in, err := endpoint.New(b.Factory(), endpoint.WithLogger(testLog), endpoint.WithPollingInterval(5*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, in.InitialiseInbound(ctx, "rpc", pattern, false, nil))

	t.Cleanup(func() {
		_ = out.Close(ctx)
		_ = in.Close(ctx)
	})
	return fixture{broker: b, out: out, in: in}
}

func TestSendAndReceive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, domain.PatternFireAndForget)
	svc := NewQueueService(f.out, f.in, testLog)

	sent, err := svc.Send(ctx, SendRequest{
		ContentType: "application/json",
		Body:        []byte(`{"n":1}`),
		Headers:     map[string]string{"tenant": "acme"},
	})
	require.NoError(t, err)

	msgs, err := svc.Receive(ctx, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)
	assert.Equal(t, "acme", msgs[0].Headers["tenant"])

	msgs, err = svc.Receive(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestReceiveWithoutInbound(t *testing.T) {
	f := newFixture(t, domain.PatternFireAndForget)
	svc := NewQueueService(f.out, nil, testLog)

	_, err := svc.Receive(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNoInbound)
}

func TestRequestReply(t *testing.T) {
	f := newFixture(t, domain.PatternRequestResponse)
	svc := NewQueueService(f.out, nil, testLog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	upper := ResponderFunc(func(ctx context.Context, req domain.Message) (domain.Message, error) {
		return domain.NewReply(req, "text/plain", []byte("pong:"+string(req.Body))), nil
	})
	served := make(chan error, 1)
	go func() { served <- NewServer(f.in, upper, testLog).Serve(ctx) }()

	reply, err := svc.Request(ctx, SendRequest{ContentType: "text/plain", Body: []byte("ping")}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong:ping", string(reply.Body))

	cancel()
	assert.ErrorIs(t, <-served, context.Canceled)
}

func TestRequestTimesOutWithoutServer(t *testing.T) {
	f := newFixture(t, domain.PatternRequestResponse)
	svc := NewQueueService(f.out, nil, testLog)

	start := time.Now()
	_, err := svc.Request(context.Background(), SendRequest{Body: []byte("ping")}, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrRequestTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 1, f.broker.Depth(memory.Scheme+"rpc"))
}

func TestRequestDiscardsUncorrelatedReplies(t *testing.T) {
	f := newFixture(t, domain.PatternRequestResponse)
	svc := NewQueueService(f.out, nil, testLog)

	ctx := context.Background()
	stray := ResponderFunc(func(ctx context.Context, req domain.Message) (domain.Message, error) {
		reply := domain.NewMessage("text/plain", []byte("stray"))
		reply.CorrelationID = "someone-else"
		return reply, nil
	})
	go func() {
		srv := NewServer(f.in, stray, testLog)
		_ = f.in.Receive(ctx, srv.handle, time.Second)
	}()

	_, err := svc.Request(ctx, SendRequest{Body: []byte("ping")}, 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrRequestTimeout)
}

func TestRequestSendFailure(t *testing.T) {
	f := newFixture(t, domain.PatternRequestResponse)
	svc := NewQueueService(f.out, nil, testLog)
	require.NoError(t, f.out.Close(context.Background()))

	_, err := svc.Request(context.Background(), SendRequest{Body: []byte("ping")}, time.Second)
	assert.Error(t, err)
}

func TestServerReportsResponderErrors(t *testing.T) {
	ctx := context.Background()
	b := memory.NewBroker()

	errs := make(chan error, 1)
	in, err := endpoint.New(b.Factory(),
		endpoint.WithLogger(testLog),
		endpoint.WithPollingInterval(5*time.Millisecond),
		endpoint.WithErrorHandler(func(err error) {
			select {
			case errs <- err:
			default:
			}
		}),
	)
	require.NoError(t, err)
	require.NoError(t, in.InitialiseInbound(ctx, "rpc", domain.PatternRequestResponse, false, nil))

	out, err := endpoint.New(b.Factory())
	require.NoError(t, err)
	require.NoError(t, out.InitialiseOutbound(ctx, "rpc", domain.PatternRequestResponse, false, nil))

	boom := errors.New("cannot answer")
	failing := ResponderFunc(func(context.Context, domain.Message) (domain.Message, error) {
		return domain.Message{}, boom
	})

	lctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = NewServer(in, failing, testLog).Serve(lctx) }()

	require.NoError(t, out.Send(ctx, domain.NewMessage("text/plain", []byte("ping"))))
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("responder error not reported")
	}
}

func TestEcho(t *testing.T) {
	req := domain.NewMessage("text/plain", []byte("hello"))
	reply, err := Echo.Respond(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req.Body, reply.Body)
	assert.Equal(t, req.ID.String(), reply.CorrelationID)
}
