package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang-message-queue/internal/domain"
	"golang-message-queue/internal/endpoint"
	"golang-message-queue/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	tag     int64
	queue   string
	msg     domain.Message
	leased  bool
	retries int
}

// fakeRepository is an in-memory ports.QueueRepository.
type fakeRepository struct {
	mu       sync.Mutex
	next     int64
	queues   map[string]bool
	bindings map[string][]string
	rows     []*fakeRow
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{queues: map[string]bool{}, bindings: map[string][]string{}}
}

func (f *fakeRepository) DeclareQueue(ctx context.Context, name string, temporary bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[name] = temporary
	return nil
}

func (f *fakeRepository) Subscribe(ctx context.Context, topic, queue string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[queue] = false
	f.bindings[topic] = append(f.bindings[topic], queue)
	return nil
}

func (f *fakeRepository) enqueueLocked(queue string, msg domain.Message) {
	f.next++
	f.rows = append(f.rows, &fakeRow{tag: f.next, queue: queue, msg: msg})
}

func (f *fakeRepository) Enqueue(ctx context.Context, queue string, msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueueLocked(queue, msg)
	return nil
}

func (f *fakeRepository) Publish(ctx context.Context, topic string, msg domain.Message) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.bindings[topic] {
		f.enqueueLocked(q, msg)
	}
	return len(f.bindings[topic]), nil
}

func (f *fakeRepository) Claim(ctx context.Context, queue string, limit int, lease time.Duration) ([]ports.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ports.Delivery
	for _, r := range f.rows {
		if len(out) == limit {
			break
		}
		if r.queue == queue && !r.leased {
			r.leased = true
			out = append(out, ports.Delivery{Tag: r.tag, Message: r.msg})
		}
	}
	return out, nil
}

func (f *fakeRepository) find(tag int64) (int, *fakeRow) {
	for i, r := range f.rows {
		if r.tag == tag {
			return i, r
		}
	}
	return -1, nil
}

func (f *fakeRepository) Ack(ctx context.Context, tag int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, r := f.find(tag)
	if r == nil {
		return errors.New("not found")
	}
	f.rows = append(f.rows[:i], f.rows[i+1:]...)
	return nil
}

func (f *fakeRepository) Release(ctx context.Context, tag int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, r := f.find(tag)
	if r == nil {
		return errors.New("not found")
	}
	r.leased = false
	r.retries++
	return nil
}

func (f *fakeRepository) DropQueue(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.queues, name)
	kept := f.rows[:0]
	for _, r := range f.rows {
		if r.queue != name {
			kept = append(kept, r)
		}
	}
	f.rows = kept
	return nil
}

// depth counts rows of queue that are not leased.
func (f *fakeRepository) depth(queue string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.rows {
		if r.queue == queue && !r.leased {
			n++
		}
	}
	return n
}

func newEndpoint(t *testing.T, repo *fakeRepository, inbound bool, name string, pattern domain.Pattern, temporary bool, props endpoint.Properties) *endpoint.Endpoint {
	t.Helper()
	ep, err := endpoint.New(Factory(repo, 0), endpoint.WithPollingInterval(5*time.Millisecond))
	require.NoError(t, err)
	if inbound {
		require.NoError(t, ep.InitialiseInbound(context.Background(), name, pattern, temporary, props))
	} else {
		require.NoError(t, ep.InitialiseOutbound(context.Background(), name, pattern, temporary, props))
	}
	return ep
}

func TestSendAndReceive(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	out := newEndpoint(t, repo, false, "orders", domain.PatternFireAndForget, false, nil)
	in := newEndpoint(t, repo, true, "orders", domain.PatternFireAndForget, false, nil)

	require.NoError(t, out.Send(ctx, domain.NewMessage("text/plain", []byte("one"))))
	require.NoError(t, out.Send(ctx, domain.NewMessage("text/plain", []byte("two"))))

	var bodies []string
	require.NoError(t, in.Receive(ctx, func(ctx context.Context, msg domain.Message) error {
		bodies = append(bodies, string(msg.Body))
		return nil
	}, 0))

	assert.Equal(t, []string{"one", "two"}, bodies)
	assert.Empty(t, repo.rows)
}

func TestFailureReleasesRestOfBatch(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	out := newEndpoint(t, repo, false, "orders", domain.PatternFireAndForget, false, nil)
	in := newEndpoint(t, repo, true, "orders", domain.PatternFireAndForget, false, nil)

	for _, body := range []string{"a", "b", "c"} {
		require.NoError(t, out.Send(ctx, domain.NewMessage("text/plain", []byte(body))))
	}

	boom := errors.New("rejected")
	err := in.Receive(ctx, func(ctx context.Context, msg domain.Message) error {
		if string(msg.Body) == "b" {
			return boom
		}
		return nil
	}, 0)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, repo.depth("orders"))
}

func TestReceiveWaitsForArrival(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	out := newEndpoint(t, repo, false, "orders", domain.PatternFireAndForget, false, nil)
	in := newEndpoint(t, repo, true, "orders", domain.PatternFireAndForget, false, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = out.Send(ctx, domain.NewMessage("text/plain", []byte("late")))
	}()

	var got []string
	require.NoError(t, in.Receive(ctx, func(ctx context.Context, msg domain.Message) error {
		got = append(got, string(msg.Body))
		return nil
	}, 2*time.Second))
	assert.Equal(t, []string{"late"}, got)
}

func TestPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()

	ep, err := endpoint.New(Factory(repo, time.Minute))
	require.NoError(t, err)
	err = ep.InitialiseInbound(ctx, "prices", domain.PatternPublishSubscribe, false, nil)
	assert.ErrorIs(t, err, endpoint.ErrPropertyRequired)

	pub := newEndpoint(t, repo, false, "prices", domain.PatternPublishSubscribe, false, nil)
	newEndpoint(t, repo, true, "prices", domain.PatternPublishSubscribe, false, endpoint.Properties{PropertySubscription: "billing"})
	newEndpoint(t, repo, true, "prices", domain.PatternPublishSubscribe, false, endpoint.Properties{PropertySubscription: "audit"})

	require.NoError(t, pub.Send(ctx, domain.NewMessage("text/plain", []byte("tick"))))
	assert.Equal(t, 1, repo.depth("prices.billing"))
	assert.Equal(t, 1, repo.depth("prices.audit"))
}

func TestTemporaryQueueDroppedOnClose(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	in := newEndpoint(t, repo, true, "scratch", domain.PatternRequestResponse, true, nil)
	require.Contains(t, repo.queues, "scratch")
	assert.True(t, repo.queues["scratch"])

	require.NoError(t, in.Close(ctx))
	assert.NotContains(t, repo.queues, "scratch")
}

func TestGetAddressLength(t *testing.T) {
	tr := &Transport{}
	_, err := tr.GetAddress(string(make([]byte, 256)))
	assert.Error(t, err)
}
