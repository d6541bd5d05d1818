package endpoint

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang-message-queue/internal/domain"
)

// fakeTransport records calls and lets each test script Receive.
type fakeTransport struct {
	mu   sync.Mutex
	sent []domain.Message

	setupFn   func(ep *Endpoint) error
	receiveFn func(ctx context.Context, ep *Endpoint, h Handler, processAsync bool, maxWait time.Duration) error

	receiveCalls atomic.Int32
	active       atomic.Int32
	maxActive    atomic.Int32
	lastAsync    atomic.Bool
	lastMaxWait  atomic.Int64
	closeCalls   atomic.Int32
}

func (f *fakeTransport) GetAddress(name string) (string, error) {
	if strings.HasPrefix(name, "fake://") {
		return name, nil
	}
	return "fake://" + name, nil
}

func (f *fakeTransport) Setup(ctx context.Context, ep *Endpoint) error {
	if f.setupFn != nil {
		return f.setupFn(ep)
	}
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, ep *Endpoint, msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context, ep *Endpoint, h Handler, processAsync bool, maxWait time.Duration) error {
	f.receiveCalls.Add(1)
	f.lastAsync.Store(processAsync)
	f.lastMaxWait.Store(int64(maxWait))

	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		cur := f.maxActive.Load()
		if n <= cur || f.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	if f.receiveFn != nil {
		return f.receiveFn(ctx, ep, h, processAsync, maxWait)
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeCalls.Add(1)
	return nil
}

func (f *fakeTransport) sentMessages() []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.sent...)
}

// deletingTransport adds queue deletion to fakeTransport.
type deletingTransport struct {
	*fakeTransport
	deletes atomic.Int32
}

func (d *deletingTransport) DeleteQueue(ctx context.Context, ep *Endpoint) error {
	d.deletes.Add(1)
	return nil
}
