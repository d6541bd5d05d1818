package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"golang-message-queue/internal/domain"

	"github.com/google/uuid"
)

// DefaultPollingInterval is the pause between two receive attempts of a
// listen loop.
const DefaultPollingInterval = 100 * time.Millisecond

// Handler processes a single received message.
type Handler func(ctx context.Context, msg domain.Message) error

// Transport is the broker-specific half of an endpoint.
type Transport interface {
	// GetAddress maps a logical queue name to the transport address. It must
	// be deterministic and return an already-resolved address unchanged.
	GetAddress(name string) (string, error)

	// Setup runs after the endpoint is initialised, e.g. to declare the queue
	// or check required properties with RequireProperty.
	Setup(ctx context.Context, ep *Endpoint) error

	// Send delivers one message to ep's address.
	Send(ctx context.Context, ep *Endpoint, msg domain.Message) error

	// Receive hands every available message to handler through ep.Dispatch.
	// With maxWait == 0 it makes a single poll attempt; otherwise it returns
	// no later than maxWait.
	Receive(ctx context.Context, ep *Endpoint, handler Handler, processAsync bool, maxWait time.Duration) error

	// Close releases connections held by the transport.
	Close() error
}

// QueueDeleter is implemented by transports able to remove a queue. Endpoints
// over other transports treat deletion as a no-op.
type QueueDeleter interface {
	DeleteQueue(ctx context.Context, ep *Endpoint) error
}

// Factory creates a fresh Transport for a new endpoint.
type Factory func() (Transport, error)

// Static returns a Factory that always hands out t.
func Static(t Transport) Factory {
	return func() (Transport, error) { return t, nil }
}

// Endpoint errors
var (
	ErrEmptyName          = errors.New("queue name is empty")
	ErrAlreadyInitialised = errors.New("endpoint already initialised")
	ErrNotInitialised     = errors.New("endpoint not initialised")
	ErrClosed             = errors.New("endpoint closed")
	ErrHandlerPanic       = errors.New("handler panicked")
)

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithLogger sets the logger used for loop and handler failures.
func WithLogger(log *slog.Logger) Option {
	return func(e *Endpoint) { e.log = log }
}

// WithPollingInterval overrides DefaultPollingInterval.
func WithPollingInterval(d time.Duration) Option {
	return func(e *Endpoint) {
		if d > 0 {
			e.pollingInterval = d
		}
	}
}

// WithErrorHandler registers fn to observe errors contained by the listen
// loop and by asynchronous handlers.
func WithErrorHandler(fn func(error)) Option {
	return func(e *Endpoint) { e.onError = fn }
}

// WithMetrics records endpoint activity in m.
func WithMetrics(m *Metrics) Option {
	return func(e *Endpoint) { e.metrics = m }
}

// Endpoint is one logical queue, inbound or outbound. Its identity (address,
// pattern, direction) is fixed by the first successful InitialiseInbound or
// InitialiseOutbound call.
type Endpoint struct {
	factory   Factory
	transport Transport
	opts      []Option

	log             *slog.Logger
	metrics         *Metrics
	onError         func(error)
	pollingInterval time.Duration

	initialised atomic.Bool
	address     string
	pattern     domain.Pattern
	direction   domain.Direction
	temporary   bool
	properties  Properties

	listening atomic.Bool
	loopMu    sync.Mutex
	loop      *listenLoop

	inflight  sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New builds an uninitialised endpoint over a transport obtained from factory.
func New(factory Factory, opts ...Option) (*Endpoint, error) {
	t, err := factory()
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	e := &Endpoint{
		factory:         factory,
		transport:       t,
		opts:            opts,
		log:             slog.Default(),
		pollingInterval: DefaultPollingInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// InitialiseInbound configures the endpoint to receive from name.
func (e *Endpoint) InitialiseInbound(ctx context.Context, name string, pattern domain.Pattern, isTemporary bool, props Properties) error {
	return e.initialiseAndSetup(ctx, domain.DirectionInbound, name, pattern, isTemporary, props)
}

// InitialiseOutbound configures the endpoint to send to name.
func (e *Endpoint) InitialiseOutbound(ctx context.Context, name string, pattern domain.Pattern, isTemporary bool, props Properties) error {
	return e.initialiseAndSetup(ctx, domain.DirectionOutbound, name, pattern, isTemporary, props)
}

func (e *Endpoint) initialiseAndSetup(ctx context.Context, direction domain.Direction, name string, pattern domain.Pattern, isTemporary bool, props Properties) error {
	if err := e.initialise(direction, name, pattern, isTemporary, props); err != nil {
		return err
	}
	if err := e.transport.Setup(ctx, e); err != nil {
		return fmt.Errorf("setup %s queue %s: %w", direction, e.address, err)
	}
	return nil
}

func (e *Endpoint) initialise(direction domain.Direction, name string, pattern domain.Pattern, isTemporary bool, props Properties) error {
	if name == "" {
		return ErrEmptyName
	}
	if !pattern.Valid() {
		return fmt.Errorf("%w: %s", domain.ErrUnknownPattern, pattern)
	}
	if !e.initialised.CompareAndSwap(false, true) {
		return ErrAlreadyInitialised
	}

	address, err := e.transport.GetAddress(name)
	if err != nil {
		e.initialised.Store(false)
		return fmt.Errorf("get address for %q: %w", name, err)
	}

	e.direction = direction
	e.pattern = pattern
	e.temporary = isTemporary
	e.address = address
	if props == nil {
		e.properties = Properties{}
	} else {
		e.properties = maps.Clone(props)
	}
	return nil
}

func (e *Endpoint) Address() string { return e.address }

func (e *Endpoint) Pattern() domain.Pattern { return e.pattern }

func (e *Endpoint) Direction() domain.Direction { return e.direction }

func (e *Endpoint) IsTemporary() bool { return e.temporary }

// IsListening reports whether a listen loop is active.
func (e *Endpoint) IsListening() bool { return e.listening.Load() }

func (e *Endpoint) PollingInterval() time.Duration { return e.pollingInterval }

// Properties returns a copy of the configuration bag.
func (e *Endpoint) Properties() Properties {
	return maps.Clone(e.properties)
}

// Logger is the endpoint's logger, for transports that log per queue.
func (e *Endpoint) Logger() *slog.Logger {
	return e.log.With("address", e.address, "pattern", e.pattern.String())
}

func (e *Endpoint) ready() error {
	if e.closed.Load() {
		return ErrClosed
	}
	if !e.initialised.Load() {
		return ErrNotInitialised
	}
	return nil
}

// Send delivers msg through the transport. A missing ID or timestamp is
// filled in. Transport errors are returned to the caller.
func (e *Endpoint) Send(ctx context.Context, msg domain.Message) error {
	if err := e.ready(); err != nil {
		return err
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	if err := e.transport.Send(ctx, e, msg); err != nil {
		return err
	}
	e.metrics.sent(e.address)
	return nil
}

// Poll makes one receive attempt, invoking handler for each available
// message. With processAsync the handlers run on their own goroutines.
func (e *Endpoint) Poll(ctx context.Context, handler Handler, processAsync bool, maxWait time.Duration) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.metrics.received(e.address)
	return e.transport.Receive(ctx, e, handler, processAsync, maxWait)
}

// Receive polls synchronously: handler has returned for every delivered
// message by the time Receive does.
func (e *Endpoint) Receive(ctx context.Context, handler Handler, maxWait time.Duration) error {
	return e.Poll(ctx, handler, false, maxWait)
}

// Dispatch is called by transports for every message they take off the
// queue. settle, when not nil, gets the handler's result so the transport can
// ack or requeue. In synchronous mode the handler's error is also returned.
func (e *Endpoint) Dispatch(ctx context.Context, handler Handler, msg domain.Message, processAsync bool, settle func(error)) error {
	if !processAsync {
		err := e.invoke(ctx, handler, msg)
		if settle != nil {
			settle(err)
		}
		return err
	}

	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		err := e.invoke(ctx, handler, msg)
		if err != nil {
			e.report(fmt.Errorf("handle message %s: %w", msg.ID, err))
		}
		if settle != nil {
			settle(err)
		}
	}()
	return nil
}

func (e *Endpoint) invoke(ctx context.Context, handler Handler, msg domain.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
		if err != nil {
			e.metrics.handlerFailed(e.address)
		}
	}()
	return handler(ctx, msg)
}

// report surfaces an error the endpoint contains instead of returning.
func (e *Endpoint) report(err error) {
	e.log.Error("endpoint error", "address", e.address, "err", err)
	if e.onError != nil {
		e.onError(err)
	}
}

// DeleteQueue removes the underlying queue when the transport supports it.
func (e *Endpoint) DeleteQueue(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}
	d, ok := e.transport.(QueueDeleter)
	if !ok {
		return nil
	}
	return d.DeleteQueue(ctx, e)
}

// ResponseQueue creates a temporary inbound endpoint that replies to requests
// sent from e can be addressed to.
func (e *Endpoint) ResponseQueue(ctx context.Context) (*Endpoint, error) {
	if e.pattern != domain.PatternRequestResponse {
		return nil, fmt.Errorf("%w: response queue for %s", domain.ErrPatternUnsupported, e.pattern)
	}

	rq, err := New(e.factory, e.opts...)
	if err != nil {
		return nil, err
	}
	name := "response-" + uuid.NewString()
	if err := rq.InitialiseInbound(ctx, name, domain.PatternRequestResponse, true, e.properties); err != nil {
		_ = rq.transport.Close()
		return nil, fmt.Errorf("initialise response queue: %w", err)
	}
	return rq, nil
}

// ReplyQueue creates an outbound endpoint addressed at msg's response address.
func (e *Endpoint) ReplyQueue(ctx context.Context, msg domain.Message) (*Endpoint, error) {
	if e.pattern != domain.PatternRequestResponse {
		return nil, fmt.Errorf("%w: reply queue for %s", domain.ErrPatternUnsupported, e.pattern)
	}
	if msg.ResponseAddress == "" {
		return nil, domain.ErrNoResponseAddress
	}

	rq, err := New(e.factory, e.opts...)
	if err != nil {
		return nil, err
	}
	if err := rq.InitialiseOutbound(ctx, msg.ResponseAddress, domain.PatternRequestResponse, false, e.properties); err != nil {
		_ = rq.transport.Close()
		return nil, fmt.Errorf("initialise reply queue: %w", err)
	}
	return rq, nil
}

// Close stops any listen loop, waits for asynchronous handlers, deletes the
// queue if it is temporary and releases the transport. Only the first call
// does any work; later calls return its result.
func (e *Endpoint) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.loopMu.Lock()
		e.closed.Store(true)
		e.loopMu.Unlock()

		e.Stop()
		_ = e.Wait()
		e.inflight.Wait()

		var errs []error
		if e.temporary && e.initialised.Load() {
			if d, ok := e.transport.(QueueDeleter); ok {
				if err := d.DeleteQueue(ctx, e); err != nil {
					errs = append(errs, fmt.Errorf("delete queue %s: %w", e.address, err))
				}
			}
		}

		if err := e.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
		e.closeErr = errors.Join(errs...)
	})
	return e.closeErr
}
