package endpoint

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type listenLoop struct {
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	err      error
}

func (l *listenLoop) requestStop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Listen starts polling the queue on a dedicated goroutine and hands every
// message to handler. It returns immediately. If a loop is already running,
// or the endpoint is closed, the call does nothing.
//
// The loop ends when ctx is cancelled or Stop is called. A failed receive is
// logged and reported to the error handler; the loop keeps going and waits
// the polling interval before the next attempt either way.
func (e *Endpoint) Listen(ctx context.Context, handler Handler) {
	// Close marks the endpoint under loopMu, so a loop is either installed
	// before Close stops it or never started.
	e.loopMu.Lock()
	defer e.loopMu.Unlock()

	if e.closed.Load() {
		return
	}
	if !e.listening.CompareAndSwap(false, true) {
		return
	}

	l := &listenLoop{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	e.loop = l

	e.metrics.setListening(e.address, true)
	go e.listen(ctx, handler, l)
}

func (e *Endpoint) listen(ctx context.Context, handler Handler, l *listenLoop) {
	log := e.Logger()
	log.Info("listening", "interval", e.pollingInterval)

	defer func() {
		e.metrics.setListening(e.address, false)
		e.listening.Store(false)
		close(l.done)
	}()

	timer := time.NewTimer(e.pollingInterval)
	defer timer.Stop()

	for {
		select {
		case <-l.stop:
			log.Info("listening stopped")
			return
		default:
		}
		if err := ctx.Err(); err != nil {
			l.err = err
			log.Info("listening cancelled", "err", err)
			return
		}

		if err := e.Poll(ctx, handler, true, 0); err != nil && ctx.Err() == nil {
			e.metrics.receiveFailed(e.address)
			e.report(fmt.Errorf("receive from %s: %w", e.address, err))
		}

		timer.Reset(e.pollingInterval)
		select {
		case <-timer.C:
		case <-l.stop:
		case <-ctx.Done():
		}
	}
}

// Stop asks the running listen loop, if any, to exit after its current
// iteration. It does not wait; use Wait for that.
func (e *Endpoint) Stop() {
	e.loopMu.Lock()
	l := e.loop
	e.loopMu.Unlock()
	if l != nil {
		l.requestStop()
	}
}

// Wait blocks until the most recently started listen loop has exited. It
// returns the context error when the loop ended through cancellation and nil
// when it was stopped or never started.
func (e *Endpoint) Wait() error {
	e.loopMu.Lock()
	l := e.loop
	e.loopMu.Unlock()
	if l == nil {
		return nil
	}
	<-l.done
	return l.err
}
