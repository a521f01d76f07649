package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// AsyncTx funnels payload chunks through a single goroutine toward a slow
// sink (the link's cooperative Send, which can block on pump progress). It
// provides non-blocking enqueue semantics: when the internal buffer is full
// the configured OnDrop hook runs and its error is returned, keeping TCP
// readers from stalling behind a wedged or slow link.
//
// Life-cycle:
//
//	a := NewAsyncTx(ctx, buf, sendFn, hooks)
//	a.Send(chunk)
//	a.Close()
//
// After Close no more chunks are processed; late Send calls get
// ErrAsyncTxClosed.
type AsyncTx struct {
	mu     sync.Mutex
	ch     chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func([]byte) error
	hooks  Hooks
	closed atomic.Bool
}

// Hooks customize AsyncTx behavior per call site.
type Hooks struct {
	// OnError runs when send returns a non-nil error (chunk not delivered).
	OnError func(error)
	// OnAfter runs after each successful send.
	OnAfter func(n int)
	// OnDrop runs when the buffer is full; its error is returned from Send.
	// Nil makes overflow silent best-effort.
	OnDrop func() error
}

// ErrAsyncTxClosed is returned by Send after Close.
var ErrAsyncTxClosed = errors.New("async tx closed")

// NewAsyncTx constructs an AsyncTx with a buffered channel of size buf.
func NewAsyncTx(parent context.Context, buf int, send func([]byte) error, hooks Hooks) *AsyncTx {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		ch:     make(chan []byte, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case p, ok := <-a.ch:
			if !ok {
				return
			}
			if err := a.send(p); err != nil {
				if a.hooks.OnError != nil {
					a.hooks.OnError(err)
				}
				continue
			}
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter(len(p))
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// Send queues a chunk for asynchronous delivery, or returns the drop error
// when the buffer is full. The chunk is owned by the AsyncTx afterward.
func (a *AsyncTx) Send(p []byte) error {
	// fast path so steady-state sends skip the lock once shut down
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- p:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// Close stops the worker and waits for it to exit.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
