package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
)

// ErrAsyncTxClosed is returned by SendFrame after Close.
var ErrAsyncTxClosed = errors.New("async tx closed")

// AsyncTx funnels the writes for one bus through a single goroutine.
// SendFrame never blocks: when the buffer is full the OnDrop hook decides
// the error returned to the caller, so a wedged device cannot stall the
// gateway dispatch loop.
//
//	a := NewAsyncTx(ctx, bus, buf, sendFn, hooks)
//	a.SendFrame(frame)
//	a.Close()
type AsyncTx struct {
	bus    uint8
	mu     sync.Mutex
	ch     chan can.Frame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(can.Frame) error
	hooks  Hooks
	closed atomic.Bool

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// Hooks let each backend keep its own metrics and logging.
type Hooks struct {
	// OnError is called when send fails; the frame is lost.
	OnError func(bus uint8, err error)
	// OnAfter is called after a successful send.
	OnAfter func(bus uint8)
	// OnDrop is called when the buffer is full and its error is returned from
	// SendFrame. A nil OnDrop drops silently.
	OnDrop func(bus uint8) error
}

// NewAsyncTx starts a transmit worker for bus with a buffer of buf frames.
func NewAsyncTx(parent context.Context, bus uint8, buf int, send func(can.Frame) error, hooks Hooks) *AsyncTx {
	if buf < 1 {
		buf = 1
	}
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		bus:    bus,
		ch:     make(chan can.Frame, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

// Bus is the bus index this worker writes to.
func (a *AsyncTx) Bus() uint8 { return a.bus }

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case fr, ok := <-a.ch:
			if !ok {
				return
			}
			fr.Bus = a.bus
			if err := a.send(fr); err != nil {
				a.failed.Add(1)
				if a.hooks.OnError != nil {
					a.hooks.OnError(a.bus, err)
				}
				continue
			}
			a.sent.Add(1)
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter(a.bus)
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// SendFrame queues fr for transmission on the worker's bus.
func (a *AsyncTx) SendFrame(fr can.Frame) error {
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- fr:
		return nil
	default:
		a.dropped.Add(1)
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop(a.bus)
		}
		return nil
	}
}

// TxStats counts worker outcomes.
type TxStats struct {
	Sent    uint64
	Failed  uint64
	Dropped uint64
	Queued  int
}

func (a *AsyncTx) Stats() TxStats {
	return TxStats{
		Sent:    a.sent.Load(),
		Failed:  a.failed.Load(),
		Dropped: a.dropped.Load(),
		Queued:  len(a.ch),
	}
}

// Close stops the worker and waits for it to exit. Queued frames are discarded.
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
