// Package gateway is the dispatch layer around a safety profile. It owns the
// per-bus ports and drives every hook from a single goroutine: received
// frames go through Receive and Forward, upstream transmit requests through
// TransmitErr, and a periodic tick through the staleness monitor.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
	"github.com/kstaniek/go-can-safety-gateway/internal/logging"
	"github.com/kstaniek/go-can-safety-gateway/internal/metrics"
	"github.com/kstaniek/go-can-safety-gateway/internal/safety"
	"github.com/kstaniek/go-can-safety-gateway/internal/transport"
)

// Sentinel errors; classify with errors.Is.
var (
	ErrQueueFull  = errors.New("gateway queue full")
	ErrUnknownBus = errors.New("unknown bus")
	ErrBlocked    = errors.New("transmit blocked")
	ErrStopped    = errors.New("gateway stopped")
)

const (
	defaultQueueSize    = 1024
	defaultTickInterval = time.Second
)

// Tap receives a copy of every frame read from a vehicle bus.
type Tap interface {
	Broadcast(can.Frame)
}

type txRequest struct {
	fr    can.Frame
	reply chan error
}

// Gateway serializes all safety decisions. Ingest and Submit may be called
// from any goroutine; the hooks only ever run inside Run.
type Gateway struct {
	hooks safety.Hooks
	ports [can.MaxBus]transport.FrameSink
	tap   Tap
	param uint16

	clk      clock.Clock
	tick     time.Duration
	queueLen int
	log      *slog.Logger

	rx   chan can.Frame
	tx   chan txRequest
	done chan struct{}

	running   atomic.Bool
	received  atomic.Uint64
	forwarded atomic.Uint64
	permitted atomic.Uint64
	blocked   atomic.Uint64
}

type Option func(*Gateway)

func WithClock(clk clock.Clock) Option { return func(g *Gateway) { g.clk = clk } }
func WithTap(t Tap) Option             { return func(g *Gateway) { g.tap = t } }
func WithParam(p uint16) Option        { return func(g *Gateway) { g.param = p } }

func WithTickInterval(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.tick = d
		}
	}
}

func WithQueueSize(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.queueLen = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

// New builds a gateway around hooks. Ports are attached with Attach before Run.
func New(hooks safety.Hooks, opts ...Option) *Gateway {
	g := &Gateway{
		hooks:    hooks,
		clk:      clock.New(),
		tick:     defaultTickInterval,
		queueLen: defaultQueueSize,
		log:      logging.L(),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(g)
	}
	g.rx = make(chan can.Frame, g.queueLen)
	g.tx = make(chan txRequest, g.queueLen)
	return g
}

// Attach binds bus to a port. It must not be called once Run has started.
func (g *Gateway) Attach(bus uint8, p transport.FrameSink) error {
	if int(bus) >= len(g.ports) {
		return fmt.Errorf("%w: %d", ErrUnknownBus, bus)
	}
	if g.running.Load() {
		return errors.New("attach after run")
	}
	g.ports[bus] = p
	return nil
}

// Ingest queues a frame read from a vehicle bus. It never blocks; when the
// queue is full the frame is dropped with ErrQueueFull.
func (g *Gateway) Ingest(fr can.Frame) error {
	if int(fr.Bus) >= len(g.ports) {
		return fmt.Errorf("%w: %d", ErrUnknownBus, fr.Bus)
	}
	select {
	case g.rx <- fr:
		return nil
	default:
		metrics.IncError(metrics.ErrGatewayQueue)
		return ErrQueueFull
	}
}

// Submit asks to transmit fr on fr.Bus and waits for the verdict. A refused
// frame returns an error wrapping ErrBlocked and every violation found.
func (g *Gateway) Submit(ctx context.Context, fr can.Frame) error {
	req := txRequest{fr: fr, reply: make(chan error, 1)}
	select {
	case g.tx <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-g.done:
		return ErrStopped
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-g.done:
		return ErrStopped
	}
}

// Run initializes the profile and processes events until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	if g.running.Swap(true) {
		return errors.New("gateway already running")
	}
	defer close(g.done)

	checked := 0
	if checks := g.hooks.Init(g.param); checks != nil {
		checked = len(checks.Groups)
	}
	g.log.Info("gateway_start", "param", g.param, "checked_messages", checked, "buses", g.attached())

	t := g.clk.Ticker(g.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			g.log.Info("gateway_summary",
				"received", g.received.Load(),
				"forwarded", g.forwarded.Load(),
				"tx_permitted", g.permitted.Load(),
				"tx_blocked", g.blocked.Load(),
			)
			return nil
		case fr := <-g.rx:
			g.handleRx(fr)
		case req := <-g.tx:
			req.reply <- g.handleTx(req.fr)
		case <-t.C:
			g.hooks.Tick()
		}
	}
}

func (g *Gateway) handleRx(fr can.Frame) {
	g.received.Add(1)
	g.hooks.Receive(&fr)
	if g.tap != nil {
		g.tap.Broadcast(fr)
	}
	route := g.hooks.Forward(fr.Bus, &fr)
	for _, b := range route.Buses() {
		p := g.ports[b]
		if p == nil {
			continue
		}
		out := fr
		out.Bus = b
		if err := p.SendFrame(out); err != nil {
			metrics.IncError(metrics.ErrForward)
			g.log.Debug("forward_error", "src", fr.Bus, "dst", b, "can_id", fmt.Sprintf("0x%X", fr.CANID), "error", err)
			continue
		}
		g.forwarded.Add(1)
		metrics.IncForwarded(b)
	}
}

func (g *Gateway) handleTx(fr can.Frame) error {
	if int(fr.Bus) >= len(g.ports) || g.ports[fr.Bus] == nil {
		return fmt.Errorf("%w: %d", ErrUnknownBus, fr.Bus)
	}
	long := g.hooks.ControlsAllowed()
	if tc, ok := g.hooks.(safety.TxChecker); ok {
		if err := tc.TransmitErr(&fr, long); err != nil {
			g.blocked.Add(1)
			return fmt.Errorf("%w: %w", ErrBlocked, err)
		}
	} else if !g.hooks.Transmit(&fr, long) {
		g.blocked.Add(1)
		return ErrBlocked
	}
	g.permitted.Add(1)
	return g.ports[fr.Bus].SendFrame(fr)
}

func (g *Gateway) attached() []uint8 {
	var out []uint8
	for i, p := range g.ports {
		if p != nil {
			out = append(out, uint8(i))
		}
	}
	return out
}

// Stats is a snapshot of the gateway counters.
type Stats struct {
	Received    uint64
	Forwarded   uint64
	TxPermitted uint64
	TxBlocked   uint64
}

func (g *Gateway) Stats() Stats {
	return Stats{
		Received:    g.received.Load(),
		Forwarded:   g.forwarded.Load(),
		TxPermitted: g.permitted.Load(),
		TxBlocked:   g.blocked.Load(),
	}
}
