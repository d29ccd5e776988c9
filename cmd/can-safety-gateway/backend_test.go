package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
	"github.com/kstaniek/go-can-safety-gateway/internal/gateway"
	"github.com/kstaniek/go-can-safety-gateway/internal/metrics"
	"github.com/kstaniek/go-can-safety-gateway/internal/serial"
	"github.com/kstaniek/go-can-safety-gateway/internal/socketcan"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeIngester struct {
	mu     sync.Mutex
	frames []can.Frame
}

func (f *fakeIngester) Ingest(fr can.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeIngester) got() []can.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]can.Frame(nil), f.frames...)
}

// fakeSerialPort serves the queued reads, then idles with EOF.
type fakeSerialPort struct {
	mu     sync.Mutex
	reads  [][]byte
	idx    int
	closed bool
}

func (f *fakeSerialPort) Read(p []byte) (int, error) {
	f.mu.Lock()
	if f.idx >= len(f.reads) {
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return 0, io.EOF
	}
	chunk := f.reads[f.idx]
	f.idx++
	f.mu.Unlock()
	return copy(p, chunk), nil
}

func (f *fakeSerialPort) Write(p []byte) (int, error) { return len(p), nil }

func (f *fakeSerialPort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSerialPort) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// uartRx builds an adapter receive frame: 2D D4 | len | ID | payload | sum.
func uartRx(id uint32, payload ...byte) []byte {
	body := append([]byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}, payload...)
	out := []byte{0x2D, 0xD4, byte(len(body) + 1)}
	sum := out[2] + 0x2D
	for _, b := range body {
		sum += b
	}
	out = append(out, body...)
	return append(out, sum)
}

func stubSerial(t *testing.T, open func(name string) (serial.Port, error)) {
	t.Helper()
	openSerialPort = func(name string, _ int, _ time.Duration) (serial.Port, error) { return open(name) }
	t.Cleanup(func() { openSerialPort = serial.Open })
}

func TestSerialBusIngests(t *testing.T) {
	wire := append(uartRx(0x123, 0xAA, 0xBB), uartRx(0x18DAF110, 1)...)
	port := &fakeSerialPort{reads: [][]byte{wire[:5], wire[5:]}}
	stubSerial(t, func(string) (serial.Port, error) { return port, nil })
	before := metrics.Snap().BusRx

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := &fakeIngester{}
	var wg sync.WaitGroup
	p, err := initSerialBus(ctx, 1, "fake", baseConfig(), in, testLogger(), &wg)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(in.got()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, can.New(1, 0x123, 0xAA, 0xBB), in.got()[0])
	assert.Equal(t, uint32(0x18DAF110), in.got()[1].Addr())
	assert.Equal(t, uint8(1), in.got()[1].Bus)
	assert.GreaterOrEqual(t, metrics.Snap().BusRx, before+2)

	require.NoError(t, p.sink.SendFrame(can.New(1, 0x340, 1, 2)))
	cancel()
	p.close()
	wg.Wait()
	assert.True(t, port.isClosed())
}

// fakeErrPort always fails to trigger backoff.
type fakeErrPort struct{}

func (fakeErrPort) Read([]byte) (int, error)    { return 0, io.ErrNoProgress }
func (fakeErrPort) Write(p []byte) (int, error) { return len(p), nil }
func (fakeErrPort) Close() error                { return nil }

func TestSerialBusBackoff(t *testing.T) {
	stubSerial(t, func(string) (serial.Port, error) { return fakeErrPort{}, nil })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []time.Duration
	sleepFn = func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		if len(seen) < 8 {
			seen = append(seen, d)
			if len(seen) == 8 {
				cancel()
			}
		}
	}
	t.Cleanup(func() { sleepFn = time.Sleep })

	var wg sync.WaitGroup
	p, err := initSerialBus(ctx, 0, "fake", baseConfig(), &fakeIngester{}, testLogger(), &wg)
	require.NoError(t, err)
	wg.Wait()
	p.close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 8)
	assert.Equal(t, rxBackoffMin, seen[0])
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
		assert.LessOrEqual(t, seen[i], rxBackoffMax)
	}
	assert.Equal(t, rxBackoffMax, seen[len(seen)-1])
}

// blockingPort never completes a write until closed.
type blockingPort struct{ block chan struct{} }

func (p *blockingPort) Read([]byte) (int, error) {
	time.Sleep(5 * time.Millisecond)
	return 0, io.EOF
}
func (p *blockingPort) Write(b []byte) (int, error) { <-p.block; return len(b), nil }
func (p *blockingPort) Close() error                { close(p.block); return nil }

func TestSerialBusTxOverflow(t *testing.T) {
	bp := &blockingPort{block: make(chan struct{})}
	stubSerial(t, func(string) (serial.Port, error) { return bp, nil })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	before := metrics.Snap().Errors

	var wg sync.WaitGroup
	p, err := initSerialBus(ctx, 0, "fake", baseConfig(), &fakeIngester{}, testLogger(), &wg)
	require.NoError(t, err)

	var overflow error
	for i := 0; i < txQueueSize+2 && overflow == nil; i++ {
		overflow = p.sink.SendFrame(can.New(0, uint32(i&0x7FF)))
	}
	assert.ErrorIs(t, overflow, serial.ErrTxOverflow)
	assert.Greater(t, metrics.Snap().Errors, before)

	cancel()
	p.close()
	wg.Wait()
}

type fakeSocketDev struct {
	mu     sync.Mutex
	frames []can.Frame
	writes []can.Frame
}

func (d *fakeSocketDev) ReadFrame(fr *can.Frame) error {
	d.mu.Lock()
	if len(d.frames) > 0 {
		*fr = d.frames[0]
		d.frames = d.frames[1:]
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()
	return io.ErrUnexpectedEOF
}

func (d *fakeSocketDev) WriteFrame(fr can.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = append(d.writes, fr)
	return nil
}

func (d *fakeSocketDev) Close() error { return nil }

func TestSocketCANBusIngests(t *testing.T) {
	dev := &fakeSocketDev{frames: []can.Frame{can.New(0, 0x251, 1, 2, 3)}}
	origOpen := openSocketCANDevice
	openSocketCANDevice = func(iface string, bus uint8) (socketcan.Dev, error) {
		assert.Equal(t, "vcan2", iface)
		return dev, nil
	}
	sleepFn = func(time.Duration) { time.Sleep(time.Millisecond) }
	t.Cleanup(func() {
		openSocketCANDevice = origOpen
		sleepFn = time.Sleep
	})
	before := metrics.Snap().Errors

	ctx, cancel := context.WithCancel(context.Background())
	in := &fakeIngester{}
	var wg sync.WaitGroup
	p, err := initSocketCANBus(ctx, 2, "vcan2", in, testLogger(), &wg)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(in.got()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, uint8(2), in.got()[0].Bus, "frames are stamped with the configured bus")
	assert.Equal(t, uint32(0x251), in.got()[0].Addr())
	require.Eventually(t, func() bool { return metrics.Snap().Errors > before }, time.Second, time.Millisecond)

	cancel()
	p.close()
	wg.Wait()
}

func TestOpenBusesClosesOnFailure(t *testing.T) {
	good := &fakeSerialPort{}
	stubSerial(t, func(name string) (serial.Port, error) {
		if name == "/dev/bad" {
			return nil, errors.New("no such device")
		}
		return good, nil
	})
	cfg := baseConfig()
	cfg.buses = [numBuses]string{"serial:/dev/good", "serial:/dev/bad", ""}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	_, err := openBuses(ctx, cfg, &fakeIngester{}, testLogger(), &wg)
	require.ErrorContains(t, err, "bus1")
	assert.True(t, good.isClosed())
	cancel()
	wg.Wait()
}

func TestOpenBusesAttach(t *testing.T) {
	stubSerial(t, func(string) (serial.Port, error) { return &fakeSerialPort{}, nil })
	cfg := baseConfig()
	cfg.buses = [numBuses]string{"serial:/dev/a", "", "serial:/dev/c"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	gw := gateway.New(&stubProfile{}, gateway.WithLogger(testLogger()))
	ports, err := openBuses(ctx, cfg, gw, testLogger(), &wg)
	require.NoError(t, err)
	require.Len(t, ports, 2)
	assert.Equal(t, uint8(0), ports[0].bus)
	assert.Equal(t, uint8(2), ports[1].bus)
	assert.Equal(t, "serial", ports[1].spec.kind)
	require.NoError(t, attachBuses(gw, ports))

	cancel()
	closeBuses(ports)
	wg.Wait()
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 2*rxBackoffMin, nextBackoff(rxBackoffMin))
	assert.Equal(t, rxBackoffMax, nextBackoff(rxBackoffMax))
}
