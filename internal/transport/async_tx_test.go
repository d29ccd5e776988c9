package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
)

var (
	errOverflow = errors.New("overflow")
	errSendFail = errors.New("send fail")
)

func TestAsyncTxStampsBus(t *testing.T) {
	var mu sync.Mutex
	var got []can.Frame
	var after atomic.Int64
	ax := NewAsyncTx(context.Background(), 2, 4, func(fr can.Frame) error {
		mu.Lock()
		got = append(got, fr)
		mu.Unlock()
		return nil
	}, Hooks{OnAfter: func(bus uint8) {
		if bus == 2 {
			after.Add(1)
		}
	}})
	defer ax.Close()
	for i := 0; i < 3; i++ {
		require.NoError(t, ax.SendFrame(can.New(0, uint32(0x100+i))))
	}
	require.Eventually(t, func() bool { return after.Load() == 3 }, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, fr := range got {
		assert.Equal(t, uint8(2), fr.Bus)
		assert.Equal(t, uint32(0x100+i), fr.Addr(), "order preserved")
	}
	assert.Equal(t, uint64(3), ax.Stats().Sent)
	assert.Equal(t, uint8(2), ax.Bus())
}

func TestAsyncTxOverflow(t *testing.T) {
	release := make(chan struct{})
	var drops atomic.Int64
	ax := NewAsyncTx(context.Background(), 0, 1, func(can.Frame) error {
		<-release
		return nil
	}, Hooks{OnDrop: func(uint8) error { drops.Add(1); return errOverflow }})
	defer ax.Close()
	defer close(release)

	// first frame is picked up by the worker and blocks, second fills the buffer
	require.NoError(t, ax.SendFrame(can.Frame{}))
	require.Eventually(t, func() bool { return ax.Stats().Queued == 0 }, time.Second, time.Millisecond)
	require.NoError(t, ax.SendFrame(can.Frame{}))

	assert.ErrorIs(t, ax.SendFrame(can.Frame{}), errOverflow)
	assert.Equal(t, int64(1), drops.Load())
	assert.Equal(t, uint64(1), ax.Stats().Dropped)
}

func TestAsyncTxSilentDrop(t *testing.T) {
	release := make(chan struct{})
	ax := NewAsyncTx(context.Background(), 0, 1, func(can.Frame) error { <-release; return nil }, Hooks{})
	defer ax.Close()
	defer close(release)
	require.NoError(t, ax.SendFrame(can.Frame{}))
	require.Eventually(t, func() bool { return ax.Stats().Queued == 0 }, time.Second, time.Millisecond)
	require.NoError(t, ax.SendFrame(can.Frame{}))
	assert.NoError(t, ax.SendFrame(can.Frame{}))
	assert.Equal(t, uint64(1), ax.Stats().Dropped)
}

func TestAsyncTxSendError(t *testing.T) {
	var errs atomic.Int64
	ax := NewAsyncTx(context.Background(), 1, 2, func(can.Frame) error { return errSendFail }, Hooks{
		OnError: func(bus uint8, err error) {
			if bus == 1 && errors.Is(err, errSendFail) {
				errs.Add(1)
			}
		},
	})
	defer ax.Close()
	require.NoError(t, ax.SendFrame(can.Frame{}))
	require.Eventually(t, func() bool { return errs.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), ax.Stats().Failed)
}

func TestAsyncTxClose(t *testing.T) {
	var sent atomic.Int64
	ax := NewAsyncTx(context.Background(), 0, 2, func(can.Frame) error { sent.Add(1); return nil }, Hooks{})
	_ = ax.SendFrame(can.Frame{})
	ax.Close()
	before := sent.Load()
	assert.ErrorIs(t, ax.SendFrame(can.Frame{}), ErrAsyncTxClosed)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, sent.Load(), "no frame processed after close")
	ax.Close()
}

func TestAsyncTxCloseConcurrentSend(t *testing.T) {
	for i := 0; i < 100; i++ {
		ax := NewAsyncTx(context.Background(), 0, 1, func(can.Frame) error { return nil }, Hooks{})
		done := make(chan error, 1)
		go func() { done <- ax.SendFrame(can.Frame{}) }()
		time.Sleep(time.Millisecond)
		ax.Close()
		if err := <-done; err != nil {
			require.ErrorIs(t, err, ErrAsyncTxClosed, "iteration %d", i)
		}
	}
}

func TestSinkFunc(t *testing.T) {
	var got can.Frame
	var s FrameSink = SinkFunc(func(fr can.Frame) error { got = fr; return nil })
	require.NoError(t, s.SendFrame(can.New(1, 0x7FF, 1)))
	assert.Equal(t, uint32(0x7FF), got.Addr())
}
