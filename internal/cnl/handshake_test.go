package cnl

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestHandshakeBothSides(t *testing.T) {
	srv, cli := pipe(t)
	done := make(chan error, 1)
	go func() { done <- Handshake(context.Background(), srv, 2*time.Second) }()

	require.NoError(t, Handshake(context.Background(), cli, 2*time.Second))
	require.NoError(t, <-done)
}

func TestHandshakeWrongVersion(t *testing.T) {
	srv, cli := pipe(t)
	go func() {
		buf := make([]byte, len(Hello))
		_, _ = io.ReadFull(cli, buf)
		_, _ = io.WriteString(cli, "CANNELLONIv1")
	}()
	assert.ErrorIs(t, Handshake(context.Background(), srv, 2*time.Second), ErrBadHello)
}

func TestHandshakeSilentPeerTimesOut(t *testing.T) {
	srv, _ := pipe(t)
	start := time.Now()
	assert.Error(t, Handshake(context.Background(), srv, 50*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second)
}

func TestHandshakeCancelled(t *testing.T) {
	srv, _ := pipe(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	start := time.Now()
	assert.ErrorIs(t, Handshake(ctx, srv, 5*time.Second), context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}
