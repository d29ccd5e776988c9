package cnl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Hello is the greeting both peers send before any frame. Its version suffix
// changes whenever the frame layout does.
const Hello = "CANSAFETYv01"

// ErrBadHello is returned when the peer greets with anything but Hello.
var ErrBadHello = errors.New("bad hello")

// Handshake sends Hello and checks the peer's greeting. Both directions run
// at once, so neither peer has to go first. The exchange is bounded by
// timeout; cancelling ctx expires the deadline early.
func Handshake(ctx context.Context, c net.Conn, timeout time.Duration) error {
	if err := c.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = c.SetDeadline(time.Now()) })
	defer func() {
		stop()
		_ = c.SetDeadline(time.Time{})
	}()

	sent := make(chan error, 1)
	go func() {
		_, err := io.WriteString(c, Hello)
		sent <- err
	}()
	err := readHello(c)
	if err != nil {
		// unblock a writer stuck on a peer that never reads
		_ = c.SetDeadline(time.Now())
	}
	if werr := <-sent; err == nil {
		err = werr
	}
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("handshake: %w", err)
	}
}

func readHello(r io.Reader) error {
	var buf [len(Hello)]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	if string(buf[:]) != Hello {
		return fmt.Errorf("%w: %q", ErrBadHello, buf[:])
	}
	return nil
}
