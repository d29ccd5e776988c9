// Package socketcan drives Linux raw CAN sockets, one per gateway bus.
package socketcan

import (
	"errors"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
)

var ErrTxOverflow = errors.New("socketcan tx overflow")

// Dev is one bus endpoint. *Device satisfies it on linux; tests use fakes.
type Dev interface {
	ReadFrame(*can.Frame) error
	WriteFrame(can.Frame) error
	Close() error
}
