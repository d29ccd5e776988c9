package serial

import (
	"io"
	"time"

	"github.com/tarm/serial"
)

// Port is the byte stream of a UART CAN adapter.
type Port interface {
	io.ReadWriteCloser
}

// Open opens the adapter at name, 8N1. A read returns after readTimeout with
// whatever arrived, possibly nothing.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: readTimeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
