package serial

import (
	"context"
	"errors"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
	"github.com/kstaniek/go-can-safety-gateway/internal/logging"
	"github.com/kstaniek/go-can-safety-gateway/internal/metrics"
	"github.com/kstaniek/go-can-safety-gateway/internal/transport"
)

var ErrTxOverflow = errors.New("serial tx overflow")

// TXWriter serializes encoded frames onto one adapter.
type TXWriter struct {
	*transport.AsyncTx
}

// NewTXWriter starts the writer for bus. At most depth frames wait; beyond
// that SendFrame fails with ErrTxOverflow.
func NewTXWriter(parent context.Context, bus uint8, p Port, codec Codec, depth int) *TXWriter {
	write := func(fr can.Frame) error {
		_, err := p.Write(codec.Encode(fr))
		return err
	}
	return &TXWriter{transport.NewAsyncTx(parent, bus, depth, write, transport.Hooks{
		OnError: func(bus uint8, err error) {
			metrics.IncError(metrics.ErrSerialWrite)
			logging.L().Error("serial_write_error", "bus", bus, "error", err)
		},
		OnAfter: func(bus uint8) { metrics.IncBusTx(bus, metrics.BackendSerial) },
		OnDrop: func(uint8) error {
			metrics.IncError(metrics.ErrSerialOverflow)
			return ErrTxOverflow
		},
	})}
}
