//go:build linux

package socketcan

import (
	"context"

	"github.com/kstaniek/go-can-safety-gateway/internal/logging"
	"github.com/kstaniek/go-can-safety-gateway/internal/metrics"
	"github.com/kstaniek/go-can-safety-gateway/internal/transport"
)

// TXWriter serializes writes to one interface.
type TXWriter struct {
	*transport.AsyncTx
}

// NewTXWriter starts the writer for bus. At most depth frames wait; beyond
// that SendFrame fails with ErrTxOverflow.
func NewTXWriter(parent context.Context, bus uint8, dev Dev, depth int) *TXWriter {
	return &TXWriter{transport.NewAsyncTx(parent, bus, depth, dev.WriteFrame, transport.Hooks{
		OnError: func(bus uint8, err error) {
			metrics.IncError(metrics.ErrSocketCANWrite)
			logging.L().Debug("socketcan_write_error", "bus", bus, "error", err)
		},
		OnAfter: func(bus uint8) { metrics.IncBusTx(bus, metrics.BackendSocketCAN) },
		OnDrop: func(uint8) error {
			metrics.IncError(metrics.ErrSocketCANOver)
			return ErrTxOverflow
		},
	})}
}
