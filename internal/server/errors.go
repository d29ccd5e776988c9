package server

import (
	"errors"

	"github.com/kstaniek/go-can-safety-gateway/internal/gateway"
	"github.com/kstaniek/go-can-safety-gateway/internal/metrics"
	"github.com/kstaniek/go-can-safety-gateway/internal/serial"
	"github.com/kstaniek/go-can-safety-gateway/internal/socketcan"
	"github.com/kstaniek/go-can-safety-gateway/internal/transport"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrListen    = errors.New("listen")
	ErrAccept    = errors.New("accept")
	ErrHandshake = errors.New("handshake")
	ErrConnRead  = errors.New("conn_read")
	ErrConnWrite = errors.New("conn_write")
	ErrBackendTx = errors.New("backend_tx")
	ErrContext   = errors.New("context_cancelled")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnRead), errors.Is(err, ErrAccept), errors.Is(err, ErrListen):
		return metrics.ErrTCPRead
	case errors.Is(err, ErrConnWrite):
		return metrics.ErrTCPWrite
	case errors.Is(err, ErrHandshake):
		return metrics.ErrHandshake
	case errors.Is(err, ErrBackendTx):
		return metrics.ErrForward
	case errors.Is(err, ErrContext):
		return "context"
	default:
		return "other"
	}
}

type sendOutcome int

const (
	sendOK sendOutcome = iota
	sendRefused
	sendOverflow
	sendFailed
)

// classifySend buckets a Send verdict. Refusals are the safety layer doing its
// job; overflow means a bus or the gateway queue is saturated.
func classifySend(err error) sendOutcome {
	switch {
	case err == nil:
		return sendOK
	case errors.Is(err, gateway.ErrBlocked):
		return sendRefused
	case errors.Is(err, gateway.ErrQueueFull),
		errors.Is(err, serial.ErrTxOverflow),
		errors.Is(err, socketcan.ErrTxOverflow),
		errors.Is(err, transport.ErrAsyncTxClosed):
		return sendOverflow
	default:
		return sendFailed
	}
}
