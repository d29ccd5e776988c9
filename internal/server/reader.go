package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
	"github.com/kstaniek/go-can-safety-gateway/internal/hub"
	"github.com/kstaniek/go-can-safety-gateway/internal/metrics"
)

// startReader decodes upstream transmit requests from conn and submits each
// one. A refused frame is not an error for the connection.
func (s *Server) startReader(ctx context.Context, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			cl.Close()
		}()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			_, err := s.Codec.DecodeN(conn, decodeBurst, func(fr can.Frame) { s.submit(ctx, fr, logger) })
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					if ctx.Err() != nil {
						return
					}
					continue
				}
				s.fail(fmt.Errorf("%w: %w", ErrConnRead, err))
				logger.Warn("client_read_error", "error", err)
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
}

func (s *Server) submit(ctx context.Context, fr can.Frame, logger *slog.Logger) {
	if s.frameFilter != nil && !s.frameFilter(&fr) {
		return
	}
	metrics.IncTCPRx()
	if s.Send == nil {
		return
	}
	err := s.Send(ctx, fr)
	switch classifySend(err) {
	case sendOK:
	case sendRefused:
		s.totalRefused.Add(1)
		logger.Debug("tx_refused", "bus", fr.Bus, "can_id", fmt.Sprintf("0x%X", fr.CANID), "error", err)
	case sendOverflow:
		s.totalOverflow.Add(1)
		logger.Debug("tx_overflow_drop", "bus", fr.Bus, "can_id", fmt.Sprintf("0x%X", fr.CANID), "len", fr.Len)
	default:
		if ctx.Err() != nil {
			return
		}
		s.fail(fmt.Errorf("%w: %w", ErrBackendTx, err))
		s.totalBackendErrors.Add(1)
		logger.Error("backend_tx_error", "bus", fr.Bus, "can_id", fmt.Sprintf("0x%X", fr.CANID), "error", err)
	}
}
