package server

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
	"github.com/kstaniek/go-can-safety-gateway/internal/hub"
	"github.com/kstaniek/go-can-safety-gateway/internal/metrics"
)

// outBatch accumulates frames bound for one connection.
type outBatch struct {
	conn   net.Conn
	codec  Codec
	frames []can.Frame
}

func (b *outBatch) flush() error {
	n := len(b.frames)
	if n == 0 {
		return nil
	}
	_, err := b.codec.EncodeTo(b.conn, b.frames)
	b.frames = b.frames[:0]
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnWrite, err)
	}
	metrics.AddTCPTx(n)
	return nil
}

// startWriter streams hub frames to one client. A batch is written when it
// fills or on the next flush tick, whichever comes first.
func (s *Server) startWriter(done <-chan struct{}, conn net.Conn, cl *hub.Client, log *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.writeLoop(done, conn, cl); err != nil {
			s.fail(err)
			log.Debug("client_write_error", "error", err)
		}
		_ = conn.Close()
		s.dropClient(cl)
		s.totalDisconnected.Add(1)
		log.Info("client_disconnected", "dropped", cl.Dropped())
	}()
}

func (s *Server) writeLoop(done <-chan struct{}, conn net.Conn, cl *hub.Client) error {
	b := &outBatch{conn: conn, codec: s.Codec, frames: make([]can.Frame, 0, s.batchSize)}
	tick := time.NewTicker(s.flushInterval)
	defer tick.Stop()
	for {
		select {
		case fr := <-cl.Out:
			b.frames = append(b.frames, fr)
			if len(b.frames) < s.batchSize {
				continue
			}
		case <-tick.C:
		case <-cl.Closed:
			_ = b.flush() // best effort, the peer may be gone
			return nil
		case <-done:
			_ = b.flush()
			return nil
		}
		if err := b.flush(); err != nil {
			return err
		}
	}
}
