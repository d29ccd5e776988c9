package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-can-safety-gateway/internal/cnl"
	"github.com/kstaniek/go-can-safety-gateway/internal/hub"
)

const keepAlivePeriod = 30 * time.Second

// admit tunes a fresh connection, runs the link handshake and registers the
// client with the hub. On any failure conn is closed and admit returns nil.
func (s *Server) admit(ctx context.Context, conn net.Conn, log *slog.Logger) *hub.Client {
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(keepAlivePeriod)
	}
	if err := cnl.Handshake(ctx, conn, s.handshakeTimeout); err != nil {
		s.fail(fmt.Errorf("%w: %w", ErrHandshake, err))
		s.totalHandshakeFail.Add(1)
		log.Warn("handshake_failed", "error", err)
		_ = conn.Close()
		return nil
	}
	cl := s.Hub.NewClient(s.busMask)
	if err := s.Hub.Add(cl); err != nil {
		s.totalRejected.Add(1)
		log.Warn("client_reject", "error", err, "max_clients", s.Hub.MaxClients)
		_ = conn.Close()
		return nil
	}
	s.clientsMu.Lock()
	s.clients[cl] = conn
	s.clientsMu.Unlock()
	return cl
}
