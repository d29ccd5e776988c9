// Package server is the upstream TCP surface of the gateway. Clients receive
// every vehicle frame their bus mask selects and may request transmissions,
// which are submitted to the safety gateway and either sent or refused.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
	"github.com/kstaniek/go-can-safety-gateway/internal/cnl"
	"github.com/kstaniek/go-can-safety-gateway/internal/hub"
	"github.com/kstaniek/go-can-safety-gateway/internal/logging"
	"github.com/kstaniek/go-can-safety-gateway/internal/metrics"
	"github.com/kstaniek/go-can-safety-gateway/internal/transport"
)

// SendFunc submits an upstream transmit request and returns its verdict.
// gateway.(*Gateway).Submit satisfies it.
type SendFunc func(context.Context, can.Frame) error

// Codec is the wire format spoken with clients.
type Codec interface {
	transport.MultiFrameDecoder
	transport.FrameBatchEncoder
}

// Server owns the TCP listener and coordinates client lifecycle.
type Server struct {
	mu    sync.RWMutex
	addr  string
	Hub   *hub.Hub
	Codec Codec
	Send  SendFunc

	frameFilter func(*can.Frame) bool
	busMask     uint8

	flushInterval    time.Duration
	batchSize        int
	readDeadline     time.Duration
	handshakeTimeout time.Duration
	readyOnce        sync.Once
	readyCh          chan struct{}
	lastErrMu        sync.Mutex
	lastErr          error
	errCh            chan error
	listener         net.Listener
	clientsMu        sync.Mutex
	clients          map[*hub.Client]net.Conn
	wg               sync.WaitGroup
	logger           *slog.Logger
	nextConnID       atomic.Uint64

	totalAccepted      atomic.Uint64
	totalHandshakeFail atomic.Uint64
	totalRejected      atomic.Uint64
	totalConnected     atomic.Uint64
	totalDisconnected  atomic.Uint64
	totalRefused       atomic.Uint64
	totalOverflow      atomic.Uint64
	totalBackendErrors atomic.Uint64
}

const (
	defaultFlushInterval    = 5 * time.Millisecond
	defaultBatchSize        = 64
	defaultReadDeadline     = 60 * time.Second
	defaultHandshakeTimeout = 3 * time.Second
	decodeBurst             = 16
)

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		flushInterval:    defaultFlushInterval,
		batchSize:        defaultBatchSize,
		readDeadline:     defaultReadDeadline,
		handshakeTimeout: defaultHandshakeTimeout,
		readyCh:          make(chan struct{}),
		errCh:            make(chan error, 1),
		clients:          make(map[*hub.Client]net.Conn),
		logger:           logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	if s.Hub == nil {
		s.Hub = hub.New()
	}
	if s.Codec == nil {
		s.Codec = &cnl.Codec{}
	}
	return s
}

func WithListenAddr(a string) ServerOption { return func(s *Server) { s.addr = a } }
func WithHub(hb *hub.Hub) ServerOption     { return func(s *Server) { s.Hub = hb } }
func WithCodec(c Codec) ServerOption       { return func(s *Server) { s.Codec = c } }
func WithSend(send SendFunc) ServerOption  { return func(s *Server) { s.Send = send } }

// WithFrameFilter drops upstream frames for which fn returns false before
// they reach Send.
func WithFrameFilter(fn func(*can.Frame) bool) ServerOption {
	return func(s *Server) { s.frameFilter = fn }
}

// WithBusMask restricts the buses streamed to every client (bit n = bus n).
func WithBusMask(mask uint8) ServerOption { return func(s *Server) { s.busMask = mask } }

func WithFlushInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

func WithBatchSize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithReadDeadline(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.readDeadline = d
		}
	}
}

func WithHandshakeTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) SetListenAddr(a string) { s.setAddr(a) }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

// fail records a wrapped sentinel error and counts it under its metric label.
func (s *Server) fail(err error) {
	metrics.IncError(mapErrToMetric(err))
	s.setError(err)
}

func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// Serve accepts TCP clients until ctx is done. A closed listener is a clean
// exit.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrListen, err)
		s.fail(err)
		return err
	}
	s.setAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr(), "bus_mask", fmt.Sprintf("0x%02X", s.busMask))
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		switch {
		case err == nil:
			s.serveConn(ctx, conn)
		case ctx.Err() != nil, errors.Is(err, net.ErrClosed):
			return nil
		case isTemporary(err):
			s.logger.Warn("accept_retry", "error", err)
			time.Sleep(acceptRetryDelay)
		default:
			err = fmt.Errorf("%w: %w", ErrAccept, err)
			s.fail(err)
			return err
		}
	}
}

const acceptRetryDelay = 200 * time.Millisecond

func isTemporary(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// serveConn admits conn and starts its reader and writer goroutines.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	s.totalAccepted.Add(1)
	log := s.logger.With("conn_id", s.nextConnID.Add(1), "remote", conn.RemoteAddr().String())
	cl := s.admit(ctx, conn, log)
	if cl == nil {
		return
	}
	s.totalConnected.Add(1)
	log.Info("client_connected", "clients", s.Hub.Count())
	s.startWriter(ctx.Done(), conn, cl, log)
	s.startReader(ctx, conn, cl, log)
}

func (s *Server) dropClient(cl *hub.Client) {
	s.clientsMu.Lock()
	delete(s.clients, cl)
	s.clientsMu.Unlock()
	s.Hub.Remove(cl)
}

// Shutdown closes the listener and every client, then waits for the client
// goroutines or ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.clientsMu.Lock()
	for cl, conn := range s.clients {
		_ = conn.Close()
		s.Hub.Remove(cl)
		delete(s.clients, cl)
	}
	s.clientsMu.Unlock()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		st := s.Stats()
		s.logger.Info("shutdown_summary",
			"accepted", st.Accepted,
			"handshake_fail", st.HandshakeFail,
			"rejected", st.Rejected,
			"connected", st.Connected,
			"disconnected", st.Disconnected,
			"tx_refused", st.Refused,
			"tx_overflow", st.Overflow,
			"backend_errors", st.BackendErrors,
		)
		return nil
	}
}

// Stats is a snapshot of connection and transmit outcome counters.
type Stats struct {
	Accepted      uint64
	HandshakeFail uint64
	Rejected      uint64
	Connected     uint64
	Disconnected  uint64
	Refused       uint64
	Overflow      uint64
	BackendErrors uint64
}

func (s *Server) Stats() Stats {
	return Stats{
		Accepted:      s.totalAccepted.Load(),
		HandshakeFail: s.totalHandshakeFail.Load(),
		Rejected:      s.totalRejected.Load(),
		Connected:     s.totalConnected.Load(),
		Disconnected:  s.totalDisconnected.Load(),
		Refused:       s.totalRefused.Load(),
		Overflow:      s.totalOverflow.Load(),
		BackendErrors: s.totalBackendErrors.Load(),
	}
}
