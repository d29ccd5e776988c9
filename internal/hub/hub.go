// Package hub fans out received vehicle frames to upstream clients. Every
// client may subscribe to a subset of buses.
package hub

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
	"github.com/kstaniek/go-can-safety-gateway/internal/logging"
	"github.com/kstaniek/go-can-safety-gateway/internal/metrics"
)

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// ParsePolicy maps a config string to a policy; unknown values mean drop.
func ParsePolicy(s string) BackpressurePolicy {
	if s == "kick" {
		return PolicyKick
	}
	return PolicyDrop
}

func (p BackpressurePolicy) String() string {
	if p == PolicyKick {
		return "kick"
	}
	return "drop"
}

// ErrFull is returned by Add when MaxClients is reached.
var ErrFull = errors.New("hub full")

const defaultOutBuf = 512

// Client is one upstream subscriber. Mask selects buses (bit n = bus n);
// zero subscribes to all buses.
type Client struct {
	Out       chan can.Frame
	Closed    chan struct{}
	Mask      uint8
	dropped   atomic.Uint64
	closeOnce sync.Once
}

// NewClient allocates a client with an outbound buffer of buf frames.
func NewClient(buf int, mask uint8) *Client {
	if buf <= 0 {
		buf = defaultOutBuf
	}
	return &Client{Out: make(chan can.Frame, buf), Closed: make(chan struct{}), Mask: mask}
}

// Accepts reports whether frames from bus are delivered to c.
func (c *Client) Accepts(bus uint8) bool {
	return c.Mask == 0 || (bus < can.MaxBus && c.Mask&(1<<bus) != 0)
}

// Dropped is the number of frames this client missed under PolicyDrop.
func (c *Client) Dropped() uint64 { return c.dropped.Load() }

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Closed) })
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	MaxClients int
	Policy     BackpressurePolicy
}

func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// NewClient allocates a client sized from the hub configuration.
func (h *Hub) NewClient(mask uint8) *Client { return NewClient(h.OutBufSize, mask) }

// Add registers c, or returns ErrFull when MaxClients is reached.
func (h *Hub) Add(c *Client) error {
	h.mu.Lock()
	if h.MaxClients > 0 && len(h.clients) >= h.MaxClients {
		h.mu.Unlock()
		metrics.IncHubReject()
		return ErrFull
	}
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetHubClients(cur)
	if cur == 1 {
		logging.L().Info("clients_first_connected")
	}
	return nil
}

// Remove unregisters and closes c; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	cur := len(h.clients)
	h.mu.Unlock()
	c.Close()
	metrics.SetHubClients(cur)
	if existed && cur == 0 {
		logging.L().Info("clients_last_disconnected")
	}
}

// Broadcast offers fr to every subscribed client without blocking. A full
// client either misses the frame or is kicked, per Policy.
func (h *Hub) Broadcast(fr can.Frame) {
	clients := h.Snapshot()
	fanout, maxDepth, sum := 0, 0, 0
	for _, c := range clients {
		if !c.Accepts(fr.Bus) {
			continue
		}
		fanout++
		l := len(c.Out)
		maxDepth = max(maxDepth, l)
		sum += l
		select {
		case c.Out <- fr:
		default:
			if h.Policy == PolicyKick {
				metrics.IncHubKick()
				c.Close()
			} else {
				c.dropped.Add(1)
				metrics.IncHubDrop()
			}
		}
	}
	metrics.SetBroadcastFanout(fanout)
	if fanout > 0 {
		metrics.SetQueueDepth(maxDepth, sum/fanout)
	}
}

// Snapshot returns a copy of the current clients.
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }
