package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-can-safety-gateway/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors
var (
	BusRxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_rx_frames_total",
		Help: "CAN frames read from a vehicle bus backend.",
	}, []string{"bus", "backend"})
	BusTxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_tx_frames_total",
		Help: "CAN frames written to a vehicle bus backend.",
	}, []string{"bus", "backend"})
	RxInvalidFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safety_rx_invalid_frames_total",
		Help: "Inbound frames that failed authentication, by reason.",
	}, []string{"reason"})
	RxLateFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "safety_rx_late_frames_total",
		Help: "Checked frames that arrived later than twice their expected interval.",
	})
	TxAllowed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "safety_tx_allowed_total",
		Help: "Driving computer frames permitted onto a bus.",
	})
	TxBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safety_tx_blocked_total",
		Help: "Driving computer frames refused, by violation.",
	}, []string{"reason"})
	Forwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safety_forwarded_frames_total",
		Help: "Frames relayed between buses, by destination bus.",
	}, []string{"dst"})
	ControlsAllowed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "safety_controls_allowed",
		Help: "1 while the driving computer may actuate.",
	})
	LaggingChecks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "safety_lagging_checks",
		Help: "Validated messages that missed their staleness deadline.",
	})
	TopologyBus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "topology_home_bus",
		Help: "Discovered home bus per ECU (-1 = undiscovered).",
	}, []string{"ecu"})
	TopologyFlag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "topology_flag",
		Help: "Relay and detection flags of the bus topology (1 = set).",
	}, []string{"flag"})
	TCPRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_rx_frames_total",
		Help: "Total CAN frames received from upstream clients.",
	})
	TCPTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_tx_frames_total",
		Help: "Total CAN frames sent to upstream clients.",
	})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_frames_total",
		Help: "Total CAN frames dropped by hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total clients disconnected due to backpressure kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Total client connection attempts rejected (e.g., max-clients).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of active connected clients.",
	})
	HubBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_broadcast_fanout",
		Help: "Clients addressed by the last broadcast.",
	})
	HubQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_max",
		Help: "Deepest client queue at the last broadcast.",
	})
	HubQueueDepthAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_avg",
		Help: "Average client queue depth at the last broadcast.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (protocol violations, invalid length, truncated).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTCPRead        = "tcp_read"
	ErrTCPWrite       = "tcp_write"
	ErrHandshake      = "handshake"
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrSerialRead     = "serial_read"
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANOver  = "socketcan_tx_overflow"
	ErrSocketCANRead  = "socketcan_read"
	ErrGatewayQueue   = "gateway_queue_full"
	ErrForward        = "forward"
)

// Backend labels.
const (
	BackendSocketCAN = "socketcan"
	BackendSerial    = "serial"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localBusRx      uint64
	localBusTx      uint64
	localRxInvalid  uint64
	localRxLate     uint64
	localTxAllowed  uint64
	localTxBlocked  uint64
	localForwarded  uint64
	localControls   uint64
	localLagging    uint64
	localTCPRx      uint64
	localTCPTx      uint64
	localHubDrop    uint64
	localHubKick    uint64
	localHubReject  uint64
	localHubClients uint64
	localErrors     uint64
	localMalformed  uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	BusRx           uint64
	BusTx           uint64
	RxInvalid       uint64
	RxLate          uint64
	TxAllowed       uint64
	TxBlocked       uint64
	Forwarded       uint64
	ControlsAllowed bool
	LaggingChecks   uint64
	TCPRx           uint64
	TCPTx           uint64
	HubDrops        uint64
	HubKicks        uint64
	HubRejects      uint64
	HubClients      uint64
	Errors          uint64 // sum across error labels
	Malformed       uint64
}

func Snap() Snapshot {
	return Snapshot{
		BusRx:           atomic.LoadUint64(&localBusRx),
		BusTx:           atomic.LoadUint64(&localBusTx),
		RxInvalid:       atomic.LoadUint64(&localRxInvalid),
		RxLate:          atomic.LoadUint64(&localRxLate),
		TxAllowed:       atomic.LoadUint64(&localTxAllowed),
		TxBlocked:       atomic.LoadUint64(&localTxBlocked),
		Forwarded:       atomic.LoadUint64(&localForwarded),
		ControlsAllowed: atomic.LoadUint64(&localControls) == 1,
		LaggingChecks:   atomic.LoadUint64(&localLagging),
		TCPRx:           atomic.LoadUint64(&localTCPRx),
		TCPTx:           atomic.LoadUint64(&localTCPTx),
		HubDrops:        atomic.LoadUint64(&localHubDrop),
		HubKicks:        atomic.LoadUint64(&localHubKick),
		HubRejects:      atomic.LoadUint64(&localHubReject),
		HubClients:      atomic.LoadUint64(&localHubClients),
		Errors:          atomic.LoadUint64(&localErrors),
		Malformed:       atomic.LoadUint64(&localMalformed),
	}
}

func busLabel(bus uint8) string { return strconv.Itoa(int(bus)) }

// IncBusRx counts a frame read from a bus backend.
func IncBusRx(bus uint8, backend string) {
	BusRxFrames.WithLabelValues(busLabel(bus), backend).Inc()
	atomic.AddUint64(&localBusRx, 1)
}

// IncBusTx counts a frame written to a bus backend.
func IncBusTx(bus uint8, backend string) {
	BusTxFrames.WithLabelValues(busLabel(bus), backend).Inc()
	atomic.AddUint64(&localBusTx, 1)
}

func IncRxInvalid(reason string) {
	RxInvalidFrames.WithLabelValues(reason).Inc()
	atomic.AddUint64(&localRxInvalid, 1)
}

func IncRxLate() {
	RxLateFrames.Inc()
	atomic.AddUint64(&localRxLate, 1)
}

func IncTxAllowed() {
	TxAllowed.Inc()
	atomic.AddUint64(&localTxAllowed, 1)
}

// IncTxBlocked counts one refused frame; every violation label is recorded.
func IncTxBlocked(reasons []string) {
	for _, r := range reasons {
		TxBlocked.WithLabelValues(r).Inc()
	}
	atomic.AddUint64(&localTxBlocked, 1)
}

func IncForwarded(dst uint8) {
	Forwarded.WithLabelValues(busLabel(dst)).Inc()
	atomic.AddUint64(&localForwarded, 1)
}

func SetControlsAllowed(on bool) {
	var v uint64
	if on {
		v = 1
	}
	ControlsAllowed.Set(float64(v))
	atomic.StoreUint64(&localControls, v)
}

func SetLaggingChecks(n int) {
	LaggingChecks.Set(float64(n))
	atomic.StoreUint64(&localLagging, uint64(n))
}

// SetHomeBus records the discovered bus of an ECU (-1 = undiscovered).
func SetHomeBus(ecu string, bus int) { TopologyBus.WithLabelValues(ecu).Set(float64(bus)) }

// SetTopologyFlag records one topology flag.
func SetTopologyFlag(flag string, on bool) {
	v := 0.0
	if on {
		v = 1
	}
	TopologyFlag.WithLabelValues(flag).Set(v)
}

func IncTCPRx() {
	TCPRxFrames.Inc()
	atomic.AddUint64(&localTCPRx, 1)
}

func AddTCPTx(n int) {
	TCPTxFrames.Add(float64(n))
	atomic.AddUint64(&localTCPTx, uint64(n))
}

func IncHubDrop() {
	HubDroppedFrames.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func IncHubReject() {
	HubRejectedClients.Inc()
	atomic.AddUint64(&localHubReject, 1)
}

func SetBroadcastFanout(n int) { HubBroadcastFanout.Set(float64(n)) }

// SetQueueDepth records the max and average client queue depth.
func SetQueueDepth(max, avg int) {
	HubQueueDepthMax.Set(float64(max))
	HubQueueDepthAvg.Set(float64(avg))
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubClients, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrTCPRead, ErrTCPWrite, ErrHandshake,
		ErrSerialWrite, ErrSerialOverflow, ErrSerialRead,
		ErrSocketCANWrite, ErrSocketCANOver, ErrSocketCANRead,
		ErrGatewayQueue, ErrForward,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
