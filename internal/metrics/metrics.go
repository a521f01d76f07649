package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dslink/go-spiuart/internal/logging"
)

// Prometheus collectors. Pump counters are incremented from interrupt
// dispatch context; they are lock-free atomics and never block the pump.
var (
	PumpExchanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pump_exchanges_total",
		Help: "Total full-duplex byte exchanges performed by the pump.",
	})
	PumpIdleFills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pump_idle_fills_total",
		Help: "Exchanges that transmitted the idle fill byte (empty output queue).",
	})
	EscapedLiterals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escaped_literals_total",
		Help: "Received literal bytes that arrived behind an escape marker.",
	})
	FillerDiscards = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filler_discards_total",
		Help: "Received idle/no-card filler bytes dropped by the filter.",
	})
	InputEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "input_evictions_total",
		Help: "Oldest-block evictions caused by input buffer overflow.",
	})
	WatermarkNotices = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watermark_notices_total",
		Help: "Flow-control notices emitted to the peer, by level.",
	}, []string{"level"})
	PrioTransfers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prio_transfers_total",
		Help: "Priority/raw channel transfers spliced into the output stream.",
	})
	PrioTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prio_timeouts_total",
		Help: "Priority transfers cancelled because the wait deadline passed.",
	})
	RequeueRejects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "requeue_rejects_total",
		Help: "Requeue attempts rejected for lack of input buffer headroom.",
	})
	InputBufferBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "input_buffer_bytes",
		Help: "Current input buffer occupancy.",
	})
	OutputPendingBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "output_pending_bytes",
		Help: "Bytes queued but not yet clocked out.",
	})
	TCPRxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_rx_bytes_total",
		Help: "Bytes received from TCP clients and queued toward the link.",
	})
	TCPTxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_tx_bytes_total",
		Help: "Bytes sent to TCP clients.",
	})
	HubDroppedChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_chunks_total",
		Help: "Received chunks dropped by the hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Clients disconnected by the backpressure kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Client connection attempts rejected (e.g., max-clients).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of connected clients.",
	})
	HubBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_broadcast_fanout",
		Help: "Clients targeted by the most recent broadcast.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrTCPRead     = "tcp_read"
	ErrTCPWrite    = "tcp_write"
	ErrHandshake   = "handshake"
	ErrLinkWrite   = "link_write"
	ErrLinkOverrun = "link_tx_overflow"
	ErrSerialIO    = "serial_io"
)

// StartHTTP serves Prometheus metrics at /metrics plus a /ready probe.
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
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters so the bridge can log snapshots without scraping
// its own Prometheus registry.
var (
	localExchanges  uint64
	localIdleFills  uint64
	localEvictions  uint64
	localWatermarks uint64
	localPrio       uint64
	localPrioTO     uint64
	localTCPRx      uint64
	localTCPTx      uint64
	localHubDrop    uint64
	localHubKick    uint64
	localHubReject  uint64
	localClients    uint64
	localFanout     uint64
	localErrors     uint64
)

// Snapshot is a cheap copy of the local counters.
type Snapshot struct {
	Exchanges     uint64
	IdleFills     uint64
	Evictions     uint64
	Watermarks    uint64
	PrioTransfers uint64
	PrioTimeouts  uint64
	TCPRx         uint64
	TCPTx         uint64
	HubDrops      uint64
	HubKicks      uint64
	HubRejects    uint64
	HubClients    uint64
	Fanout        uint64
	Errors        uint64
}

func Snap() Snapshot {
	return Snapshot{
		Exchanges:     atomic.LoadUint64(&localExchanges),
		IdleFills:     atomic.LoadUint64(&localIdleFills),
		Evictions:     atomic.LoadUint64(&localEvictions),
		Watermarks:    atomic.LoadUint64(&localWatermarks),
		PrioTransfers: atomic.LoadUint64(&localPrio),
		PrioTimeouts:  atomic.LoadUint64(&localPrioTO),
		TCPRx:         atomic.LoadUint64(&localTCPRx),
		TCPTx:         atomic.LoadUint64(&localTCPTx),
		HubDrops:      atomic.LoadUint64(&localHubDrop),
		HubKicks:      atomic.LoadUint64(&localHubKick),
		HubRejects:    atomic.LoadUint64(&localHubReject),
		HubClients:    atomic.LoadUint64(&localClients),
		Fanout:        atomic.LoadUint64(&localFanout),
		Errors:        atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers keep call sites terse.

func IncExchange() {
	PumpExchanges.Inc()
	atomic.AddUint64(&localExchanges, 1)
}

func IncIdleFill() {
	PumpIdleFills.Inc()
	atomic.AddUint64(&localIdleFills, 1)
}

func IncEscapedLiteral() { EscapedLiterals.Inc() }

func IncFillerDrop() { FillerDiscards.Inc() }

func IncEviction() {
	InputEvictions.Inc()
	atomic.AddUint64(&localEvictions, 1)
}

func IncWatermark(high bool) {
	level := "low"
	if high {
		level = "high"
	}
	WatermarkNotices.WithLabelValues(level).Inc()
	atomic.AddUint64(&localWatermarks, 1)
}

func IncPrioTransfer() {
	PrioTransfers.Inc()
	atomic.AddUint64(&localPrio, 1)
}

func IncPrioTimeout() {
	PrioTimeouts.Inc()
	atomic.AddUint64(&localPrioTO, 1)
}

func IncRequeueReject() { RequeueRejects.Inc() }

// SetLinkDepth records current buffer occupancy (pump context, atomics only).
func SetLinkDepth(in, outPending int) {
	InputBufferBytes.Set(float64(in))
	OutputPendingBytes.Set(float64(outPending))
}

func AddTCPRx(n int) {
	TCPRxBytes.Add(float64(n))
	atomic.AddUint64(&localTCPRx, uint64(n))
}

func AddTCPTx(n int) {
	TCPTxBytes.Add(float64(n))
	atomic.AddUint64(&localTCPTx, uint64(n))
}

func IncHubDrop() {
	HubDroppedChunks.Inc()
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

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localClients, uint64(n))
}

func SetBroadcastFanout(n int) {
	HubBroadcastFanout.Set(float64(n))
	atomic.StoreUint64(&localFanout, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge; call once at startup.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrTCPRead, ErrTCPWrite, ErrHandshake,
		ErrLinkWrite, ErrLinkOverrun, ErrSerialIO,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers the function backing /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // not set yet: report ready so the endpoint doesn't flap
		return true
	}
	return fn()
}
