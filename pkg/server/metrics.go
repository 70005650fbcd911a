package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/crystal-mush/mudtelnet/pkg/capstore"
	"github.com/crystal-mush/mudtelnet/pkg/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors. It subscribes to the
// event bus for counters and polls the connection manager for gauges.
type Metrics struct {
	conns     *ConnManager
	startTime time.Time
	gatherer  prometheus.Gatherer

	sessionsOpen     *prometheus.GaugeVec
	connectionsTotal *prometheus.CounterVec
	negotiations     *prometheus.CounterVec
	gameMessages     *prometheus.CounterVec
	clientsByColor   *prometheus.CounterVec
	bytesSentTotal   prometheus.Counter
	bytesRecvTotal   prometheus.Counter
	uptimeSeconds    prometheus.Gauge
	memoryHeapBytes  prometheus.Gauge
	goroutines       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// gets a private registry, so several servers can live in one process.
func NewMetrics(reg prometheus.Registerer, startTime time.Time) *Metrics {
	var gatherer prometheus.Gatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	} else {
		gatherer = prometheus.DefaultGatherer
	}

	m := &Metrics{
		startTime: startTime,
		gatherer:  gatherer,
		sessionsOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mudtelnet_sessions_open",
			Help: "Number of open sessions by transport.",
		}, []string{"transport"}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mudtelnet_connections_total",
			Help: "Total connections since server start.",
		}, []string{"transport"}),
		negotiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mudtelnet_negotiations_received_total",
			Help: "Negotiation commands received by command and option.",
		}, []string{"command", "option"}),
		gameMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mudtelnet_game_messages_total",
			Help: "Game messages received by type.",
		}, []string{"type"}),
		clientsByColor: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mudtelnet_clients_by_color_total",
			Help: "Finished sessions by the richest colour mode detected.",
		}, []string{"color"}),
		bytesSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mudtelnet_bytes_sent_total",
			Help: "Total bytes sent to finished sessions.",
		}),
		bytesRecvTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mudtelnet_bytes_received_total",
			Help: "Total bytes received from finished sessions.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mudtelnet_uptime_seconds",
			Help: "Server uptime in seconds.",
		}),
		memoryHeapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mudtelnet_memory_heap_bytes",
			Help: "Go heap memory allocated in bytes.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mudtelnet_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	reg.MustRegister(
		m.sessionsOpen,
		m.connectionsTotal,
		m.negotiations,
		m.gameMessages,
		m.clientsByColor,
		m.bytesSentTotal,
		m.bytesRecvTotal,
		m.uptimeSeconds,
		m.memoryHeapBytes,
		m.goroutines,
	)

	return m
}

// Receive implements events.Subscriber.
func (m *Metrics) Receive(ev events.Event) {
	switch ev.Type {
	case events.EvConnect:
		m.connectionsTotal.WithLabelValues(ev.Transport).Inc()
	case events.EvCommand:
		m.gameMessages.WithLabelValues("text").Inc()
	case events.EvGMCP:
		m.gameMessages.WithLabelValues("gmcp").Inc()
	case events.EvMSDP:
		m.gameMessages.WithLabelValues("msdp").Inc()
	case events.EvDisconnect:
		rec, ok := ev.Data["record"].(*capstore.Record)
		if !ok {
			return
		}
		m.clientsByColor.WithLabelValues(rec.Caps.ColorType.String()).Inc()
		m.bytesSentTotal.Add(float64(rec.BytesOut))
		m.bytesRecvTotal.Add(float64(rec.BytesIn))
	}
}

// Closed implements events.Subscriber.
func (m *Metrics) Closed() bool { return false }

// Negotiation counts one received negotiation command.
func (m *Metrics) Negotiation(command, option string) {
	m.negotiations.WithLabelValues(command, option).Inc()
}

// Update refreshes the gauges.
func (m *Metrics) Update() {
	if m.conns != nil {
		for transport, n := range m.conns.CountByTransport() {
			m.sessionsOpen.WithLabelValues(transport).Set(float64(n))
		}
	}

	m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.memoryHeapBytes.Set(float64(mem.HeapAlloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler returns an http.Handler that updates metrics before serving them.
func (m *Metrics) Handler() http.Handler {
	h := promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		h.ServeHTTP(w, r)
	})
}

var _ events.Subscriber = (*Metrics)(nil)
