package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/sawpanic/wsclient/internal/ws"
)

// Collector holds the Prometheus metrics for streaming clients and
// implements ws.Observer
type Collector struct {
	registry *prometheus.Registry

	Connects    *prometheus.CounterVec
	Disconnects *prometheus.CounterVec
	Connected   *prometheus.GaugeVec
	PacketsIn   *prometheus.CounterVec
	PacketsOut  *prometheus.CounterVec
	BytesIn     *prometheus.CounterVec
	BytesOut    *prometheus.CounterVec
	FrameSize   *prometheus.HistogramVec
	Pings       *prometheus.CounterVec
	Errors      *prometheus.CounterVec
}

// NewCollector creates a collector registered on a private registry
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		Connects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsclient_connects_total",
				Help: "Total number of established connections",
			},
			[]string{"host"},
		),

		Disconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsclient_disconnects_total",
				Help: "Total number of torn down connections",
			},
			[]string{"host"},
		),

		Connected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wsclient_connected",
				Help: "Whether the client currently holds a connection (0 or 1)",
			},
			[]string{"host"},
		),

		PacketsIn: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsclient_frames_received_total",
				Help: "Total number of data frames received",
			},
			[]string{"host"},
		),

		PacketsOut: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsclient_frames_sent_total",
				Help: "Total number of data frames sent",
			},
			[]string{"host"},
		),

		BytesIn: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsclient_received_bytes_total",
				Help: "Total payload bytes received",
			},
			[]string{"host"},
		),

		BytesOut: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsclient_sent_bytes_total",
				Help: "Total payload bytes sent",
			},
			[]string{"host"},
		),

		FrameSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wsclient_frame_size_bytes",
				Help:    "Size of data frames by direction",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8),
			},
			[]string{"host", "direction"},
		),

		Pings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsclient_pings_total",
				Help: "Total number of heartbeat frames by result",
			},
			[]string{"host", "result"},
		),

		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wsclient_errors_total",
				Help: "Total number of reported failures by kind",
			},
			[]string{"host", "kind"},
		),
	}

	c.registry.MustRegister(
		c.Connects,
		c.Disconnects,
		c.Connected,
		c.PacketsIn,
		c.PacketsOut,
		c.BytesIn,
		c.BytesOut,
		c.FrameSize,
		c.Pings,
		c.Errors,
	)
	return c
}

var _ ws.Observer = (*Collector)(nil)

func (c *Collector) ObserveConnect(host string) {
	c.Connects.WithLabelValues(host).Inc()
	c.Connected.WithLabelValues(host).Set(1)
}

func (c *Collector) ObserveDisconnect(host string) {
	c.Disconnects.WithLabelValues(host).Inc()
	c.Connected.WithLabelValues(host).Set(0)
}

func (c *Collector) ObserveReceive(host string, bytes int) {
	c.PacketsIn.WithLabelValues(host).Inc()
	c.BytesIn.WithLabelValues(host).Add(float64(bytes))
	c.FrameSize.WithLabelValues(host, "in").Observe(float64(bytes))
}

func (c *Collector) ObserveSend(host string, bytes int) {
	c.PacketsOut.WithLabelValues(host).Inc()
	c.BytesOut.WithLabelValues(host).Add(float64(bytes))
	c.FrameSize.WithLabelValues(host, "out").Observe(float64(bytes))
}

func (c *Collector) ObservePing(host string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.Pings.WithLabelValues(host, result).Inc()
}

func (c *Collector) ObserveError(host string, kind ws.Kind) {
	c.Errors.WithLabelValues(host, kind.String()).Inc()
}

// Registry exposes the collector's registry for additional metrics
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// HostSnapshot is the current metric values for one host
type HostSnapshot struct {
	Connects    float64            `json:"connects"`
	Disconnects float64            `json:"disconnects"`
	Connected   bool               `json:"connected"`
	PacketsIn   float64            `json:"packets_in"`
	PacketsOut  float64            `json:"packets_out"`
	BytesIn     float64            `json:"bytes_in"`
	BytesOut    float64            `json:"bytes_out"`
	PingsOK     float64            `json:"pings_ok"`
	PingsFailed float64            `json:"pings_failed"`
	Errors      map[string]float64 `json:"errors"`
}

// Snapshot reads the current values for host back out of the metrics
func (c *Collector) Snapshot(host string) HostSnapshot {
	snap := HostSnapshot{
		Connects:    counterValue(c.Connects, host),
		Disconnects: counterValue(c.Disconnects, host),
		Connected:   gaugeValue(c.Connected, host) > 0,
		PacketsIn:   counterValue(c.PacketsIn, host),
		PacketsOut:  counterValue(c.PacketsOut, host),
		BytesIn:     counterValue(c.BytesIn, host),
		BytesOut:    counterValue(c.BytesOut, host),
		PingsOK:     counterValue(c.Pings, host, "ok"),
		PingsFailed: counterValue(c.Pings, host, "error"),
		Errors:      make(map[string]float64),
	}

	kinds := []ws.Kind{
		ws.KindUnexpected, ws.KindTransport, ws.KindTimeout, ws.KindDecode,
		ws.KindEncode, ws.KindCallback, ws.KindHeartbeat,
	}
	for _, kind := range kinds {
		if v := counterValue(c.Errors, host, kind.String()); v > 0 {
			snap.Errors[kind.String()] = v
		}
	}
	return snap
}

func counterValue(vec *prometheus.CounterVec, labels ...string) float64 {
	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(vec *prometheus.GaugeVec, labels ...string) float64 {
	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
