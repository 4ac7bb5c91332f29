package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector backed by Prometheus.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	msgsIn        prometheus.Counter
	bytesIn       prometheus.Counter
	msgsOut       prometheus.Counter
	bytesOut      prometheus.Counter
	stateChanges  *prometheus.CounterVec
	reconnects    *prometheus.CounterVec
	bufferDropped prometheus.Counter
	slowConsumer  prometheus.Counter
	subscriptions prometheus.Gauge
	requests      *prometheus.HistogramVec
	rtt           prometheus.Histogram
}

// Compile-time assertion that PrometheusCollector implements Collector.
var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus creates a Prometheus-backed collector. A nil registerer uses
// prometheus.DefaultRegisterer; an empty namespace defaults to "natsline".
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "natsline"
	}

	p := &PrometheusCollector{reg: reg, namespace: namespace}
	p.ensureRegistered()
	return p
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.msgsIn = register(p.reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace, Subsystem: "conn", Name: "in_msgs_total",
			Help: "Messages delivered by the server.",
		}))
		p.bytesIn = register(p.reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace, Subsystem: "conn", Name: "in_bytes_total",
			Help: "Payload bytes delivered by the server.",
		}))
		p.msgsOut = register(p.reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace, Subsystem: "conn", Name: "out_msgs_total",
			Help: "Messages published by the client.",
		}))
		p.bytesOut = register(p.reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace, Subsystem: "conn", Name: "out_bytes_total",
			Help: "Payload bytes published by the client.",
		}))
		p.stateChanges = register(p.reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace, Subsystem: "conn", Name: "state_changes_total",
			Help: "Connection state transitions by target state.",
		}, []string{"from", "to"}))
		p.reconnects = register(p.reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace, Subsystem: "conn", Name: "reconnects_total",
			Help: "Successful reconnects by endpoint.",
		}, []string{"endpoint"}))
		p.bufferDropped = register(p.reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace, Subsystem: "conn", Name: "reconnect_buffer_dropped_bytes_total",
			Help: "Bytes discarded because the reconnect buffer was full.",
		}))
		p.slowConsumer = register(p.reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace, Subsystem: "subscription", Name: "slow_consumer_dropped_total",
			Help: "Messages dropped because a subscription queue was full.",
		}))
		p.subscriptions = register(p.reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace, Subsystem: "subscription", Name: "active",
			Help: "Live subscriptions.",
		}))
		p.requests = register(p.reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace, Subsystem: "request", Name: "duration_seconds",
			Help:    "Request latency in seconds by outcome.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"outcome"}))
		p.rtt = register(p.reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace, Subsystem: "conn", Name: "rtt_seconds",
			Help:    "Heartbeat round trip time in seconds.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}))
	})
}

// register returns the collector already registered under the same
// descriptor when several connections share one registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (p *PrometheusCollector) RecordMessageIn(bytes int) {
	p.msgsIn.Inc()
	p.bytesIn.Add(float64(bytes))
}

func (p *PrometheusCollector) RecordMessageOut(bytes int) {
	p.msgsOut.Inc()
	p.bytesOut.Add(float64(bytes))
}

func (p *PrometheusCollector) RecordStateChange(from, to string) {
	p.stateChanges.WithLabelValues(from, to).Inc()
}

func (p *PrometheusCollector) RecordReconnect(endpoint string) {
	p.reconnects.WithLabelValues(endpoint).Inc()
}

func (p *PrometheusCollector) RecordBufferDropped(bytes int) {
	p.bufferDropped.Add(float64(bytes))
}

func (p *PrometheusCollector) RecordSlowConsumer() {
	p.slowConsumer.Inc()
}

func (p *PrometheusCollector) SetSubscriptions(n int) {
	p.subscriptions.Set(float64(n))
}

func (p *PrometheusCollector) RecordRequest(outcome string, latency time.Duration) {
	p.requests.WithLabelValues(outcome).Observe(latency.Seconds())
}

func (p *PrometheusCollector) RecordRTT(rtt time.Duration) {
	p.rtt.Observe(rtt.Seconds())
}
