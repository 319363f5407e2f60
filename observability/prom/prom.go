// Package prom exports cablehs events as Prometheus metrics.
package prom

import (
	"net/http"
	"time"

	"github.com/mjl-/cablehs/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Observer exports handshake and transport metrics to Prometheus.
type Observer struct {
	handshakes        *prometheus.CounterVec
	handshakeDuration prometheus.Histogram
	messages          *prometheus.CounterVec
	messageBytes      *prometheus.CounterVec
	eos               *prometheus.CounterVec
	destroyed         prometheus.Counter
}

var _ observability.Observer = (*Observer)(nil)

// NewObserver registers the cablehs metrics on the registry.
func NewObserver(reg prometheus.Registerer) *Observer {
	o := &Observer{
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cablehs_handshakes_total",
			Help: "Handshakes by role and result.",
		}, []string{"role", "result"}),
		handshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cablehs_handshake_duration_seconds",
			Help:    "Duration of handshakes, including failed ones.",
			Buckets: prometheus.DefBuckets,
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cablehs_messages_total",
			Help: "Application messages by direction.",
		}, []string{"direction"}),
		messageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cablehs_message_bytes_total",
			Help: "Plaintext bytes of application messages by direction.",
		}, []string{"direction"}),
		eos: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cablehs_eos_total",
			Help: "End-of-stream markers by direction.",
		}, []string{"direction"}),
		destroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cablehs_destroyed_total",
			Help: "Transports torn down without end-of-stream.",
		}),
	}
	reg.MustRegister(
		o.handshakes,
		o.handshakeDuration,
		o.messages,
		o.messageBytes,
		o.eos,
		o.destroyed,
	)
	return o
}

// Handshake counts the handshake by role and result, and records its duration.
func (o *Observer) Handshake(role observability.Role, result observability.HandshakeResult, d time.Duration) {
	o.handshakes.WithLabelValues(string(role), string(result)).Inc()
	o.handshakeDuration.Observe(d.Seconds())
}

// Message counts the message and its plaintext bytes.
func (o *Observer) Message(dir observability.Direction, size int) {
	o.messages.WithLabelValues(string(dir)).Inc()
	o.messageBytes.WithLabelValues(string(dir)).Add(float64(size))
}

// EOS counts end-of-stream markers.
func (o *Observer) EOS(dir observability.Direction) {
	o.eos.WithLabelValues(string(dir)).Inc()
}

// Destroy counts transports torn down without end-of-stream.
func (o *Observer) Destroy() {
	o.destroyed.Inc()
}
