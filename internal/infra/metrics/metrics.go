package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Collectors struct {
	ingestRequests *prometheus.CounterVec
	signatures     prometheus.Counter
	forwards       *prometheus.CounterVec
	forwardLatency prometheus.Histogram
	outboxPending  prometheus.Gauge
}

// New creates the gateway collectors and registers them on reg, or on the
// default registerer when reg is nil.
func New(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collectors{
		ingestRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorgw_ingest_requests_total",
			Help: "Ingest requests by outcome.",
		}, []string{"outcome"}),
		signatures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensorgw_signatures_total",
			Help: "Envelopes signed.",
		}),
		forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorgw_forward_total",
			Help: "Forward attempts by result.",
		}, []string{"result"}),
		forwardLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sensorgw_forward_latency_seconds",
			Help:    "Time spent delivering one envelope to the backend.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		outboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensorgw_outbox_pending",
			Help: "Envelopes waiting in the outbox for redelivery.",
		}),
	}
	reg.MustRegister(c.ingestRequests, c.signatures, c.forwards, c.forwardLatency, c.outboxPending)
	return c
}

func (c *Collectors) IngestOutcome(outcome string) {
	if c == nil {
		return
	}
	c.ingestRequests.WithLabelValues(outcome).Inc()
}

func (c *Collectors) SignatureCreated() {
	if c == nil {
		return
	}
	c.signatures.Inc()
}

func (c *Collectors) ForwardResult(result string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.forwards.WithLabelValues(result).Inc()
	if elapsed > 0 {
		c.forwardLatency.Observe(elapsed.Seconds())
	}
}

func (c *Collectors) OutboxPending(n int) {
	if c == nil {
		return
	}
	c.outboxPending.Set(float64(n))
}
