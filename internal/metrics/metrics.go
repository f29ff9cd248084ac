package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline holds the checkout pipeline collectors. All record methods
// are nil-safe so components wired without metrics (tests) just skip
// recording.
type Pipeline struct {
	checkouts       *prometheus.CounterVec
	checkoutSeconds prometheus.Histogram
	gatewayCalls    *prometheus.CounterVec
	swept           prometheus.Counter
	outboxPublished prometheus.Counter
}

func NewPipeline() *Pipeline {
	p := &Pipeline{
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "submissions_total",
			Help:      "Checkout submissions by terminal result.",
		}, []string{"result"}),
		checkoutSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "checkout",
			Name:      "submission_duration_seconds",
			Help:      "End-to-end checkout submission latency.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "gateway_calls_total",
			Help:      "Payment gateway calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "reservations_swept_total",
			Help:      "Reservations released by the expiry sweeper.",
		}),
		outboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "outbox_published_total",
			Help:      "Outbox messages handed to the event producer.",
		}),
	}
	prometheus.MustRegister(p.checkouts, p.checkoutSeconds, p.gatewayCalls, p.swept, p.outboxPublished)
	return p
}

func (p *Pipeline) CheckoutResult(result string, elapsed time.Duration) {
	if p == nil {
		return
	}
	p.checkouts.WithLabelValues(result).Inc()
	p.checkoutSeconds.Observe(elapsed.Seconds())
}

func (p *Pipeline) GatewayCall(op, outcome string) {
	if p == nil {
		return
	}
	p.gatewayCalls.WithLabelValues(op, outcome).Inc()
}

func (p *Pipeline) ReservationsSwept(n int) {
	if p == nil {
		return
	}
	p.swept.Add(float64(n))
}

func (p *Pipeline) OutboxPublished(n int) {
	if p == nil {
		return
	}
	p.outboxPublished.Add(float64(n))
}

func Handler() http.Handler {
	return promhttp.Handler()
}
