package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type prometheusObserver struct {
	deliveries   *prometheus.CounterVec
	sendLatency  prometheus.Histogram
	publishes    *prometheus.CounterVec
	queueDepth   prometheus.Gauge
	queueOverdue prometheus.Gauge
}

var (
	deliveryCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletter_delivery_attempts_total",
		Help: "Delivery attempts by outcome",
	}, []string{"outcome"})
	sendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "newsletter_delivery_send_seconds",
		Help:    "Latency of a single email send",
		Buckets: prometheus.DefBuckets,
	})
	publishCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletter_publish_requests_total",
		Help: "Idempotent publish requests by resolution",
	}, []string{"resolution"})
	queueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "newsletter_delivery_queue_depth",
		Help: "Pending delivery tasks",
	})
	queueOverdueGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "newsletter_delivery_queue_overdue",
		Help: "Delivery tasks whose execute_after has passed",
	})
)

// Observer satisfies every observer interface of the service.
type Observer interface {
	DeliveryObserver
	IdempotencyObserver
	QueueObserver
}

func NewPrometheusObserver() Observer {
	return &prometheusObserver{
		deliveries:   deliveryCounter,
		sendLatency:  sendLatency,
		publishes:    publishCounter,
		queueDepth:   queueDepthGauge,
		queueOverdue: queueOverdueGauge,
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (p *prometheusObserver) RecordDelivered() {
	p.deliveries.WithLabelValues("delivered").Inc()
}
func (p *prometheusObserver) RecordRetry() {
	p.deliveries.WithLabelValues("retry").Inc()
}
func (p *prometheusObserver) RecordPermanentFailure() {
	p.deliveries.WithLabelValues("permanent_failure").Inc()
}
func (p *prometheusObserver) RecordAbandoned() {
	p.deliveries.WithLabelValues("abandoned").Inc()
}
func (p *prometheusObserver) ObserveSendLatency(seconds float64) {
	p.sendLatency.Observe(seconds)
}
func (p *prometheusObserver) RecordExecuted() {
	p.publishes.WithLabelValues("executed").Inc()
}
func (p *prometheusObserver) RecordReplayed() {
	p.publishes.WithLabelValues("replayed").Inc()
}
func (p *prometheusObserver) RecordInFlightRejected() {
	p.publishes.WithLabelValues("in_flight").Inc()
}
func (p *prometheusObserver) SetQueueDepth(depth int64) {
	p.queueDepth.Set(float64(depth))
}
func (p *prometheusObserver) SetQueueOverdue(overdue int64) {
	p.queueOverdue.Set(float64(overdue))
}
