package runtime

import (
	"errors"
	"net/http"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "sickenflow"

// workerMetrics are the Prometheus collectors updated by the receive loop.
type workerMetrics struct {
	messages   *prometheus.CounterVec
	processing *prometheus.HistogramVec
	inFlight   prometheus.Gauge
}

func newWorkerMetrics(reg prometheus.Registerer) (*workerMetrics, error) {
	messages, err := registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "worker",
		Name:      "messages_total",
		Help:      "Messages handled by the worker, by outcome.",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}
	processing, err := registerCollector(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "worker",
		Name:      "processing_seconds",
		Help:      "Time from receipt to ack or drop, by outcome.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}
	inFlight, err := registerCollector(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "worker",
		Name:      "in_flight",
		Help:      "Messages currently being processed (0 or 1).",
	}))
	if err != nil {
		return nil, err
	}
	return &workerMetrics{messages: messages, processing: processing, inFlight: inFlight}, nil
}

// registerCollector registers c, reusing an identical collector that an
// earlier worker in the same process already registered.
func registerCollector[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

func (m *workerMetrics) observe(outcome Outcome, seconds float64) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(string(outcome)).Inc()
	m.processing.WithLabelValues(string(outcome)).Observe(seconds)
}

func (m *workerMetrics) begin() {
	if m != nil {
		m.inFlight.Inc()
	}
}

func (m *workerMetrics) end() {
	if m != nil {
		m.inFlight.Dec()
	}
}

// decorateTransport wraps the broker clients with Watermill's publish and
// subscribe metrics.
func decorateTransport(reg prometheus.Registerer, subsystem string, pub message.Publisher, sub message.Subscriber) (message.Publisher, message.Subscriber, error) {
	builder := metrics.NewPrometheusMetricsBuilder(reg, metricsNamespace, subsystem)

	decoratedPub, err := builder.DecoratePublisher(pub)
	if err != nil {
		return nil, nil, err
	}
	decoratedSub, err := builder.DecorateSubscriber(sub)
	if err != nil {
		return nil, nil, err
	}
	return decoratedPub, decoratedSub, nil
}

func metricsHandler(reg prometheus.Registerer) http.Handler {
	if gatherer, ok := reg.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}
