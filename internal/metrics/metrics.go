// Package metrics provides the Prometheus metrics of the transfer pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dvetransfer/internal/inbox"
)

const namespace = "dvetransfer"

// Metrics holds the pipeline collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Stage metrics
	ItemsTotal      *prometheus.CounterVec
	PollErrorsTotal *prometheus.CounterVec

	// Batch metrics
	BatchFlushesTotal *prometheus.CounterVec
	BatchItemsTotal   prometheus.Counter
	BatchBytesTotal   prometheus.Counter
	LayersCreated     prometheus.Counter

	StartTime time.Time
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	m := &Metrics{registry: reg, StartTime: time.Now()}

	m.ItemsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_items_total",
			Help:      "Inbox entries handled per stage and outcome",
		},
		[]string{"stage", "outcome"},
	)
	m.PollErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_poll_errors_total",
			Help:      "Poll cycles that could not list their inbox",
		},
		[]string{"stage"},
	)

	m.BatchFlushesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_flushes_total",
			Help:      "Batch submissions to the archive by result",
		},
		[]string{"result"},
	)
	m.BatchItemsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_items_submitted_total",
			Help:      "DVEs in successfully submitted batches",
		},
	)
	m.BatchBytesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_bytes_submitted_total",
			Help:      "Bytes in successfully submitted batches",
		},
	)
	m.LayersCreated = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_layers_created_total",
			Help:      "Archive layers opened by the batch assembler",
		},
	)
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the daemon started",
		},
		func() float64 { return time.Since(m.StartTime).Seconds() },
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ItemCompleted implements inbox.Observer.
func (m *Metrics) ItemCompleted(stage string, kind inbox.Kind) {
	m.ItemsTotal.WithLabelValues(stage, kind.String()).Inc()
}

// PollFailed implements inbox.Observer.
func (m *Metrics) PollFailed(stage string) {
	m.PollErrorsTotal.WithLabelValues(stage).Inc()
}

// BatchFlushed records one batch submission.
func (m *Metrics) BatchFlushed(items int, bytes int64, err error) {
	if err != nil {
		m.BatchFlushesTotal.WithLabelValues("failed").Inc()
		return
	}
	m.BatchFlushesTotal.WithLabelValues("submitted").Inc()
	m.BatchItemsTotal.Add(float64(items))
	m.BatchBytesTotal.Add(float64(bytes))
}

// LayerCreated records a new archive layer.
func (m *Metrics) LayerCreated() {
	m.LayersCreated.Inc()
}
