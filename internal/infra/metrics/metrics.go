package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-wide counters exposed on /metrics.
// A dedicated registry keeps tests independent of the global default.
type Metrics struct {
	registry *prometheus.Registry

	DownloadsTotal *prometheus.CounterVec
	BytesWritten   prometheus.Counter
	BatchesTotal   *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		DownloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "larkpull",
			Name:      "downloads_total",
			Help:      "Asset download outcomes by result classification.",
		}, []string{"outcome"}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "larkpull",
			Name:      "bytes_written_total",
			Help:      "Total bytes streamed to disk.",
		}),
		BatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "larkpull",
			Name:      "batches_total",
			Help:      "Finished batches by final status.",
		}, []string{"status"}),
	}

	reg.MustRegister(m.DownloadsTotal, m.BytesWritten, m.BatchesTotal)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
