// Package metrics exposes transfer counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/jaywantadh/ThreadByte/internal/transfer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "threadbyte"

// Metrics holds the collectors of one process on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	ChunksPosted    prometheus.Counter
	BytesUploaded   prometheus.Counter
	ChunksFetched   prometheus.Counter
	BytesDownloaded prometheus.Counter
	PagesListed     prometheus.Counter
	Transfers       *prometheus.CounterVec
	ActiveTransfers prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ChunksPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_posted_total",
			Help:      "Total chunks posted to channels.",
		}),
		BytesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_uploaded_total",
			Help:      "Total raw bytes uploaded.",
		}),
		ChunksFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_fetched_total",
			Help:      "Total chunks fetched from channels.",
		}),
		BytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_downloaded_total",
			Help:      "Total raw bytes written by downloads.",
		}),
		PagesListed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_listed_total",
			Help:      "Total message listing pages requested.",
		}),
		Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Finished transfers by kind and outcome.",
		}, []string{"kind", "outcome"}),
		ActiveTransfers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_transfers",
			Help:      "Transfers started and not yet finished.",
		}),
	}

	m.registry.MustRegister(
		m.ChunksPosted, m.BytesUploaded, m.ChunksFetched, m.BytesDownloaded,
		m.PagesListed, m.Transfers, m.ActiveTransfers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ChunkPosted(bytes int) {
	m.ChunksPosted.Inc()
	m.BytesUploaded.Add(float64(bytes))
}

func (m *Metrics) ChunkFetched(bytes int) {
	m.ChunksFetched.Inc()
	m.BytesDownloaded.Add(float64(bytes))
}

func (m *Metrics) PageListed() {
	m.PagesListed.Inc()
}

func (m *Metrics) TransferStarted(transfer.Kind) {
	m.ActiveTransfers.Inc()
}

func (m *Metrics) TransferFinished(kind transfer.Kind, status transfer.Status) {
	m.ActiveTransfers.Dec()
	m.Transfers.WithLabelValues(string(kind), string(status)).Inc()
}
